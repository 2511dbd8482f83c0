package anomaly

import (
	"context"
	"fmt"
	"math"

	"github.com/good-yellow-bee/pondwatch/internal/models"
)

// Band is an inclusive [Min, Max] range.
type Band struct {
	Min float64
	Max float64
}

// Ranges holds the normal and critical bands for one parameter.
type Ranges struct {
	Normal   Band
	Critical Band
}

// DefaultRanges returns the rule-based detector's bands. They are wider
// than the alerting catalog for some parameters and narrower for others.
func DefaultRanges() map[models.Parameter]Ranges {
	return map[models.Parameter]Ranges{
		models.ParamTemperature:     {Normal: Band{20, 30}, Critical: Band{15, 35}},
		models.ParamPH:              {Normal: Band{6.5, 8.5}, Critical: Band{6, 9}},
		models.ParamDissolvedOxygen: {Normal: Band{5, 12}, Critical: Band{3, 15}},
		models.ParamTurbidity:       {Normal: Band{0, 50}, Critical: Band{0, 100}},
		models.ParamAmmonia:         {Normal: Band{0, 0.5}, Critical: Band{0, 1}},
		models.ParamNitrite:         {Normal: Band{0, 0.1}, Critical: Band{0, 0.5}},
		models.ParamNitrate:         {Normal: Band{0, 40}, Critical: Band{0, 80}},
		models.ParamWaterLevel:      {Normal: Band{0.3, 3.5}, Critical: Band{0.1, 4.5}},
	}
}

// RangeClassifier scores readings by their relative distance outside the
// normal band. Any critical-band violation scores 1.0.
type RangeClassifier struct {
	ranges map[models.Parameter]Ranges
}

// NewRangeClassifier creates a classifier. A nil map uses DefaultRanges.
func NewRangeClassifier(ranges map[models.Parameter]Ranges) *RangeClassifier {
	if ranges == nil {
		ranges = DefaultRanges()
	}
	return &RangeClassifier{ranges: ranges}
}

// Classify implements Classifier. It never returns an error.
func (c *RangeClassifier) Classify(_ context.Context, reading *models.Reading) (Result, error) {
	var res Result
	for _, p := range models.Parameters {
		v, ok := reading.Value(p)
		if !ok {
			continue
		}
		rg, ok := c.ranges[p]
		if !ok {
			continue
		}

		outside := false
		switch {
		case v < rg.Normal.Min:
			outside = true
			res.Score = math.Max(res.Score, relative(rg.Normal.Min-v, rg.Normal.Min))
			res.Reasons = append(res.Reasons, fmt.Sprintf("%s below normal: %.2f < %g", p, v, rg.Normal.Min))
		case v > rg.Normal.Max:
			outside = true
			res.Score = math.Max(res.Score, relative(v-rg.Normal.Max, rg.Normal.Max))
			res.Reasons = append(res.Reasons, fmt.Sprintf("%s above normal: %.2f > %g", p, v, rg.Normal.Max))
		}

		if v < rg.Critical.Min || v > rg.Critical.Max {
			if !outside {
				res.Reasons = append(res.Reasons, fmt.Sprintf("%s at critical level: %.2f", p, v))
			}
			res.Score = 1.0
		}
	}

	res.Score = math.Min(res.Score, 1.0)
	res.IsAnomaly = len(res.Reasons) > 0
	return res, nil
}

func relative(distance, bound float64) float64 {
	if bound == 0 {
		return distance
	}
	return distance / math.Abs(bound)
}
