package alerting

import (
	"errors"
	"fmt"

	"github.com/good-yellow-bee/pondwatch/internal/models"
)

// ThresholdRule bounds one parameter. A nil bound is unbounded.
type ThresholdRule struct {
	Parameter   models.Parameter `yaml:"parameter" json:"parameter"`
	NormalMin   *float64         `yaml:"normal_min,omitempty" json:"normal_min,omitempty"`
	NormalMax   *float64         `yaml:"normal_max,omitempty" json:"normal_max,omitempty"`
	CriticalMin *float64         `yaml:"critical_min,omitempty" json:"critical_min,omitempty"`
	CriticalMax *float64         `yaml:"critical_max,omitempty" json:"critical_max,omitempty"`
}

// Validate checks that the parameter is known and the present bounds are
// ordered critical_min <= normal_min <= normal_max <= critical_max.
func (r *ThresholdRule) Validate() error {
	if r.Parameter == "" {
		return errors.New("parameter is required")
	}
	if _, ok := models.ParseParameter(string(r.Parameter)); !ok {
		return fmt.Errorf("unknown parameter: %q", r.Parameter)
	}

	bounds := []struct {
		name string
		v    *float64
	}{
		{"critical_min", r.CriticalMin},
		{"normal_min", r.NormalMin},
		{"normal_max", r.NormalMax},
		{"critical_max", r.CriticalMax},
	}
	for i := 0; i < len(bounds); i++ {
		if bounds[i].v == nil {
			continue
		}
		for j := i + 1; j < len(bounds); j++ {
			if bounds[j].v == nil {
				continue
			}
			if *bounds[i].v > *bounds[j].v {
				return fmt.Errorf("%s: %s (%g) must not exceed %s (%g)",
					r.Parameter, bounds[i].name, *bounds[i].v, bounds[j].name, *bounds[j].v)
			}
		}
	}
	return nil
}

// BreachState is the result of checking one value against a rule.
type BreachState int

const (
	BreachNone BreachState = iota
	BreachNormalLow
	BreachNormalHigh
	BreachCriticalLow
	BreachCriticalHigh
)

func (s BreachState) String() string {
	switch s {
	case BreachNone:
		return "none"
	case BreachNormalLow:
		return "normal-low"
	case BreachNormalHigh:
		return "normal-high"
	case BreachCriticalLow:
		return "critical-low"
	case BreachCriticalHigh:
		return "critical-high"
	default:
		return "unknown"
	}
}

// Critical reports whether the state is a critical-band breach.
func (s BreachState) Critical() bool {
	return s == BreachCriticalLow || s == BreachCriticalHigh
}

// Direction returns which side of the band was breached.
func (s BreachState) Direction() models.Direction {
	switch s {
	case BreachNormalLow, BreachCriticalLow:
		return models.DirectionLow
	case BreachNormalHigh, BreachCriticalHigh:
		return models.DirectionHigh
	default:
		return ""
	}
}

// Check classifies v. Critical bounds are checked first; the returned
// bound is the one that was crossed.
func (r *ThresholdRule) Check(v float64) (BreachState, float64) {
	switch {
	case r.CriticalMin != nil && v < *r.CriticalMin:
		return BreachCriticalLow, *r.CriticalMin
	case r.CriticalMax != nil && v > *r.CriticalMax:
		return BreachCriticalHigh, *r.CriticalMax
	case r.NormalMin != nil && v < *r.NormalMin:
		return BreachNormalLow, *r.NormalMin
	case r.NormalMax != nil && v > *r.NormalMax:
		return BreachNormalHigh, *r.NormalMax
	default:
		return BreachNone, 0
	}
}

// SeverityFor maps a breach on a parameter to an alert severity.
// Critical-band breaches are always critical; normal-band breaches of the
// life-support parameters are high, everything else is medium.
func SeverityFor(p models.Parameter, state BreachState) models.Severity {
	if state == BreachNone {
		return ""
	}
	if state.Critical() {
		return models.SeverityCritical
	}
	switch p {
	case models.ParamTemperature, models.ParamPH, models.ParamDissolvedOxygen:
		return models.SeverityHigh
	default:
		return models.SeverityMedium
	}
}

// Catalog is the read-only set of threshold rules, one per parameter.
type Catalog struct {
	rules map[models.Parameter]*ThresholdRule
}

// NewCatalog validates rules and builds a catalog. Duplicate parameters are rejected.
func NewCatalog(rules []*ThresholdRule) (*Catalog, error) {
	c := &Catalog{rules: make(map[models.Parameter]*ThresholdRule, len(rules))}
	for i, rule := range rules {
		if rule == nil {
			return nil, fmt.Errorf("rule at index %d is empty", i)
		}
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("invalid rule at index %d: %w", i, err)
		}
		if _, dup := c.rules[rule.Parameter]; dup {
			return nil, fmt.Errorf("duplicate rule for parameter %q", rule.Parameter)
		}
		c.rules[rule.Parameter] = rule
	}
	return c, nil
}

// DefaultRules returns the built-in threshold table.
func DefaultRules() []*ThresholdRule {
	f := models.Float
	return []*ThresholdRule{
		{Parameter: models.ParamTemperature, CriticalMin: f(15), NormalMin: f(20), NormalMax: f(30), CriticalMax: f(35)},
		{Parameter: models.ParamPH, CriticalMin: f(6.0), NormalMin: f(6.5), NormalMax: f(8.5), CriticalMax: f(9.0)},
		{Parameter: models.ParamDissolvedOxygen, CriticalMin: f(3.0), NormalMin: f(5.0), NormalMax: f(15.0), CriticalMax: f(20.0)},
		{Parameter: models.ParamTurbidity, NormalMax: f(10), CriticalMax: f(20)},
		{Parameter: models.ParamAmmonia, NormalMax: f(0.5), CriticalMax: f(1.0)},
		{Parameter: models.ParamNitrite, NormalMax: f(0.5), CriticalMax: f(1.0)},
		{Parameter: models.ParamNitrate, NormalMax: f(40), CriticalMax: f(80)},
		{Parameter: models.ParamWaterLevel, CriticalMin: f(0.2), NormalMin: f(0.5), NormalMax: f(3.0), CriticalMax: f(4.0)},
	}
}

// DefaultCatalog returns a catalog of DefaultRules.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultRules())
	if err != nil {
		panic(fmt.Sprintf("default thresholds invalid: %v", err))
	}
	return c
}

// Rule returns the rule for p, or nil.
func (c *Catalog) Rule(p models.Parameter) *ThresholdRule {
	return c.rules[p]
}

// Rules returns the rules in parameter order.
func (c *Catalog) Rules() []*ThresholdRule {
	out := make([]*ThresholdRule, 0, len(c.rules))
	for _, p := range models.Parameters {
		if r, ok := c.rules[p]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Len returns the number of rules.
func (c *Catalog) Len() int {
	return len(c.rules)
}

// CatalogConfig is the YAML document shape of a thresholds file.
type CatalogConfig struct {
	Thresholds []*ThresholdRule `yaml:"thresholds"`
}
