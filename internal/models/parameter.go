package models

// Parameter names one measured water-quality quantity.
type Parameter string

const (
	ParamTemperature     Parameter = "temperature"
	ParamPH              Parameter = "ph"
	ParamDissolvedOxygen Parameter = "dissolved_oxygen"
	ParamTurbidity       Parameter = "turbidity"
	ParamAmmonia         Parameter = "ammonia"
	ParamNitrite         Parameter = "nitrite"
	ParamNitrate         Parameter = "nitrate"
	ParamWaterLevel      Parameter = "water_level"

	// ParamAnomaly is the parameter recorded on classifier-sourced alerts.
	ParamAnomaly Parameter = "anomaly"
)

// Parameters lists the measured parameters in evaluation order.
var Parameters = []Parameter{
	ParamTemperature,
	ParamPH,
	ParamDissolvedOxygen,
	ParamTurbidity,
	ParamAmmonia,
	ParamNitrite,
	ParamNitrate,
	ParamWaterLevel,
}

var parameterTitles = map[Parameter]string{
	ParamTemperature:     "Temperature",
	ParamPH:              "Ph",
	ParamDissolvedOxygen: "Dissolved Oxygen",
	ParamTurbidity:       "Turbidity",
	ParamAmmonia:         "Ammonia",
	ParamNitrite:         "Nitrite",
	ParamNitrate:         "Nitrate",
	ParamWaterLevel:      "Water Level",
	ParamAnomaly:         "Anomaly",
}

// Title returns the human-readable parameter name used in alert messages.
func (p Parameter) Title() string {
	if t, ok := parameterTitles[p]; ok {
		return t
	}
	return string(p)
}

// ParseParameter resolves a measured parameter by name.
func ParseParameter(s string) (Parameter, bool) {
	for _, p := range Parameters {
		if string(p) == s {
			return p, true
		}
	}
	return "", false
}
