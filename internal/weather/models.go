package weather

import (
	"errors"
	"strings"
	"time"
)

// Weather errors.
var (
	ErrProviderUnavailable = errors.New("weather provider unavailable")
	ErrInvalidCoordinates  = errors.New("invalid coordinates")
)

// DefaultDescription is reported whenever conditions cannot be determined.
const DefaultDescription = "Clear"

// Observation represents current conditions at a point.
type Observation struct {
	Lat float64
	Lon float64

	// Temperature in Celsius
	Temperature float64

	Condition   Condition
	Description string

	ObservedAt time.Time
	FetchedAt  time.Time
}

// Condition represents the general weather condition.
type Condition string

const (
	ConditionClear        Condition = "CLEAR"
	ConditionClouds       Condition = "CLOUDS"
	ConditionRain         Condition = "RAIN"
	ConditionDrizzle      Condition = "DRIZZLE"
	ConditionThunderstorm Condition = "THUNDERSTORM"
	ConditionSnow         Condition = "SNOW"
	ConditionMist         Condition = "MIST"
	ConditionFog          Condition = "FOG"
	ConditionHaze         Condition = "HAZE"
	ConditionUnknown      Condition = "UNKNOWN"
)

// Label returns the human readable text stored on quotes, e.g. "Light rain".
// The provider's description wins over the coarse condition.
func (o *Observation) Label() string {
	if o == nil {
		return DefaultDescription
	}
	if d := strings.TrimSpace(o.Description); d != "" {
		return strings.ToUpper(d[:1]) + d[1:]
	}
	switch o.Condition {
	case "", ConditionUnknown:
		return DefaultDescription
	}
	c := strings.ToLower(string(o.Condition))
	return strings.ToUpper(c[:1]) + c[1:]
}

// surgeRules are matched in order against the lowercased weather text.
var surgeRules = []struct {
	keywords   []string
	multiplier float64
}{
	{[]string{"thunder", "storm", "blizzard"}, 1.5},
	{[]string{"rain", "sleet", "pellets"}, 1.25},
	{[]string{"snow"}, 1.3},
	{[]string{"cloud", "overcast", "mist", "fog"}, 1.1},
}

// SurgeMultiplier maps free-form weather text to a fare multiplier.
func SurgeMultiplier(text string) float64 {
	w := strings.ToLower(text)
	for _, rule := range surgeRules {
		for _, k := range rule.keywords {
			if strings.Contains(w, k) {
				return rule.multiplier
			}
		}
	}
	return 1.0
}
