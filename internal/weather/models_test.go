package weather

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSurgeMultiplier(t *testing.T) {
	tests := []struct {
		text     string
		expected float64
	}{
		{"Clear", 1.0},
		{"", 1.0},
		{"Thunderstorm with light rain", 1.5},
		{"Blizzard", 1.5},
		{"Snowstorm", 1.5},
		{"Light rain", 1.25},
		{"Sleet", 1.25},
		{"Ice pellets", 1.25},
		{"Heavy snow", 1.3},
		{"Overcast clouds", 1.1},
		{"Mist", 1.1},
		{"FOG", 1.1},
		{"Haze", 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.expected, SurgeMultiplier(tt.text))
		})
	}
}

func TestObservation_Label(t *testing.T) {
	tests := []struct {
		name     string
		obs      *Observation
		expected string
	}{
		{"nil", nil, "Clear"},
		{"description", &Observation{Condition: ConditionRain, Description: "light rain"}, "Light rain"},
		{"condition only", &Observation{Condition: ConditionClouds}, "Clouds"},
		{"unknown", &Observation{Condition: ConditionUnknown}, "Clear"},
		{"empty", &Observation{}, "Clear"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.obs.Label())
		})
	}
}

func TestLabelDrivesSurge(t *testing.T) {
	obs := &Observation{Condition: ConditionThunderstorm}
	assert.Equal(t, "Thunderstorm", obs.Label())
	assert.Equal(t, 1.5, SurgeMultiplier(obs.Label()))
}
