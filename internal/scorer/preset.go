package scorer

import (
	"fmt"
	"sort"
	"trader-bot/internal/models"
)

// Preset holds the thresholds of one scoring rule set.
type Preset struct {
	Name string

	RSIOversold     float64
	RSIOverbought   float64
	StochOversold   float64
	StochOverbought float64
	VolumeFactor    float64
	FibTolerance    float64

	TrendMinScore   int
	CounterMinScore int
}

var presets = map[string]Preset{
	"relaxed-v2": {
		Name:            "relaxed-v2",
		RSIOversold:     35,
		RSIOverbought:   65,
		StochOversold:   25,
		StochOverbought: 75,
		VolumeFactor:    1.3,
		FibTolerance:    0.01,
		TrendMinScore:   4,
		CounterMinScore: 4,
	},
	"strict-v1": {
		Name:            "strict-v1",
		RSIOversold:     30,
		RSIOverbought:   70,
		StochOversold:   20,
		StochOverbought: 80,
		VolumeFactor:    1.5,
		FibTolerance:    0.01,
		TrendMinScore:   4,
		CounterMinScore: 5,
	},
}

// DefaultPreset is used when no preset is configured.
const DefaultPreset = "relaxed-v2"

// PresetByName looks up a registered preset.
func PresetByName(name string) (Preset, error) {
	p, ok := presets[name]
	if !ok {
		return Preset{}, fmt.Errorf("%w: %q", models.ErrUnknownPreset, name)
	}
	return p, nil
}

// PresetNames lists the registered presets in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
