package simulator

import (
	"fmt"
	"sort"
	"time"
	"trader-bot/internal/config"
	"trader-bot/internal/models"
)

// Range is an inclusive uniform range.
type Range struct {
	Min float64
	Max float64
}

// Profile parameterizes the outcome model.
type Profile struct {
	Name string

	BaseWinRate  float64
	StrongBonus  float64
	MediumBonus  float64
	TrendBonus   float64
	VolumeBonus  float64
	WinMultiple  Range
	LossMultiple Range
	Volatility   Range // fraction of price used as the stop distance

	CloseDelayMin time.Duration
	CloseDelayMax time.Duration

	PricePrecision int32

	// After StreakCeiling consecutive losses the win probability is forced to StreakWinRate.
	StreakCeiling int
	StreakWinRate float64
}

var profiles = map[string]Profile{
	"classic": {
		Name:           "classic",
		BaseWinRate:    0.105,
		WinMultiple:    Range{1.5, 3},
		LossMultiple:   Range{-1, -0.8},
		Volatility:     Range{0.01, 0.03},
		CloseDelayMin:  30 * time.Second,
		CloseDelayMax:  150 * time.Second,
		PricePrecision: 2,
		StreakCeiling:  config.AntiStreakCeiling,
		StreakWinRate:  0.8,
	},
	"tiered": {
		Name:           "tiered",
		BaseWinRate:    0.10,
		StrongBonus:    0.05,
		MediumBonus:    0.02,
		TrendBonus:     0.02,
		VolumeBonus:    0.01,
		WinMultiple:    Range{2, 5},
		LossMultiple:   Range{-1, -0.95},
		Volatility:     Range{0.01, 0.04},
		CloseDelayMin:  30 * time.Second,
		CloseDelayMax:  5 * time.Minute,
		PricePrecision: 2,
		StreakCeiling:  config.AntiStreakCeiling,
		StreakWinRate:  0.8,
	},
	"scalper": {
		Name:           "scalper",
		BaseWinRate:    0.11,
		StrongBonus:    0.02,
		MediumBonus:    0.02,
		WinMultiple:    Range{1.5, 3},
		LossMultiple:   Range{-1, -0.8},
		Volatility:     Range{0.01, 0.02},
		CloseDelayMin:  10 * time.Second,
		CloseDelayMax:  60 * time.Second,
		PricePrecision: 4,
		StreakCeiling:  config.AntiStreakCeiling,
		StreakWinRate:  0.8,
	},
}

// DefaultProfile is used when no profile is configured.
const DefaultProfile = "classic"

// ProfileByName looks up a registered profile.
func ProfileByName(name string) (Profile, error) {
	p, ok := profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", models.ErrUnknownProfile, name)
	}
	return p, nil
}

// ProfileNames lists the registered profiles in sorted order.
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
