// Package activation implements the unified ACT-R memory activation model:
// a pure, side-effect-free computation of how strongly a Statement or Entity
// is retained, combining recency, frequency and importance into a single
// activation value.
//
// Grounded line-for-line on original_source's actr_calculator.py
// (ACTRCalculator.calculate_memory_activation/trim_access_history/
// get_forgetting_curve), translated into idiomatic Go: a Config value
// replaces the Python class's constructor parameters, and every method
// becomes a free function taking Config explicitly rather than a receiver,
// since the whole package is pure math with no identity of its own.
package activation

import (
	"math"
	"sort"
	"time"
)

// Config tunes the activation formula. The zero value is invalid; use
// [DefaultConfig].
type Config struct {
	// DecayConstant is d, the power-law decay exponent. Default: 0.5.
	DecayConstant float64

	// ForgettingRate is λ, controlling how fast activation decays with
	// elapsed time. Default: 0.3.
	ForgettingRate float64

	// Offset is the minimum retention rate; activation never falls below
	// it. Default: 0.1.
	Offset float64

	// MaxHistory bounds how many access timestamps TrimHistory keeps.
	// Default: 100.
	MaxHistory int
}

// DefaultConfig returns the default activation tuning.
func DefaultConfig() Config {
	return Config{
		DecayConstant:  0.5,
		ForgettingRate: 0.3,
		Offset:         0.1,
		MaxHistory:     100,
	}
}

// minElapsedDays avoids a division by zero when current_time equals an
// access time.
const minElapsedDays = 0.0001

// Calculate computes R(i) = offset + (1-offset)*exp(-λ·Δt / Σ(I·t_k^(-d))),
// clamped to [cfg.Offset, 1.0]. accessHistory must be non-empty; importance
// is clamped to [0,1] rather than rejected, since a caller-supplied score
// outside range should degrade gracefully rather than abort a read.
func Calculate(cfg Config, accessHistory []time.Time, now, lastAccess time.Time, importance float64) float64 {
	if len(accessHistory) == 0 {
		return cfg.Offset
	}
	importance = clamp(importance, 0, 1)

	elapsedSinceLast := daysBetween(now, lastAccess)
	if elapsedSinceLast < minElapsedDays {
		elapsedSinceLast = minElapsedDays
	}

	var blaSum float64
	for _, t := range accessHistory {
		elapsed := daysBetween(now, t)
		if elapsed < minElapsedDays {
			elapsed = minElapsedDays
		}
		blaSum += importance * math.Pow(elapsed, -cfg.DecayConstant)
	}
	if blaSum <= 0 {
		blaSum = minElapsedDays
	}

	exponent := -cfg.ForgettingRate * elapsedSinceLast / blaSum
	exponent = clamp(exponent, -100, 100)

	activationValue := cfg.Offset + (1-cfg.Offset)*math.Exp(exponent)
	return clamp(activationValue, cfg.Offset, 1.0)
}

// TrimHistory keeps history unchanged if it fits within cfg.MaxHistory.
// Otherwise it keeps the most recent half and evenly samples the remainder,
// returning the result sorted most-recent-first.
func TrimHistory(cfg Config, history []time.Time) []time.Time {
	if len(history) <= cfg.MaxHistory {
		return history
	}

	sorted := make([]time.Time, len(history))
	copy(sorted, history)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].After(sorted[j]) })

	keepRecent := cfg.MaxHistory / 2
	recent := sorted[:keepRecent]
	older := sorted[keepRecent:]

	sampleCount := cfg.MaxHistory - keepRecent
	var sampledOlder []time.Time
	if len(older) <= sampleCount {
		sampledOlder = older
	} else {
		step := float64(len(older)) / float64(sampleCount)
		sampledOlder = make([]time.Time, sampleCount)
		for i := 0; i < sampleCount; i++ {
			sampledOlder[i] = older[int(float64(i)*step)]
		}
	}

	trimmed := append(append([]time.Time{}, recent...), sampledOlder...)
	sort.Slice(trimmed, func(i, j int) bool { return trimmed[i].After(trimmed[j]) })
	return trimmed
}

// Access folds a new read into history: appends now, trims per cfg, and
// recomputes activation against the freshly trimmed history. Callers are
// responsible for persisting the result via graph.Store.UpdateActivation —
// this function has no store dependency.
func Access(cfg Config, history []time.Time, now time.Time, importance float64) (newHistory []time.Time, newActivation float64) {
	history = append(append([]time.Time{}, history...), now)
	history = TrimHistory(cfg, history)
	return history, Calculate(cfg, history, now, now, importance)
}

// CurvePoint is one day's projected activation in a ForgettingCurve.
type CurvePoint struct {
	Day        int
	Activation float64
}

// ForgettingCurve projects activation for a single access seeded at
// initialTime across the next days days, for visualisation. Grounded on
// get_forgetting_curve, which seeds access_history with exactly one record.
func ForgettingCurve(cfg Config, initialTime time.Time, importance float64, days int) []CurvePoint {
	history := []time.Time{initialTime}
	curve := make([]CurvePoint, 0, days+1)
	for day := 0; day <= days; day++ {
		now := initialTime.Add(time.Duration(day) * 24 * time.Hour)
		curve = append(curve, CurvePoint{
			Day:        day,
			Activation: Calculate(cfg, history, now, initialTime, importance),
		})
	}
	return curve
}

func daysBetween(a, b time.Time) float64 {
	return a.Sub(b).Hours() / 24.0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
