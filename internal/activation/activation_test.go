package activation_test

import (
	"testing"
	"time"

	"github.com/memorybear/engine/internal/activation"
)

func TestCalculate_FreshAccessIsNearMaximum(t *testing.T) {
	t.Parallel()

	cfg := activation.DefaultConfig()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lastAccess := now.Add(-time.Minute)
	history := []time.Time{lastAccess}

	got := activation.Calculate(cfg, history, now, lastAccess, 0.8)
	if got < 0.9 {
		t.Fatalf("Calculate: expected near-maximal activation for a fresh access, got %f", got)
	}
	if got > 1.0 {
		t.Fatalf("Calculate: activation must not exceed 1.0, got %f", got)
	}
}

func TestCalculate_DecaysTowardOffsetOverTime(t *testing.T) {
	t.Parallel()

	cfg := activation.DefaultConfig()
	initial := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	history := []time.Time{initial}

	dayOne := activation.Calculate(cfg, history, initial.Add(24*time.Hour), initial, 0.5)
	dayThirty := activation.Calculate(cfg, history, initial.Add(30*24*time.Hour), initial, 0.5)

	if dayThirty >= dayOne {
		t.Fatalf("Calculate: expected activation to decrease over time, day1=%f day30=%f", dayOne, dayThirty)
	}
	if dayThirty < cfg.Offset {
		t.Fatalf("Calculate: activation must never fall below offset %f, got %f", cfg.Offset, dayThirty)
	}
}

func TestCalculate_EmptyHistoryReturnsOffset(t *testing.T) {
	t.Parallel()

	cfg := activation.DefaultConfig()
	now := time.Now()
	got := activation.Calculate(cfg, nil, now, now, 0.5)
	if got != cfg.Offset {
		t.Fatalf("Calculate: expected offset for empty history, got %f", got)
	}
}

func TestTrimHistory_KeepsUnderLimitUnchanged(t *testing.T) {
	t.Parallel()

	cfg := activation.DefaultConfig()
	cfg.MaxHistory = 10
	now := time.Now()
	history := make([]time.Time, 5)
	for i := range history {
		history[i] = now.Add(-time.Duration(i) * time.Hour)
	}

	got := activation.TrimHistory(cfg, history)
	if len(got) != len(history) {
		t.Fatalf("TrimHistory: expected unchanged length %d, got %d", len(history), len(got))
	}
}

func TestTrimHistory_OverLimitKeepsMostRecentHalfAndSamples(t *testing.T) {
	t.Parallel()

	cfg := activation.DefaultConfig()
	cfg.MaxHistory = 10
	now := time.Now()
	history := make([]time.Time, 100)
	for i := range history {
		history[i] = now.Add(-time.Duration(i) * time.Hour)
	}

	got := activation.TrimHistory(cfg, history)
	if len(got) != cfg.MaxHistory {
		t.Fatalf("TrimHistory: expected trimmed length %d, got %d", cfg.MaxHistory, len(got))
	}
	// Most-recent-first: the newest access (history[0]) must survive.
	if !got[0].Equal(history[0]) {
		t.Fatalf("TrimHistory: expected most recent access to survive as first element")
	}
	for i := 1; i < len(got); i++ {
		if got[i].After(got[i-1]) {
			t.Fatalf("TrimHistory: expected result sorted most-recent-first, index %d out of order", i)
		}
	}
}

func TestAccess_AppendsAndRecomputes(t *testing.T) {
	t.Parallel()

	cfg := activation.DefaultConfig()
	now := time.Now()
	history, act := activation.Access(cfg, nil, now, 0.5)
	if len(history) != 1 {
		t.Fatalf("Access: expected history to grow to 1 entry, got %d", len(history))
	}
	if act < 0.9 {
		t.Fatalf("Access: expected near-maximal activation for an immediate access, got %f", act)
	}
}

func TestForgettingCurve_MonotonicDecay(t *testing.T) {
	t.Parallel()

	cfg := activation.DefaultConfig()
	initial := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	curve := activation.ForgettingCurve(cfg, initial, 0.5, 30)

	if len(curve) != 31 {
		t.Fatalf("ForgettingCurve: expected 31 points for 30 days, got %d", len(curve))
	}
	for i := 1; i < len(curve); i++ {
		if curve[i].Activation > curve[i-1].Activation {
			t.Fatalf("ForgettingCurve: expected non-increasing activation, day %d (%f) > day %d (%f)",
				curve[i].Day, curve[i].Activation, curve[i-1].Day, curve[i-1].Activation)
		}
	}
}
