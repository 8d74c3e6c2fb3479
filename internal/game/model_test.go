package game

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestGrindXP(t *testing.T) {
	tests := []struct {
		streak int
		want   int64
	}{
		{streak: 0, want: 20},
		{streak: 1, want: 22},
		{streak: 3, want: 26},
		{streak: 10, want: 40},
		{streak: 250, want: 40},
		{streak: -4, want: 20},
	}
	for _, tc := range tests {
		if got := GrindXP(tc.streak); got != tc.want {
			t.Fatalf("streak=%d got=%d want=%d", tc.streak, got, tc.want)
		}
	}
}

func TestParseAction(t *testing.T) {
	if a, err := ParseAction(" Grind "); err != nil || a != ActionGrind {
		t.Fatalf("got %q %v", a, err)
	}
	if _, err := ParseAction("sell_stock"); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("got %v want ErrUnknownAction", err)
	}
}

func TestTierReward(t *testing.T) {
	tests := []struct {
		tiers   []rewardTier
		elapsed time.Duration
		xp      int64
		name    string
	}{
		{tapTiers, -time.Millisecond, 0, "early"},
		{tapTiers, 299 * time.Millisecond, 200, "insane"},
		{tapTiers, 300 * time.Millisecond, 120, "great"},
		{tapTiers, 999 * time.Millisecond, 60, "good"},
		{tapTiers, time.Second, 0, "too_slow"},
		{bombTiers, 399 * time.Millisecond, 200, "insane"},
		{bombTiers, 899 * time.Millisecond, 120, "great"},
		{bombTiers, 1199 * time.Millisecond, 60, "good"},
		{bombTiers, 1200 * time.Millisecond, 0, "too_slow"},
	}
	for _, tc := range tests {
		xp, name := tierReward(tc.tiers, tc.elapsed)
		if xp != tc.xp || name != tc.name {
			t.Fatalf("elapsed=%s got=(%d,%q) want=(%d,%q)", tc.elapsed, xp, name, tc.xp, tc.name)
		}
	}
}

func TestRushPool(t *testing.T) {
	tests := []struct {
		streak int
		want   int
	}{
		{0, 4},
		{2, 4},
		{3, 5},
		{30, 14},
		{300, len(flashSequences) - 1},
	}
	for _, tc := range tests {
		if got := rushPool(tc.streak); got != tc.want {
			t.Fatalf("streak=%d got=%d want=%d", tc.streak, got, tc.want)
		}
	}
}

func TestCorridorMultiplier(t *testing.T) {
	if got := corridorMultiplier(0, 0); got != 1 {
		t.Fatalf("base multiplier=%f", got)
	}
	want := 1.3 * 1.12 * 1.12
	if got := corridorMultiplier(10, 2); math.Abs(got-want) > 1e-9 {
		t.Fatalf("got %f want %f", got, want)
	}
}

func TestValidOnboardingChoice(t *testing.T) {
	for _, c := range []string{"A", "b", "E"} {
		if !validOnboardingChoice(c) {
			t.Fatalf("expected %q to be valid", c)
		}
	}
	for _, c := range []string{"", "F", "AB", "1"} {
		if validOnboardingChoice(c) {
			t.Fatalf("expected %q to be rejected", c)
		}
	}
}
