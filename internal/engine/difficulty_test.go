package engine

import "testing"

func TestOptimalDifficultyTargetsShareInterval(t *testing.T) {
	// 100 MH/s steady for the measurement period should suggest a
	// difficulty of hashrate * 20s / 2^32 ~= 0.465.
	const hashrate = 100e6
	got := optimalDifficulty(hashrate)

	want := hashrate * 20 / 4294967296.0
	low, high := want*0.9, want*1.1
	if got < low || got > high {
		t.Fatalf("optimalDifficulty(%g) = %v, want within [%v, %v]", hashrate, got, low, high)
	}
}

func TestOptimalDifficultyClampedToRange(t *testing.T) {
	if got := optimalDifficulty(1); got != minSuggestDifficulty {
		t.Fatalf("optimalDifficulty(1) = %v, want floor %v", got, minSuggestDifficulty)
	}
	if got := optimalDifficulty(1e18); got != maxSuggestDifficulty {
		t.Fatalf("optimalDifficulty(1e18) = %v, want ceiling %v", got, maxSuggestDifficulty)
	}
}

func TestOptimalDifficultyFallsBackToInitialSuggestion(t *testing.T) {
	if got := optimalDifficulty(0); got != initialSuggestDifficulty {
		t.Fatalf("optimalDifficulty(0) = %v, want %v (no hashrate measured yet)", got, initialSuggestDifficulty)
	}
}

func TestShareTargetMonotonicWithDifficulty(t *testing.T) {
	low := shareTarget(0.5)
	high := shareTarget(100)
	if low.Cmp(high) <= 0 {
		t.Fatalf("expected shareTarget to shrink as difficulty grows: diff=0.5 -> %s, diff=100 -> %s", low, high)
	}
}

func TestShareTargetClampedToMax(t *testing.T) {
	// diff1Target is about 2^224, so the quotient only passes 2^256-1 once
	// difficulty drops below roughly 2^-32; 1e-12 lands near 2^264.
	got := shareTarget(1e-12)
	if got.Cmp(maxTarget()) != 0 {
		t.Fatalf("expected shareTarget to clamp to maxTarget for a tiny difficulty, got %s", got)
	}
}

func TestAdaptiveDifficultyFormulaOnSampledHashrate(t *testing.T) {
	// adaptiveDifficultyTimer waits out hashrateMeasurementPeriod before
	// acting; exercising the full wait isn't worth a real-time sleep in a
	// unit test, so this only checks the formula it will use once fired.
	e := New(nil)
	e.counters.setHashrate(100e6)
	snap := e.counters.snapshot()
	got := optimalDifficulty(snap.Hashrate)
	if got <= 0 {
		t.Fatalf("expected a positive suggested difficulty, got %v", got)
	}
}
