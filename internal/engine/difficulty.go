package engine

import (
	"math/big"
	"strconv"
	"time"
)

const (
	// initialSuggestDifficulty is sent immediately after authorization,
	// before any hashrate measurement exists to base a better guess on.
	initialSuggestDifficulty = 0.5

	// hashrateMeasurementPeriod is how long the engine waits, once Mining,
	// before it has enough of a hashrate sample to suggest a better
	// difficulty.
	hashrateMeasurementPeriod = 15 * time.Second

	// targetShareInterval is the expected time between accepted shares the
	// adaptive difficulty suggestion aims for.
	targetShareInterval = 20 * time.Second

	// minSuggestDifficulty/maxSuggestDifficulty bound optimalDifficulty's
	// output regardless of the measured hashrate.
	minSuggestDifficulty = 0.001
	maxSuggestDifficulty = 1000000
)

// diff1Target is the canonical "pool difficulty 1" target: coefficient
// 0x00ffff at exponent 0x1d, i.e. 0xffff << 208.
var diff1Target = new(big.Int).Lsh(big.NewInt(0xffff), 208)

func maxTarget() *big.Int {
	return new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
}

// shareTarget converts a pool-assigned difficulty into the 256-bit target
// the kernel compares hashes against, clamped to a valid [1, 2^256-1] range.
func shareTarget(difficulty float64) *big.Int {
	if difficulty <= 0 {
		difficulty = 1
	}
	dt := new(big.Float).SetInt(diff1Target)
	result := new(big.Float).Quo(dt, big.NewFloat(difficulty))
	t, _ := result.Int(nil)

	if t.Sign() < 1 {
		return big.NewInt(1)
	}
	if max := maxTarget(); t.Cmp(max) > 0 {
		return max
	}
	return t
}

// optimalDifficulty estimates the pool difficulty that would yield a share
// roughly every targetShareInterval at the given hashrate (hashes/second).
// At difficulty d, the expected number of hashes per share is d * 2^32.
// Clamped to [minSuggestDifficulty, maxSuggestDifficulty], then rounded to
// 4 significant figures.
func optimalDifficulty(hashrate float64) float64 {
	if hashrate <= 0 {
		return initialSuggestDifficulty
	}
	d := hashrate * targetShareInterval.Seconds() / 4294967296.0
	if d < minSuggestDifficulty {
		d = minSuggestDifficulty
	}
	if d > maxSuggestDifficulty {
		d = maxSuggestDifficulty
	}
	rounded, err := strconv.ParseFloat(strconv.FormatFloat(d, 'g', 4, 64), 64)
	if err != nil {
		return d
	}
	return rounded
}

// adaptiveDifficultyTimer waits out the measurement period, then suggests a
// better difficulty exactly once based on the hashrate sampled by then.
// Exits early, without suggesting anything, if stop fires first.
func (e *Engine) adaptiveDifficultyTimer(stop <-chan struct{}) {
	select {
	case <-time.After(hashrateMeasurementPeriod):
	case <-stop:
		return
	}

	snap := e.counters.snapshot()
	d := optimalDifficulty(snap.Hashrate)

	if err := e.stratumClient.SuggestDifficulty(d); err != nil {
		e.log.WithError(err).Warn("failed to send adaptive difficulty suggestion")
	}
}
