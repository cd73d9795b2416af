// Package kernel implements the bounded nonce-range search that turns a
// block header template into either a winning nonce or an exhausted range.
// Two implementations share one contract: a CPU kernel that sweeps nonces
// directly, and a goroutine-sharded "GPU" kernel that stands in for the
// compute-shader dispatch the original Metal implementation used — see
// SPEC_FULL.md §4.2 for why a literal compute-shader binding isn't available
// in this ecosystem.
package kernel

import (
	"errors"
	"sync/atomic"
)

// ErrDispatchFailed reports that a kernel's underlying compute dispatch
// returned an error state instead of a result. The CPU kernel never returns
// it; the GPU kernel can be made to via InjectDispatchFailure for tests.
var ErrDispatchFailed = errors.New("kernel: dispatch failed")

// NonceDomain identifies the numeric domain a kernel natively reports
// winning nonces in. The CPU kernel works directly with actual nonce
// values. The GPU kernel's simulated register layout packs the nonce as a
// big-endian 32-bit word, so a winner it reports must be byte-swapped by
// the caller to recover the actual nonce — see Engine's "nonce endianness
// at submission" handling.
type NonceDomain int

const (
	DomainLE NonceDomain = iota
	DomainBE
)

// Kernel evaluates SHA-256d over a bounded, contiguous range of nonces.
type Kernel interface {
	// Search hashes header (with its trailing nonce field overwritten) for
	// each of the count nonces starting at base. count is clamped so the
	// range ends at 2^32-1 at most; it never wraps back to 0. It returns the first nonce whose hash is below target, in the
	// kernel's native NonceDomain, or found=false if none qualified.
	Search(hdr []byte, target Target, base uint32, count uint64) (nonce uint32, found bool, err error)

	// HashesTried returns the number of hashes evaluated since the last
	// call and resets the counter to zero.
	HashesTried() uint64

	// BestShareBits returns the largest number of leading zero bits (on the
	// little-endian interpretation of the hash) observed across every
	// nonce this kernel has ever evaluated.
	BestShareBits() uint32

	// NonceDomain reports which numeric domain Search's winning nonce is
	// expressed in.
	NonceDomain() NonceDomain
}

// counters holds the atomic bookkeeping shared by both kernel
// implementations: a running hash count and a lock-free best-bits tracker.
type counters struct {
	hashesTried uint64
	bestBits    uint32
}

func (c *counters) addHashes(n uint64) {
	atomic.AddUint64(&c.hashesTried, n)
}

// HashesTried returns the number of hashes evaluated since the last call
// and resets the counter to zero.
func (c *counters) HashesTried() uint64 {
	return atomic.SwapUint64(&c.hashesTried, 0)
}

func (c *counters) updateBest(digest [32]byte) {
	bits := leadingZeroBits(digest)
	for {
		cur := atomic.LoadUint32(&c.bestBits)
		if bits <= cur {
			return
		}
		if atomic.CompareAndSwapUint32(&c.bestBits, cur, bits) {
			return
		}
	}
}

// BestShareBits returns the largest leading-zero-bit count observed so far.
func (c *counters) BestShareBits() uint32 {
	return atomic.LoadUint32(&c.bestBits)
}
