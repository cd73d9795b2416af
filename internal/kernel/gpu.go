package kernel

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/solosha/solominer/internal/header"
)

// GPUKernel stands in for a compute-shader dispatch: it shards the
// requested nonce range across a fixed number of goroutines, one per
// simulated compute unit, each hashing its slice independently. Per-nonce
// arithmetic is identical to CPUKernel (same bytes get hashed, so the two
// kernels are bit-identical on the same input) but a winning nonce is
// reported byte-swapped, matching the big-endian word register layout the
// original Metal kernel used — Engine corrects for this via NonceDomain.
type GPUKernel struct {
	counters
	shards int

	failNext atomic.Bool
}

// NewGPUKernel returns a kernel sharded across shards simulated compute
// units. shards < 1 is treated as 1.
func NewGPUKernel(shards int) *GPUKernel {
	if shards < 1 {
		shards = 1
	}
	return &GPUKernel{shards: shards}
}

func (k *GPUKernel) NonceDomain() NonceDomain { return DomainBE }

// InjectDispatchFailure forces the next Search call to fail with
// ErrDispatchFailed, simulating a hardware dispatch error. Test-only hook.
func (k *GPUKernel) InjectDispatchFailure() {
	k.failNext.Store(true)
}

type shardResult struct {
	found bool
	nonce uint32 // actual nonce, not yet byte-swapped
}

func (k *GPUKernel) Search(hdr []byte, target Target, base uint32, count uint64) (uint32, bool, error) {
	if k.failNext.CompareAndSwap(true, false) {
		return 0, false, ErrDispatchFailed
	}
	if len(hdr) != header.Size {
		return 0, false, fmt.Errorf("kernel: header must be %d bytes, got %d", header.Size, len(hdr))
	}
	count = clampRange(base, count)
	if count == 0 {
		return 0, false, nil
	}

	shardCount := uint64(k.shards)
	if shardCount > count {
		shardCount = count
	}
	per := count / shardCount
	rem := count % shardCount

	results := make(chan shardResult, shardCount)
	var wg sync.WaitGroup

	offset := uint64(0)
	for s := uint64(0); s < shardCount; s++ {
		n := per
		if s < rem {
			n++
		}
		start := base + uint32(offset)
		offset += n

		wg.Add(1)
		go func(start uint32, n uint64) {
			defer wg.Done()
			k.searchShard(hdr, target, start, n, results)
		}(start, n)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	found := false
	var winner uint32
	for r := range results {
		if r.found && (!found || r.nonce < winner) {
			winner = r.nonce
			found = true
		}
	}
	if !found {
		return 0, false, nil
	}
	return bits.ReverseBytes32(winner), true, nil
}

func (k *GPUKernel) searchShard(hdr []byte, target Target, start uint32, n uint64, results chan<- shardResult) {
	buf := make([]byte, len(hdr))
	copy(buf, hdr)

	var tried uint64
	for i := uint64(0); i < n; i++ {
		nonce := start + uint32(i)
		binary.LittleEndian.PutUint32(buf[len(buf)-4:], nonce)
		digest := header.Sha256D(buf)
		tried++
		k.updateBest(digest)

		if hashBelowTarget(digest, target) {
			k.addHashes(tried)
			results <- shardResult{found: true, nonce: nonce}
			return
		}
	}
	k.addHashes(tried)
	results <- shardResult{found: false}
}
