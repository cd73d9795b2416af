package kernel

import (
	"encoding/binary"
	"fmt"

	"github.com/solosha/solominer/internal/header"
)

// CPUKernel sweeps nonces on a single goroutine, hashing each candidate
// header with SHA-256d and comparing it against the share target. It is the
// reference implementation both the spec's testable properties and the GPU
// stand-in are checked against.
type CPUKernel struct {
	counters
}

// NewCPUKernel returns a ready-to-use CPU kernel.
func NewCPUKernel() *CPUKernel {
	return &CPUKernel{}
}

func (k *CPUKernel) NonceDomain() NonceDomain { return DomainLE }

func (k *CPUKernel) Search(hdr []byte, target Target, base uint32, count uint64) (uint32, bool, error) {
	if len(hdr) != header.Size {
		return 0, false, fmt.Errorf("kernel: header must be %d bytes, got %d", header.Size, len(hdr))
	}
	count = clampRange(base, count)
	if count == 0 {
		return 0, false, nil
	}

	buf := make([]byte, len(hdr))
	copy(buf, hdr)

	var tried uint64
	for i := uint64(0); i < count; i++ {
		nonce := base + uint32(i)
		binary.LittleEndian.PutUint32(buf[len(buf)-4:], nonce)
		digest := header.Sha256D(buf)
		tried++
		k.updateBest(digest)

		if hashBelowTarget(digest, target) {
			k.addHashes(tried)
			return nonce, true, nil
		}
	}
	k.addHashes(tried)
	return 0, false, nil
}

// clampRange trims count so that base+count never exceeds 2^32 nonces.
func clampRange(base uint32, count uint64) uint64 {
	remaining := (uint64(1) << 32) - uint64(base)
	if count > remaining {
		return remaining
	}
	return count
}
