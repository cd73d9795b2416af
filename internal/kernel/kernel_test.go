package kernel

import (
	"math/big"
	"math/bits"
	"strings"
	"testing"

	"github.com/solosha/solominer/internal/header"
)

func zeroHeader(t *testing.T) []byte {
	t.Helper()
	merkle := make([]byte, 32)
	h, err := header.Build("00000000", strings.Repeat("00", 32), merkle, "00000000", "00000000")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return h
}

func maxTarget() Target {
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	return NewTarget(max)
}

func tinyTarget() Target {
	return NewTarget(big.NewInt(1))
}

func TestCPUKernelFindsWinnerAgainstMaxTarget(t *testing.T) {
	hdr := zeroHeader(t)
	k := NewCPUKernel()

	nonce, found, err := k.Search(hdr, maxTarget(), 0, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !found {
		t.Fatal("expected a winner against the maximum target")
	}
	if nonce != 0 {
		t.Fatalf("expected nonce 0, got %d", nonce)
	}
	if got := k.HashesTried(); got != 1 {
		t.Fatalf("HashesTried = %d, want 1", got)
	}
	if got := k.HashesTried(); got != 0 {
		t.Fatalf("HashesTried should reset to 0 after read, got %d", got)
	}
}

func TestCPUKernelExhaustsRangeAgainstTinyTarget(t *testing.T) {
	hdr := zeroHeader(t)
	k := NewCPUKernel()

	_, found, err := k.Search(hdr, tinyTarget(), 0, 65536)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if found {
		t.Fatal("did not expect a winner against a target of 1")
	}

	_, found, err = k.Search(hdr, tinyTarget(), 65536, 65536)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if found {
		t.Fatal("did not expect a winner against a target of 1")
	}

	if got := k.HashesTried(); got != 131072 {
		t.Fatalf("HashesTried = %d, want 131072", got)
	}
}

func TestCPUKernelNonceWithinRange(t *testing.T) {
	hdr := zeroHeader(t)
	k := NewCPUKernel()

	nonce, found, err := k.Search(hdr, maxTarget(), 1000, 500)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !found {
		t.Fatal("expected a winner")
	}
	if nonce < 1000 || nonce >= 1500 {
		t.Fatalf("nonce %d outside requested range [1000,1500)", nonce)
	}
}

func TestGPUKernelMatchesCPUKernel(t *testing.T) {
	hdr := zeroHeader(t)
	cpu := NewCPUKernel()
	gpu := NewGPUKernel(4)

	target := maxTarget()

	cpuNonce, cpuFound, err := cpu.Search(hdr, target, 0, 2000)
	if err != nil {
		t.Fatalf("cpu Search: %v", err)
	}

	gpuNonceRaw, gpuFound, err := gpu.Search(hdr, target, 0, 2000)
	if err != nil {
		t.Fatalf("gpu Search: %v", err)
	}

	if cpuFound != gpuFound {
		t.Fatalf("found mismatch: cpu=%v gpu=%v", cpuFound, gpuFound)
	}

	gpuNonce := gpuNonceRaw
	if gpu.NonceDomain() == DomainBE {
		gpuNonce = bits.ReverseBytes32(gpuNonceRaw)
	}

	if gpuFound && gpuNonce != cpuNonce {
		t.Fatalf("winning nonce mismatch: cpu=%d gpu(corrected)=%d", cpuNonce, gpuNonce)
	}

	if cpu.BestShareBits() != gpu.BestShareBits() {
		t.Fatalf("best share bits mismatch: cpu=%d gpu=%d", cpu.BestShareBits(), gpu.BestShareBits())
	}
}

func TestGPUKernelDispatchFailureInjection(t *testing.T) {
	hdr := zeroHeader(t)
	gpu := NewGPUKernel(2)
	gpu.InjectDispatchFailure()

	_, _, err := gpu.Search(hdr, maxTarget(), 0, 10)
	if err != ErrDispatchFailed {
		t.Fatalf("expected ErrDispatchFailed, got %v", err)
	}

	// the injected failure is one-shot
	_, _, err = gpu.Search(hdr, maxTarget(), 0, 10)
	if err != nil {
		t.Fatalf("expected no error on second call, got %v", err)
	}
}

func TestNewTargetWordSplit(t *testing.T) {
	be := make([]byte, 32)
	// word[1] (bytes 4..8) = 0xFFFF0000, everything else zero.
	be[4], be[5], be[6], be[7] = 0xFF, 0xFF, 0x00, 0x00

	target := NewTarget(new(big.Int).SetBytes(be))

	if target[0] != 0 {
		t.Fatalf("word[0] = %08x, want 0", target[0])
	}
	if target[1] != 0xFFFF0000 {
		t.Fatalf("word[1] = %08x, want ffff0000", target[1])
	}
	for i := 2; i < 8; i++ {
		if target[i] != 0 {
			t.Fatalf("word[%d] = %08x, want 0", i, target[i])
		}
	}
}

func TestHashesTriedAccumulatesAcrossShards(t *testing.T) {
	hdr := zeroHeader(t)
	gpu := NewGPUKernel(8)

	_, _, err := gpu.Search(hdr, tinyTarget(), 0, 10000)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got := gpu.HashesTried(); got != 10000 {
		t.Fatalf("HashesTried = %d, want 10000", got)
	}
}
