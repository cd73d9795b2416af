package header

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"
)

func TestBuildKnownVector(t *testing.T) {
	merkleRoot := bytes.Repeat([]byte{0x11}, 32)

	h, err := Build("00000002", strings.Repeat("00", 32), merkleRoot, "5f5e100f", "1d00ffff")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	h = WithNonce(h, 0x0000beef)

	want := "02000000" +
		strings.Repeat("00", 32) +
		strings.Repeat("11", 32) +
		"0f105e5f" +
		"ffff001d" +
		"efbe0000"

	if got := hex.EncodeToString(h); got != want {
		t.Fatalf("header mismatch\n got: %s\nwant: %s", got, want)
	}
}

func TestWithNonceRoundTrip(t *testing.T) {
	merkleRoot := bytes.Repeat([]byte{0xaa}, 32)
	base, err := Build("00000002", strings.Repeat("00", 32), merkleRoot, "00000000", "1d00ffff")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	zero := WithNonce(base, 0)
	for _, b := range zero[76:80] {
		if b != 0 {
			t.Fatalf("expected zeroed nonce field, got %x", zero[76:80])
		}
	}

	withNonce := WithNonce(base, 42)
	if !bytes.Equal(withNonce[:76], zero[:76]) {
		t.Fatalf("WithNonce must not touch bytes before the nonce field")
	}
	if withNonce[76] != 42 || withNonce[77] != 0 || withNonce[78] != 0 || withNonce[79] != 0 {
		t.Fatalf("nonce not packed little-endian: %x", withNonce[76:80])
	}
}

func TestComputeMerkleRootEmptyBranch(t *testing.T) {
	root := ComputeMerkleRoot(
		[]byte{0x01},
		[]byte{0x03},
		[]byte{0x04},
		[]byte{0x02},
		nil,
	)
	want := sha256d([]byte{0x01, 0x03, 0x04, 0x02})
	if !bytes.Equal(root, want) {
		t.Fatalf("merkle root mismatch\n got: %x\nwant: %x", root, want)
	}
}

func TestComputeMerkleRootWithBranch(t *testing.T) {
	coinbaseHash := sha256d([]byte{0xaa, 0xbb})
	branch := []byte{0xcc, 0xdd}

	got := ComputeMerkleRoot([]byte{0xaa}, nil, nil, []byte{0xbb}, [][]byte{branch})

	buf := append(append([]byte{}, coinbaseHash...), branch...)
	want := sha256d(buf)

	if !bytes.Equal(got, want) {
		t.Fatalf("merkle root with branch mismatch\n got: %x\nwant: %x", got, want)
	}
}

func TestBuildRejectsBadLengths(t *testing.T) {
	merkleRoot := bytes.Repeat([]byte{0x11}, 32)

	if _, err := Build("0002", strings.Repeat("00", 32), merkleRoot, "5f5e100f", "1d00ffff"); err == nil {
		t.Fatal("expected error for short version field")
	}
	if _, err := Build("00000002", strings.Repeat("00", 31), merkleRoot, "5f5e100f", "1d00ffff"); err == nil {
		t.Fatal("expected error for short prev_hash")
	}
	if _, err := Build("00000002", strings.Repeat("00", 32), merkleRoot[:31], "5f5e100f", "1d00ffff"); err == nil {
		t.Fatal("expected error for short merkle root")
	}
}
