// Package header assembles the 80-byte Bitcoin block header and the
// coinbase merkle root from the raw fields a Stratum job hands us.
package header

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Size is the length in bytes of a serialized block header.
const Size = 80

// Sha256D returns SHA-256(SHA-256(data)), the digest function used for both
// the coinbase merkle tree and the header proof-of-work check.
func Sha256D(data []byte) [32]byte {
	first := sha256.Sum256(data)
	return sha256.Sum256(first[:])
}

func sha256d(data []byte) []byte {
	d := Sha256D(data)
	return d[:]
}

// ComputeMerkleRoot rebuilds the coinbase transaction from its two halves and
// the per-job extranonces, then folds it up the merkle branch supplied by
// the pool. The branch is walked low-to-high exactly as received; an empty
// branch yields the coinbase's own double-SHA256 hash.
func ComputeMerkleRoot(coinb1, extranonce1, extranonce2, coinb2 []byte, merkleBranch [][]byte) []byte {
	coinbase := make([]byte, 0, len(coinb1)+len(extranonce1)+len(extranonce2)+len(coinb2))
	coinbase = append(coinbase, coinb1...)
	coinbase = append(coinbase, extranonce1...)
	coinbase = append(coinbase, extranonce2...)
	coinbase = append(coinbase, coinb2...)

	root := sha256d(coinbase)
	for _, branch := range merkleBranch {
		buf := make([]byte, 0, len(root)+len(branch))
		buf = append(buf, root...)
		buf = append(buf, branch...)
		root = sha256d(buf)
	}
	return root
}

// reverse flips b in place and returns it.
func reverse(b []byte) []byte {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return b
}

// scramblePrevHash returns a copy of a 32-byte prev-block hash with each of
// its eight 4-byte groups byte-reversed, matching the byte order a Stratum pool sends
// prevhash in (words are individually byte-swapped, group order untouched).
func scramblePrevHash(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	for i := 0; i+4 <= len(out); i += 4 {
		reverse(out[i : i+4])
	}
	return out
}

// decodeReversed hex-decodes a fixed-width field and byte-reverses it, which
// is how version/nbits/ntime arrive on the wire (big-endian hex) versus how
// they belong in the header (little-endian bytes).
func decodeReversed(hexStr string, width int, field string) ([]byte, error) {
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, fmt.Errorf("header: decode %s: %w", field, err)
	}
	if len(b) != width {
		return nil, fmt.Errorf("header: %s must be %d bytes, got %d", field, width, len(b))
	}
	return reverse(b), nil
}

// Build assembles the 80-byte header for nonce = 0. Callers mutate the
// nonce field with WithNonce for each trial rather than re-running Build.
func Build(versionHex, prevHashHex string, merkleRoot []byte, nTimeHex, nBitsHex string) ([]byte, error) {
	version, err := decodeReversed(versionHex, 4, "version")
	if err != nil {
		return nil, err
	}
	prevHash, err := hex.DecodeString(prevHashHex)
	if err != nil {
		return nil, fmt.Errorf("header: decode prev_hash: %w", err)
	}
	if len(prevHash) != 32 {
		return nil, fmt.Errorf("header: prev_hash must be 32 bytes, got %d", len(prevHash))
	}
	if len(merkleRoot) != 32 {
		return nil, fmt.Errorf("header: merkle_root must be 32 bytes, got %d", len(merkleRoot))
	}
	nTime, err := decodeReversed(nTimeHex, 4, "n_time")
	if err != nil {
		return nil, err
	}
	nBits, err := decodeReversed(nBitsHex, 4, "n_bits")
	if err != nil {
		return nil, err
	}

	h := make([]byte, 0, Size)
	h = append(h, version...)
	h = append(h, scramblePrevHash(prevHash)...)
	h = append(h, merkleRoot...)
	h = append(h, nTime...)
	h = append(h, nBits...)
	h = append(h, 0, 0, 0, 0)

	if len(h) != Size {
		panic(fmt.Sprintf("header: assembled header is %d bytes, want %d", len(h), Size))
	}
	return h, nil
}

// WithNonce returns a copy of h with its trailing 4-byte nonce field set to
// the little-endian encoding of nonce.
func WithNonce(h []byte, nonce uint32) []byte {
	out := make([]byte, len(h))
	copy(out, h)
	binary.LittleEndian.PutUint32(out[Size-4:Size], nonce)
	return out
}
