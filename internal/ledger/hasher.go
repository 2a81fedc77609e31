package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"strings"
	"time"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/sha3"
)

// TimestampLayout is the canonical rendering of a block timestamp inside the
// hashed content. It is fixed-width so equal instants always render equally.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Algorithm names a 256-bit hash function usable for block digests.
type Algorithm string

const (
	AlgorithmSHA256  Algorithm = "sha256"
	AlgorithmSHA3256 Algorithm = "sha3-256"
	AlgorithmBLAKE3  Algorithm = "blake3"
)

// Hasher computes block digests. It is stateless and safe for concurrent use.
type Hasher struct {
	alg     Algorithm
	newHash func() hash.Hash
}

// NewHasher returns a Hasher for alg. An empty alg selects SHA-256.
func NewHasher(alg Algorithm) (*Hasher, error) {
	switch Algorithm(strings.ToLower(string(alg))) {
	case "", AlgorithmSHA256:
		return &Hasher{alg: AlgorithmSHA256, newHash: sha256.New}, nil
	case AlgorithmSHA3256:
		return &Hasher{alg: AlgorithmSHA3256, newHash: sha3.New256}, nil
	case AlgorithmBLAKE3:
		return &Hasher{alg: AlgorithmBLAKE3, newHash: func() hash.Hash { return blake3.New() }}, nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", alg)
	}
}

// DefaultHasher is the SHA-256 hasher.
var DefaultHasher = &Hasher{alg: AlgorithmSHA256, newHash: sha256.New}

// Algorithm returns the hash function the Hasher uses.
func (h *Hasher) Algorithm() Algorithm { return h.alg }

// Digest returns the lowercase hex digest of the canonical encoding of
// (seq, prev, payload, ts).
func (h *Hasher) Digest(seq uint64, prev string, payload Payload, ts time.Time) (string, error) {
	data, err := CanonicalBlock(seq, prev, payload, ts)
	if err != nil {
		return "", err
	}
	d := h.newHash()
	d.Write(data)
	return hex.EncodeToString(d.Sum(nil)), nil
}

// CanonicalBlock returns the exact bytes a block digest is computed over: a
// JSON object with sorted keys and no insignificant whitespace.
func CanonicalBlock(seq uint64, prev string, payload Payload, ts time.Time) ([]byte, error) {
	data, err := canonicalPayload(payload)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(map[string]any{
		"block_number":  seq,
		"previous_hash": prev,
		"data":          json.RawMessage(data),
		"timestamp":     FormatTimestamp(ts),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return out, nil
}

// FormatTimestamp renders ts in TimestampLayout.
func FormatTimestamp(ts time.Time) string {
	return ts.UTC().Format(TimestampLayout)
}
