package membership

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// Hash is the SHA3-256 digest of an event's canonical encoding. It is
// the event's identity in the gossip graph.
type Hash [32]byte

// IsZero reports whether the hash is the zero value.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// String returns the full lowercase hex form.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns an abbreviated hex form for logs.
func (h Hash) Short() string {
	return hex.EncodeToString(h[:4])
}

// MarshalText implements encoding.TextMarshaler (hex).
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("decode hash: %w", err)
	}
	if len(raw) != len(h) {
		return fmt.Errorf("decode hash: want %d bytes, got %d", len(h), len(raw))
	}
	copy(h[:], raw)
	return nil
}

// hashOf computes the SHA3-256 digest of the canonical JSON encoding
// of v. Struct field order makes the encoding stable.
func hashOf(v any) (Hash, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Hash{}, fmt.Errorf("hash: encode: %w", err)
	}
	return sha3.Sum256(raw), nil
}
