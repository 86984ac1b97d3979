package crypto

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Hash is the 32-byte digest used for item identifiers, nullifiers and
// evidence references throughout the ledger.
type Hash [HashSize]byte

// HashData hashes the input data using Blake2b-256
func HashData(data []byte) Hash {
	return blake2b.Sum256(data)
}

// IsZero reports whether the hash is the all-zero sentinel.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// MarshalText encodes the hash as lowercase hex for JSON and YAML.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(h[:])), nil
}

// UnmarshalText decodes a hex-encoded hash.
func (h *Hash) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("decode hash: %w", err)
	}
	if len(raw) != HashSize {
		return fmt.Errorf("decode hash: want %d bytes, got %d", HashSize, len(raw))
	}
	copy(h[:], raw)
	return nil
}
