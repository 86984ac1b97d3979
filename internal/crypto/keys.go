package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
)

// ActorID identifies a participant. It is the actor's Ed25519 public key,
// so every identity can verify signatures over payloads it authored.
type ActorID [ActorIDSize]byte

// ActorIDFromPublicKey converts an Ed25519 public key into an ActorID.
func ActorIDFromPublicKey(pub ed25519.PublicKey) ActorID {
	var id ActorID
	copy(id[:], pub)
	return id
}

// PublicKey returns the actor's identity as an Ed25519 public key.
func (a ActorID) PublicKey() ed25519.PublicKey {
	return ed25519.PublicKey(a[:])
}

// IsZero reports whether the identity is unset.
func (a ActorID) IsZero() bool {
	return a == ActorID{}
}

func (a ActorID) String() string {
	return hex.EncodeToString(a[:])
}

// MarshalText encodes the identity as lowercase hex for JSON and YAML.
func (a ActorID) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(a[:])), nil
}

// UnmarshalText decodes a hex-encoded identity.
func (a *ActorID) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("decode actor id: %w", err)
	}
	if len(raw) != ActorIDSize {
		return fmt.Errorf("decode actor id: want %d bytes, got %d", ActorIDSize, len(raw))
	}
	copy(a[:], raw)
	return nil
}
