package testutils

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/veritrace/veritrace/internal/crypto"
)

func RandomHash(t *testing.T) crypto.Hash {
	var h crypto.Hash
	_, err := rand.Read(h[:])
	require.NoError(t, err)
	return h
}

func RandomActorID(t *testing.T) crypto.ActorID {
	var id crypto.ActorID
	_, err := rand.Read(id[:])
	require.NoError(t, err)
	return id
}

// RandomKeyPair generates an Ed25519 key pair and the matching ActorID.
func RandomKeyPair(t *testing.T) (crypto.ActorID, ed25519.PrivateKey) {
	pub, prv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return crypto.ActorIDFromPublicKey(pub), prv
}
