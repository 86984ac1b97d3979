package network

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veritrace/veritrace/internal/crypto"
)

func TestGenerateAndValidateCertificate(t *testing.T) {
	pub, prv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	cert, err := GenerateCertificate(CertConfig{
		PublicKey:  pub,
		PrivateKey: prv,
		Validity:   time.Hour,
	})
	require.NoError(t, err)

	v := CertValidator{}
	require.NoError(t, v.ValidateCertificate(cert.Leaf))

	actor, err := v.ExtractActorID(cert.Leaf)
	require.NoError(t, err)
	assert.Equal(t, crypto.ActorIDFromPublicKey(pub), actor)

	require.Len(t, cert.Leaf.DNSNames, 1)
	assert.Equal(t, EncodePubKeyToDNS(pub), cert.Leaf.DNSNames[0])
	assert.Len(t, cert.Leaf.DNSNames[0], encodedDNSNameLen)
}

func TestValidateExpiredCertificate(t *testing.T) {
	pub, prv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	cert, err := GenerateCertificate(CertConfig{
		PublicKey:  pub,
		PrivateKey: prv,
		Validity:   -time.Hour,
	})
	require.NoError(t, err)

	v := CertValidator{}
	assert.Error(t, v.ValidateCertificate(cert.Leaf))
}

func TestValidateMismatchedDNSName(t *testing.T) {
	pub, prv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	otherPub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	cert, err := GenerateCertificate(CertConfig{
		PublicKey:  pub,
		PrivateKey: prv,
		Validity:   time.Hour,
	})
	require.NoError(t, err)

	// Rewriting the DNS name to another key must be detected.
	cert.Leaf.DNSNames[0] = EncodePubKeyToDNS(otherPub)
	v := CertValidator{}
	assert.Error(t, v.ValidateCertificate(cert.Leaf))
}
