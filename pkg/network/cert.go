package network

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base32"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/veritrace/veritrace/internal/crypto"
)

// dnsNamePrefix is prepended to the encoded public key in certificate DNS
// names so they start with a letter.
const dnsNamePrefix = "v"

// encodedDNSNameLen is the prefix plus 32 key bytes in unpadded base32.
const encodedDNSNameLen = 53

var base32Encoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// CertConfig contains the parameters for certificate generation.
type CertConfig struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
	// Validity defines how long the certificate remains valid.
	Validity time.Duration
}

// EncodePubKeyToDNS encodes an Ed25519 public key into a DNS name using
// the custom base32 alphabet.
func EncodePubKeyToDNS(pubKey ed25519.PublicKey) string {
	return dnsNamePrefix + base32Encoding.EncodeToString(pubKey)
}

// GenerateCertificate creates a self-signed TLS certificate carrying the
// node's Ed25519 identity. The encoded public key is the sole DNS name and
// the certificate supports both server and client authentication, so one
// certificate serves inbound and outbound connections.
func GenerateCertificate(cfg CertConfig) (*tls.Certificate, error) {
	dnsName := EncodePubKeyToDNS(cfg.PublicKey)

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial number: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName: dnsName,
		},
		DNSNames:  []string{dnsName},
		NotBefore: time.Now(),
		NotAfter:  time.Now().Add(cfg.Validity),
		KeyUsage:  x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageServerAuth,
			x509.ExtKeyUsageClientAuth,
		},
		SignatureAlgorithm:    x509.PureEd25519,
		PublicKeyAlgorithm:    x509.Ed25519,
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, cfg.PublicKey, cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}

	return &tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  cfg.PrivateKey,
		Leaf:        cert,
	}, nil
}

// CertValidator checks peer certificates and extracts the caller identity.
type CertValidator struct{}

// ValidateCertificate checks that a certificate meets the protocol
// requirements: a pure Ed25519 signature, exactly one DNS name matching
// the encoded public key, and a current validity window.
func (v CertValidator) ValidateCertificate(cert *x509.Certificate) error {
	if cert.SignatureAlgorithm != x509.PureEd25519 {
		return fmt.Errorf("invalid signature algorithm: expected Ed25519")
	}

	pubKey, ok := cert.PublicKey.(ed25519.PublicKey)
	if !ok {
		return fmt.Errorf("certificate public key is not Ed25519")
	}

	if len(cert.DNSNames) != 1 {
		return fmt.Errorf("certificate must have exactly one DNS name")
	}
	dnsName := cert.DNSNames[0]
	if len(dnsName) != encodedDNSNameLen || !strings.HasPrefix(dnsName, dnsNamePrefix) {
		return fmt.Errorf("invalid DNS name format: %s", dnsName)
	}
	if dnsName != EncodePubKeyToDNS(pubKey) {
		return fmt.Errorf("DNS name does not match public key")
	}

	now := time.Now()
	if now.Before(cert.NotBefore) {
		return fmt.Errorf("certificate is not yet valid")
	}
	if now.After(cert.NotAfter) {
		return fmt.Errorf("certificate has expired")
	}
	return nil
}

// ExtractActorID retrieves the caller identity from a peer certificate.
func (v CertValidator) ExtractActorID(cert *x509.Certificate) (crypto.ActorID, error) {
	pubKey, ok := cert.PublicKey.(ed25519.PublicKey)
	if !ok {
		return crypto.ActorID{}, fmt.Errorf("certificate public key is not Ed25519")
	}
	return crypto.ActorIDFromPublicKey(pubKey), nil
}
