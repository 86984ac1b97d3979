package network

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"

	"github.com/quic-go/quic-go"
)

// Client is the caller side of the transport. It holds one connection;
// every call runs on its own stream.
type Client struct {
	conn      quic.Connection
	validator CertValidator
}

// Dial connects to a node. The certificate authenticates the caller; its
// key becomes the actor identity for every call on the connection.
func Dial(ctx context.Context, addr string, cert *tls.Certificate) (*Client, error) {
	validator := CertValidator{}
	if err := validator.ValidateCertificate(cert.Leaf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}

	tlsConf := &tls.Config{
		Certificates:       []tls.Certificate{*cert},
		NextProtos:         []string{ProtocolName},
		MinVersion:         tls.VersionTLS13,
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return fmt.Errorf("%w: no peer certificate provided", ErrInvalidCertificate)
			}
			peer, err := x509.ParseCertificate(rawCerts[0])
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
			}
			return validator.ValidateCertificate(peer)
		},
	}

	conn, err := quic.DialAddr(ctx, addr, tlsConf, &quic.Config{
		MaxIdleTimeout: maxIdleTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDialFailed, err)
	}
	return &Client{conn: conn, validator: validator}, nil
}

// Call executes one request. A nil out discards the result payload; a
// failed request returns the server's *WireError.
func (c *Client) Call(ctx context.Context, kind MessageKind, req, out interface{}) error {
	stream, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer stream.Close() //nolint:errcheck

	if _, err := stream.Write([]byte{byte(kind)}); err != nil {
		return fmt.Errorf("write stream kind: %w", err)
	}
	if err := WriteFrame(stream, req); err != nil {
		return err
	}

	payload, err := ReadFrame(stream)
	if err != nil {
		return err
	}
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !resp.OK {
		if resp.Error != nil {
			return resp.Error
		}
		return fmt.Errorf("request failed with no error detail")
	}
	if out != nil && resp.Result != nil {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

// Close tears down the connection.
func (c *Client) Close() error {
	return c.conn.CloseWithError(0, "client closed")
}
