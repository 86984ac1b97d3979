package network

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"golang.org/x/time/rate"

	"github.com/veritrace/veritrace/internal/crypto"
	"github.com/veritrace/veritrace/pkg/log"
)

// ProtocolName is the ALPN identifier negotiated by both sides.
const ProtocolName = "veritrace/1"

// maxIdleTimeout bounds how long a connection may sit idle.
const maxIdleTimeout = 5 * time.Minute

var (
	ErrInvalidCertificate = errors.New("invalid certificate")
	ErrListenerFailed     = errors.New("failed to start listener")
	ErrDialFailed         = errors.New("failed to dial peer")
)

// Handler executes one decoded request for an authenticated caller.
type Handler interface {
	Handle(caller crypto.ActorID, kind MessageKind, payload []byte) (interface{}, error)
}

// TransportConfig contains the parameters for a Transport.
type TransportConfig struct {
	TLSCert    *tls.Certificate
	ListenAddr string
	Handler    Handler
	// RatePerSecond and RateBurst bound inbound connection acceptance.
	// Zero values disable limiting.
	RatePerSecond float64
	RateBurst     int
}

// Transport serves ledger requests over QUIC. Every connection is mutually
// authenticated; the peer's certificate key is the caller identity for all
// streams on that connection.
type Transport struct {
	config    TransportConfig
	validator CertValidator
	limiter   *rate.Limiter
	listener  *quic.Listener
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewTransport creates a transport. The certificate must carry the node's
// own identity in the protocol DNS-name format.
func NewTransport(config TransportConfig) (*Transport, error) {
	if config.TLSCert == nil {
		return nil, fmt.Errorf("TLS certificate required")
	}
	if config.Handler == nil {
		return nil, fmt.Errorf("handler required")
	}
	validator := CertValidator{}
	if err := validator.ValidateCertificate(config.TLSCert.Leaf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}

	var limiter *rate.Limiter
	if config.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RatePerSecond), config.RateBurst)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		config:    config,
		validator: validator,
		limiter:   limiter,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

func (t *Transport) tlsConfig() *tls.Config {
	return &tls.Config{
		Certificates:       []tls.Certificate{*t.config.TLSCert},
		NextProtos:         []string{ProtocolName},
		ClientAuth:         tls.RequireAnyClientCert,
		MinVersion:         tls.VersionTLS13,
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return fmt.Errorf("%w: no peer certificate provided", ErrInvalidCertificate)
			}
			cert, err := x509.ParseCertificate(rawCerts[0])
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
			}
			if err := t.validator.ValidateCertificate(cert); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
			}
			return nil
		},
	}
}

// Start binds the listener and begins accepting connections.
func (t *Transport) Start() error {
	listener, err := quic.ListenAddr(t.config.ListenAddr, t.tlsConfig(), &quic.Config{
		MaxIdleTimeout: maxIdleTimeout,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrListenerFailed, err)
	}
	t.listener = listener

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.acceptLoop()
	}()
	log.Network.Info().Str("addr", t.config.ListenAddr).Msg("transport listening")
	return nil
}

// Stop shuts down the listener and waits for in-flight streams to finish.
func (t *Transport) Stop() error {
	t.cancel()
	if t.listener != nil {
		if err := t.listener.Close(); err != nil {
			return fmt.Errorf("close listener: %w", err)
		}
	}
	t.wg.Wait()
	return nil
}

func (t *Transport) acceptLoop() {
	for {
		conn, err := t.listener.Accept(t.ctx)
		if err != nil {
			if t.ctx.Err() == nil {
				log.Network.Warn().Err(err).Msg("accept connection")
				continue
			}
			return
		}
		if t.limiter != nil && !t.limiter.Allow() {
			log.Network.Warn().Str("peer", conn.RemoteAddr().String()).Msg("connection rate limited")
			_ = conn.CloseWithError(1, "rate limited")
			continue
		}

		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.handleConnection(conn)
		}()
	}
}

func (t *Transport) handleConnection(conn quic.Connection) {
	certs := conn.ConnectionState().TLS.PeerCertificates
	if len(certs) == 0 {
		_ = conn.CloseWithError(2, ErrInvalidCertificate.Error())
		return
	}
	caller, err := t.validator.ExtractActorID(certs[0])
	if err != nil {
		_ = conn.CloseWithError(2, ErrInvalidCertificate.Error())
		return
	}

	for {
		stream, err := conn.AcceptStream(t.ctx)
		if err != nil {
			return
		}
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.handleStream(caller, stream)
		}()
	}
}

// handleStream serves one request/response exchange: a kind byte, a
// request frame, then a single response frame.
func (t *Transport) handleStream(caller crypto.ActorID, stream quic.Stream) {
	defer stream.Close() //nolint:errcheck

	var kindByte [1]byte
	if _, err := io.ReadFull(stream, kindByte[:]); err != nil {
		log.Network.Debug().Err(err).Msg("read stream kind")
		return
	}
	if !ValidKind(kindByte[0]) {
		t.respondError(stream, &WireError{Code: CodeValidation, Message: ErrUnknownKind.Error()})
		return
	}
	kind := MessageKind(kindByte[0])

	payload, err := ReadFrame(stream)
	if err != nil {
		log.Network.Debug().Err(err).Msg("read request frame")
		return
	}

	result, err := t.config.Handler.Handle(caller, kind, payload)
	if err != nil {
		t.respondError(stream, &WireError{Code: classifyError(err), Message: err.Error()})
		return
	}

	resp := Response{OK: true}
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			t.respondError(stream, &WireError{Code: CodeInternal, Message: "encode result"})
			return
		}
		resp.Result = raw
	}
	if err := WriteFrame(stream, resp); err != nil {
		log.Network.Debug().Err(err).Msg("write response frame")
	}
}

func (t *Transport) respondError(stream quic.Stream, werr *WireError) {
	if err := WriteFrame(stream, Response{OK: false, Error: werr}); err != nil {
		log.Network.Debug().Err(err).Msg("write error frame")
	}
}
