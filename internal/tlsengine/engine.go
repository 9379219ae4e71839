// Package tlsengine adapts crypto/tls connection state to the control-surface
// Engine contract. A ConnEngine is bound either to the pending per-connection
// configuration (during the handshake window) or to the negotiated connection
// state (after it); operations outside the bound window fail as engine errors.
package tlsengine

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"log/slog"
	"strings"
)

// ConnEngine implements the control-surface Engine over one connection.
type ConnEngine struct {
	pending *tls.Config
	state   *tls.ConnectionState
	logger  *slog.Logger
}

// NewPendingEngine binds an engine to the per-connection config clone of a
// handshake that has not completed yet. Negotiation-time operations mutate
// the clone before crypto/tls proceeds with it.
func NewPendingEngine(pending *tls.Config, logger *slog.Logger) *ConnEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnEngine{pending: pending, logger: logger}
}

// NewNegotiatedEngine binds an engine to an established connection.
func NewNegotiatedEngine(state *tls.ConnectionState, logger *slog.Logger) *ConnEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnEngine{state: state, logger: logger}
}

// RequestClientCertificate enables the certificate-request extension for the
// pending handshake. The certificate stays optional: the handshake still
// completes when the client presents nothing.
func (e *ConnEngine) RequestClientCertificate() error {
	if e.pending == nil {
		return errors.New("no pending handshake")
	}
	if e.pending.ClientAuth == tls.NoClientCert {
		e.pending.ClientAuth = tls.RequestClientCert
	}
	e.applyClientAuthMode()
	return nil
}

// DisableSessionReuse turns off ticket and session-ID resumption for the
// pending handshake.
func (e *ConnEngine) DisableSessionReuse() error {
	if e.pending == nil {
		return errors.New("no pending handshake")
	}
	e.pending.SessionTicketsDisabled = true
	return nil
}

// SetClientCAList installs the caller-owned CA pool for the pending
// handshake. crypto/tls advertises the pool's subject names in the
// CertificateRequest so the client can pick a matching certificate. The pool
// is assigned as-is and not retained beyond the connection config.
func (e *ConnEngine) SetClientCAList(cas *x509.CertPool) error {
	if e.pending == nil {
		return errors.New("no pending handshake")
	}
	if cas == nil {
		return errors.New("nil client CA pool")
	}
	e.pending.ClientCAs = cas
	e.applyClientAuthMode()
	return nil
}

// FullClientCertificateChain returns the peer chain as PEM, leaf first. An
// empty string with a nil error means the client presented no certificate.
func (e *ConnEngine) FullClientCertificateChain() (string, error) {
	if e.state == nil {
		return "", errors.New("handshake has not completed")
	}
	if len(e.state.PeerCertificates) == 0 {
		return "", nil
	}

	var chain strings.Builder
	for _, cert := range e.state.PeerCertificates {
		block := pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}
		chain.Write(pem.EncodeToMemory(&block))
	}
	return chain.String(), nil
}

// applyClientAuthMode upgrades the client-auth mode to verify-if-given once
// both a certificate request and a CA pool are in place, so the transport
// verdict reflects chain verification when a certificate arrives.
func (e *ConnEngine) applyClientAuthMode() {
	if e.pending.ClientCAs != nil && e.pending.ClientAuth == tls.RequestClientCert {
		e.pending.ClientAuth = tls.VerifyClientCertIfGiven
	}
}
