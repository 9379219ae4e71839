// Package control implements the phase-gated mTLS control surface. Each
// operation validates the current pipeline phase against its fixed valid-phase
// set before delegating to the TLS engine or mutating per-request state.
package control

import (
	"crypto/x509"
	"errors"
	"log/slog"
	"time"

	"github.com/polisai/polis-mtls/pkg/domain"
	"github.com/polisai/polis-mtls/pkg/guard"
)

// Engine is the TLS engine collaborator. It owns the handshake, certificate
// parsing, and connection state; the control surface only gates when its
// primitives may be invoked.
type Engine interface {
	// RequestClientCertificate asks the engine to request (not require) a
	// client certificate during the pending handshake.
	RequestClientCertificate() error

	// DisableSessionReuse disables both session-ticket and session-ID
	// resumption for the current connection.
	DisableSessionReuse() error

	// SetClientCAList advertises the given CA pool during certificate-request
	// negotiation. The pool is owned by the caller and must be forwarded by
	// reference, never copied, inspected, or retained.
	SetClientCAList(cas *x509.CertPool) error

	// FullClientCertificateChain returns the negotiated client chain as PEM,
	// leaf first. An empty string with a nil error means the handshake
	// completed without a client certificate.
	FullClientCertificateChain() (string, error)
}

// Operation names as they appear in errors, logs, and metrics.
const (
	OpRequestClientCertificate = "request_client_certificate"
	OpDisableSessionReuse      = "disable_session_reuse"
	OpSetClientCAList          = "set_client_ca_list"
	OpClientCertificateChain   = "get_full_client_certificate_chain"
	OpSetClientVerifyOverride  = "set_client_verify_override"
)

// Valid-phase sets, fixed for the lifetime of the process.
var (
	negotiationPhases = domain.NewPhaseSet(domain.PhaseCertificateNegotiation)
	chainPhases       = domain.NewPhaseSet(
		domain.PhaseRewrite,
		domain.PhaseAccess,
		domain.PhaseResponse,
		domain.PhaseBalancer,
		domain.PhaseLogging,
	)
	overridePhases = domain.NewPhaseSet(
		domain.PhaseRewrite,
		domain.PhaseAccess,
		domain.PhaseResponse,
		domain.PhaseBalancer,
	)
)

// Controller exposes the five control-surface operations over a TLS engine.
type Controller struct {
	engine  Engine
	metrics *Metrics
	logger  *slog.Logger
}

// NewController constructs a control surface over the given engine. The
// metrics collector may be nil.
func NewController(engine Engine, metrics *Metrics, logger *slog.Logger) (*Controller, error) {
	if engine == nil {
		return nil, errors.New("control surface requires a TLS engine")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		engine:  engine,
		metrics: metrics,
		logger:  logger,
	}, nil
}

// RequestClientCertificate asks the engine to request a client certificate
// during the pending handshake. Valid only during certificate negotiation,
// before the handshake completes. The connection may still complete without a
// certificate; callers inspect FullClientCertificateChain later to learn
// whether the client complied.
func (c *Controller) RequestClientCertificate(phase domain.Phase) error {
	if err := c.checkPhase(OpRequestClientCertificate, phase, negotiationPhases); err != nil {
		return err
	}
	return c.delegate(OpRequestClientCertificate, c.engine.RequestClientCertificate)
}

// DisableSessionReuse turns off session resumption for the current
// connection, forcing full re-authentication of the client on every
// connection. Valid only during certificate negotiation. Calling it twice in
// the same negotiation delegates twice and never errors locally.
func (c *Controller) DisableSessionReuse(phase domain.Phase) error {
	if err := c.checkPhase(OpDisableSessionReuse, phase, negotiationPhases); err != nil {
		return err
	}
	return c.delegate(OpDisableSessionReuse, c.engine.DisableSessionReuse)
}

// SetClientCAList advertises the acceptable client CA list during
// certificate-request negotiation. The pool handle is forwarded to the engine
// exactly as received; its lifetime stays with the caller.
func (c *Controller) SetClientCAList(phase domain.Phase, cas *x509.CertPool) error {
	if err := c.checkPhase(OpSetClientCAList, phase, negotiationPhases); err != nil {
		return err
	}
	return c.delegate(OpSetClientCAList, func() error {
		return c.engine.SetClientCAList(cas)
	})
}

// FullClientCertificateChain returns the negotiated client certificate chain
// as PEM, leaf first. An empty string with a nil error is the valid non-mTLS
// outcome: the handshake completed but the client presented no certificate.
// A non-nil error is a genuine engine failure. Valid in any phase after the
// handshake window through logging.
func (c *Controller) FullClientCertificateChain(phase domain.Phase) (string, error) {
	if err := c.checkPhase(OpClientCertificateChain, phase, chainPhases); err != nil {
		return "", err
	}
	start := time.Now()
	chain, err := c.engine.FullClientCertificateChain()
	if err != nil {
		c.metrics.RecordEngineFailure(OpClientCertificateChain)
		c.logger.Error("engine call failed", "op", OpClientCertificateChain, "error", err)
		return "", &domain.EngineError{Op: OpClientCertificateChain, Err: err}
	}
	c.metrics.RecordEngineCall(OpClientCertificateChain, time.Since(start))
	return chain, nil
}

// SetClientVerifyOverride stores a client-verify verdict that supersedes the
// transport-level outcome in the access log. Valid strictly before the
// logging phase so the override is visible to log serialization. The value
// must be "SUCCESS", "NONE", or "FAILED:" plus a reason; anything else is a
// caller bug rejected with *domain.OverrideValueError, leaving any prior
// stored value unchanged. Repeated calls are last-write-wins.
func (c *Controller) SetClientVerifyOverride(phase domain.Phase, rc *domain.RequestContext, value string) error {
	if err := c.checkPhase(OpSetClientVerifyOverride, phase, overridePhases); err != nil {
		return err
	}
	if !domain.ValidOverrideValue(value) {
		c.metrics.RecordInvalidOverride()
		c.logger.Error("malformed verify override", "op", OpSetClientVerifyOverride, "value", value)
		return &domain.OverrideValueError{Value: value}
	}
	if rc == nil {
		return errors.New("verify override requires a request context")
	}
	rc.SetVerifyOverride(value)
	c.metrics.RecordOverrideSet(value)
	return nil
}

func (c *Controller) checkPhase(op string, current domain.Phase, allowed domain.PhaseSet) error {
	if err := guard.Check(op, current, allowed); err != nil {
		c.metrics.RecordPhaseViolation(op, current)
		c.logger.Error("phase violation", "op", op, "phase", current.String(), "valid_phases", allowed.String())
		return err
	}
	return nil
}

func (c *Controller) delegate(op string, call func() error) error {
	start := time.Now()
	if err := call(); err != nil {
		c.metrics.RecordEngineFailure(op)
		c.logger.Error("engine call failed", "op", op, "error", err)
		return &domain.EngineError{Op: op, Err: err}
	}
	c.metrics.RecordEngineCall(op, time.Since(start))
	return nil
}
