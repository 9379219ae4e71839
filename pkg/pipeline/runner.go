// Package pipeline is the runtime that drives pipeline logic through the
// request phases. It owns the per-request context, supplies the current phase
// to every hook, and emits the access entry when the request ends.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/polisai/polis-mtls/pkg/accesslog"
	"github.com/polisai/polis-mtls/pkg/control"
	"github.com/polisai/polis-mtls/pkg/domain"
)

// Hook runs pipeline logic at a single phase. The runner supplies the current
// phase; hooks pass it through to the control surface, which validates it.
type Hook func(ctx context.Context, phase domain.Phase, rc *domain.RequestContext, tls *control.Controller) error

// Runner executes registered hooks in pipeline phase order.
type Runner struct {
	hooks  map[domain.Phase][]Hook
	access *accesslog.Serializer
	logger *slog.Logger
}

// NewRunner creates a runner. The access serializer may be nil when no access
// log is wanted (tests).
func NewRunner(access *accesslog.Serializer, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		hooks:  make(map[domain.Phase][]Hook),
		access: access,
		logger: logger,
	}
}

// Register appends a hook to the given phase. Hooks run in registration
// order. Registration happens at startup, before requests flow.
func (r *Runner) Register(phase domain.Phase, hook Hook) {
	r.hooks[phase] = append(r.hooks[phase], hook)
}

// NewRequest creates the context for a request. The runner owns the context;
// the control surface and access-log serialization hold non-owning references.
func (r *Runner) NewRequest(info domain.TLSInfo) *domain.RequestContext {
	return domain.NewRequestContext(info)
}

// RunPhase runs the hooks registered for one phase, aborting on the first
// error. Phase violations and malformed-override errors from the control
// surface propagate here and stop the chain.
func (r *Runner) RunPhase(ctx context.Context, phase domain.Phase, rc *domain.RequestContext, tls *control.Controller) error {
	for _, hook := range r.hooks[phase] {
		if err := hook(ctx, phase, rc, tls); err != nil {
			r.logger.Error("phase hook failed", "phase", phase.String(), "request_id", rc.ID, "error", err)
			return err
		}
	}
	return nil
}

// RunRequestPhases runs every post-handshake phase before logging, in
// pipeline order, stopping at the first failing phase.
func (r *Runner) RunRequestPhases(ctx context.Context, rc *domain.RequestContext, tls *control.Controller) error {
	phases := []domain.Phase{
		domain.PhaseRewrite,
		domain.PhaseAccess,
		domain.PhaseResponse,
		domain.PhaseBalancer,
		domain.PhaseHeaderEmission,
		domain.PhaseBodyEmission,
	}
	for _, phase := range phases {
		if err := r.RunPhase(ctx, phase, rc, tls); err != nil {
			return err
		}
	}
	return nil
}

// Finish runs the logging phase and emits the access entry. It always runs,
// even when an earlier phase aborted, so every request leaves an audit entry.
// Logging-phase hook failures are logged and do not block emission.
func (r *Runner) Finish(ctx context.Context, rc *domain.RequestContext, tls *control.Controller) {
	if err := r.RunPhase(ctx, domain.PhaseLogging, rc, tls); err != nil {
		r.logger.Error("logging phase failed", "request_id", rc.ID, "error", err)
	}
	if r.access != nil {
		r.access.Emit(rc)
	}
}
