// Package guard implements the phase-validity check shared by every
// control-surface operation.
package guard

import "github.com/polisai/polis-mtls/pkg/domain"

// Check validates that current is a member of the operation's valid-phase
// set. It returns nil on membership and a *domain.PhaseViolationError
// otherwise. The check is a pure predicate over caller-supplied state: it has
// no side effects and must run before any engine call or context mutation.
func Check(op string, current domain.Phase, allowed domain.PhaseSet) error {
	if allowed.Contains(current) {
		return nil
	}
	return &domain.PhaseViolationError{Op: op, Current: current, Allowed: allowed}
}
