package domain

import (
	"errors"
	"fmt"
)

// PhaseViolationError reports a control-surface operation invoked outside its
// declared valid-phase set. This is a caller bug: the error always aborts the
// enclosing call and is never retried.
type PhaseViolationError struct {
	Op      string
	Current Phase
	Allowed PhaseSet
}

func (e *PhaseViolationError) Error() string {
	return fmt.Sprintf("operation %s is not valid during %s phase (valid phases: %s)",
		e.Op, e.Current, e.Allowed)
}

// OverrideValueError reports a malformed verify-override value. Like a phase
// violation it signals a caller bug, not a runtime condition.
type OverrideValueError struct {
	Value string
}

func (e *OverrideValueError) Error() string {
	return fmt.Sprintf("invalid client verify override %q: must be %q, %q, or start with %q",
		e.Value, VerifySuccess, VerifyNone, VerifyFailedPrefix)
}

// EngineError wraps a failure reported by the TLS engine for a named
// operation. It is surfaced to the caller as a value; retry policy, if any,
// belongs to the caller.
type EngineError struct {
	Op  string
	Err error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("tls engine: %s: %v", e.Op, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// IsPhaseViolation reports whether err is (or wraps) a phase violation.
func IsPhaseViolation(err error) bool {
	var pv *PhaseViolationError
	return errors.As(err, &pv)
}

// IsEngineError reports whether err is (or wraps) an engine failure.
func IsEngineError(err error) bool {
	var ee *EngineError
	return errors.As(err, &ee)
}
