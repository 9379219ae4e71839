package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Verify-override values understood by access-log serialization. Any other
// accepted value carries the VerifyFailedPrefix followed by a reason.
const (
	// VerifySuccess marks the client identity as verified.
	VerifySuccess = "SUCCESS"
	// VerifyNone marks the request as carrying no client certificate.
	VerifyNone = "NONE"
	// VerifyFailedPrefix prefixes a failure verdict with an arbitrary reason.
	VerifyFailedPrefix = "FAILED:"
)

// ValidOverrideValue reports whether v has one of the accepted verify-override
// shapes: exactly "SUCCESS", exactly "NONE", or "FAILED:" plus a reason (the
// reason may be empty).
func ValidOverrideValue(v string) bool {
	return v == VerifySuccess || v == VerifyNone || strings.HasPrefix(v, VerifyFailedPrefix)
}

// TLSInfo summarizes the transport-level handshake outcome for a request.
type TLSInfo struct {
	Version         string
	CipherSuite     string
	ServerName      string
	PeerSubject     string
	TransportVerify string
}

// RequestContext holds per-request mutable state. It is created by the
// pipeline runtime at the start of a request, referenced (not owned) by the
// control surface, and destroyed when the request ends. A request is handled
// by a single flow of control, so no locking is needed.
type RequestContext struct {
	ID        string
	StartTime time.Time
	TLS       TLSInfo

	verifyOverride string
	overrideSet    bool
}

// NewRequestContext creates a context for a new request.
func NewRequestContext(info TLSInfo) *RequestContext {
	return &RequestContext{
		ID:        uuid.NewString(),
		StartTime: time.Now(),
		TLS:       info,
	}
}

// SetVerifyOverride replaces the stored verify override. Last write wins; the
// control surface writes this slot, access-log serialization reads it.
func (rc *RequestContext) SetVerifyOverride(value string) {
	rc.verifyOverride = value
	rc.overrideSet = true
}

// VerifyOverride returns the stored override and whether one was set.
func (rc *RequestContext) VerifyOverride() (string, bool) {
	return rc.verifyOverride, rc.overrideSet
}
