// Package accesslog serializes one structured entry per request at the end of
// its lifecycle. The client-verify field prefers the override written by
// pipeline logic over the transport-level verdict.
package accesslog

import (
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/polisai/polis-mtls/pkg/domain"
)

// Serializer emits access entries as JSON lines.
type Serializer struct {
	log zerolog.Logger
}

// New creates a serializer writing to w.
func New(w io.Writer) *Serializer {
	return &Serializer{
		log: zerolog.New(w).With().Timestamp().Logger(),
	}
}

// Emit writes the access entry for a finished request. When a verify override
// was stored it supersedes the transport-level verdict; the entry records
// which source produced the verdict.
func (s *Serializer) Emit(rc *domain.RequestContext) {
	verify := rc.TLS.TransportVerify
	source := "transport"
	if override, ok := rc.VerifyOverride(); ok {
		verify = override
		source = "override"
	}

	s.log.Info().
		Str("request_id", rc.ID).
		Str("tls_version", rc.TLS.Version).
		Str("cipher_suite", rc.TLS.CipherSuite).
		Str("server_name", rc.TLS.ServerName).
		Str("peer_subject", rc.TLS.PeerSubject).
		Str("client_verify", verify).
		Str("client_verify_source", source).
		Dur("duration", time.Since(rc.StartTime)).
		Msg("request complete")
}
