package domain

import "strings"

// Phase identifies one stage of request processing. The declaration order is
// the pipeline execution order.
type Phase int

const (
	// PhaseCertificateNegotiation runs while the TLS handshake is still pending.
	PhaseCertificateNegotiation Phase = iota
	// PhaseRewrite runs after the handshake, before routing decisions.
	PhaseRewrite
	// PhaseAccess runs access-control logic.
	PhaseAccess
	// PhaseResponse runs when the upstream response is available.
	PhaseResponse
	// PhaseBalancer runs upstream selection logic.
	PhaseBalancer
	// PhaseHeaderEmission runs while response headers are being written.
	PhaseHeaderEmission
	// PhaseBodyEmission runs while the response body is being written.
	PhaseBodyEmission
	// PhaseLogging runs last, when the access entry is serialized.
	PhaseLogging
)

// AllPhases lists every phase in pipeline execution order.
var AllPhases = []Phase{
	PhaseCertificateNegotiation,
	PhaseRewrite,
	PhaseAccess,
	PhaseResponse,
	PhaseBalancer,
	PhaseHeaderEmission,
	PhaseBodyEmission,
	PhaseLogging,
}

func (p Phase) String() string {
	switch p {
	case PhaseCertificateNegotiation:
		return "certificate_negotiation"
	case PhaseRewrite:
		return "rewrite"
	case PhaseAccess:
		return "access"
	case PhaseResponse:
		return "response"
	case PhaseBalancer:
		return "balancer"
	case PhaseHeaderEmission:
		return "header_emission"
	case PhaseBodyEmission:
		return "body_emission"
	case PhaseLogging:
		return "logging"
	default:
		return "unknown"
	}
}

// PhaseSet is an immutable membership set over Phase values. Sets are built
// once at init time and never mutated afterwards.
type PhaseSet uint16

// NewPhaseSet constructs a set containing the given phases.
func NewPhaseSet(phases ...Phase) PhaseSet {
	var s PhaseSet
	for _, p := range phases {
		s |= 1 << uint(p)
	}
	return s
}

// Contains reports whether p is a member of the set.
func (s PhaseSet) Contains(p Phase) bool {
	if p < 0 || int(p) >= len(AllPhases) {
		return false
	}
	return s&(1<<uint(p)) != 0
}

// Phases returns the members in pipeline execution order.
func (s PhaseSet) Phases() []Phase {
	var phases []Phase
	for _, p := range AllPhases {
		if s.Contains(p) {
			phases = append(phases, p)
		}
	}
	return phases
}

func (s PhaseSet) String() string {
	members := s.Phases()
	names := make([]string, len(members))
	for i, p := range members {
		names[i] = p.String()
	}
	return strings.Join(names, "|")
}
