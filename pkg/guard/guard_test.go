package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/polisai/polis-mtls/pkg/domain"
)

func TestCheck_Membership(t *testing.T) {
	allowed := domain.NewPhaseSet(domain.PhaseRewrite, domain.PhaseAccess)

	assert.NoError(t, Check("op", domain.PhaseRewrite, allowed))
	assert.NoError(t, Check("op", domain.PhaseAccess, allowed))

	err := Check("op", domain.PhaseLogging, allowed)
	require.Error(t, err)

	var pv *domain.PhaseViolationError
	require.ErrorAs(t, err, &pv)
	assert.Equal(t, "op", pv.Op)
	assert.Equal(t, domain.PhaseLogging, pv.Current)
	assert.Equal(t, allowed, pv.Allowed)
}

func TestCheck_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		members := rapid.SliceOfDistinct(
			rapid.SampledFrom(domain.AllPhases),
			func(p domain.Phase) domain.Phase { return p },
		).Draw(t, "members")
		allowed := domain.NewPhaseSet(members...)

		current := rapid.SampledFrom(domain.AllPhases).Draw(t, "current")

		err := Check("op", current, allowed)
		if allowed.Contains(current) {
			if err != nil {
				t.Fatalf("expected success for %s in %s, got %v", current, allowed, err)
			}
		} else if err == nil {
			t.Fatalf("expected violation for %s outside %s", current, allowed)
		}
	})
}
