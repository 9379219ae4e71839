package domain

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidOverrideValue(t *testing.T) {
	assert.True(t, ValidOverrideValue("SUCCESS"))
	assert.True(t, ValidOverrideValue("NONE"))
	assert.True(t, ValidOverrideValue("FAILED:bad-ca"))
	assert.True(t, ValidOverrideValue("FAILED:"))

	assert.False(t, ValidOverrideValue("BOGUS"))
	assert.False(t, ValidOverrideValue(""))
	assert.False(t, ValidOverrideValue("success"))
	assert.False(t, ValidOverrideValue("FAILED"))
}

func TestRequestContext_VerifyOverride(t *testing.T) {
	rc := NewRequestContext(TLSInfo{})
	require.NotEmpty(t, rc.ID)

	_, ok := rc.VerifyOverride()
	assert.False(t, ok, "override is absent by default")

	rc.SetVerifyOverride(VerifySuccess)
	rc.SetVerifyOverride("FAILED:revoked")

	stored, ok := rc.VerifyOverride()
	require.True(t, ok)
	assert.Equal(t, "FAILED:revoked", stored, "last write wins")
}

func TestRequestContext_Isolation(t *testing.T) {
	// Two concurrent requests with their own contexts never observe each
	// other's override.
	first := NewRequestContext(TLSInfo{})
	second := NewRequestContext(TLSInfo{})
	require.NotEqual(t, first.ID, second.ID)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			first.SetVerifyOverride(VerifySuccess)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			second.SetVerifyOverride(VerifyNone)
		}
	}()
	wg.Wait()

	got, ok := first.VerifyOverride()
	require.True(t, ok)
	assert.Equal(t, VerifySuccess, got)

	got, ok = second.VerifyOverride()
	require.True(t, ok)
	assert.Equal(t, VerifyNone, got)
}
