package accesslog

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-mtls/pkg/domain"
)

func emit(t *testing.T, rc *domain.RequestContext) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	New(&buf).Emit(rc)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestEmit_TransportVerdictByDefault(t *testing.T) {
	rc := domain.NewRequestContext(domain.TLSInfo{
		Version:         "TLS 1.3",
		CipherSuite:     "TLS_AES_128_GCM_SHA256",
		TransportVerify: domain.VerifySuccess,
	})

	entry := emit(t, rc)
	assert.Equal(t, rc.ID, entry["request_id"])
	assert.Equal(t, "TLS 1.3", entry["tls_version"])
	assert.Equal(t, domain.VerifySuccess, entry["client_verify"])
	assert.Equal(t, "transport", entry["client_verify_source"])
}

func TestEmit_OverrideSupersedesTransport(t *testing.T) {
	rc := domain.NewRequestContext(domain.TLSInfo{TransportVerify: domain.VerifySuccess})
	rc.SetVerifyOverride("FAILED:untrusted-issuer")

	entry := emit(t, rc)
	assert.Equal(t, "FAILED:untrusted-issuer", entry["client_verify"])
	assert.Equal(t, "override", entry["client_verify_source"])
}
