package tlsengine

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"log/slog"
	"math/big"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-mtls/pkg/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func selfSignedCert(t *testing.T, cn string) *x509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func TestPendingEngine_RequestClientCertificate(t *testing.T) {
	pending := &tls.Config{}
	engine := NewPendingEngine(pending, testLogger())

	require.NoError(t, engine.RequestClientCertificate())
	assert.Equal(t, tls.RequestClientCert, pending.ClientAuth)

	// Repeat calls do not downgrade a stronger mode.
	pending.ClientAuth = tls.VerifyClientCertIfGiven
	require.NoError(t, engine.RequestClientCertificate())
	assert.Equal(t, tls.VerifyClientCertIfGiven, pending.ClientAuth)
}

func TestPendingEngine_DisableSessionReuse(t *testing.T) {
	pending := &tls.Config{}
	engine := NewPendingEngine(pending, testLogger())

	require.NoError(t, engine.DisableSessionReuse())
	assert.True(t, pending.SessionTicketsDisabled)
}

func TestPendingEngine_SetClientCAList(t *testing.T) {
	pending := &tls.Config{}
	engine := NewPendingEngine(pending, testLogger())

	pool := x509.NewCertPool()
	require.NoError(t, engine.SetClientCAList(pool))
	assert.Same(t, pool, pending.ClientCAs)

	assert.Error(t, engine.SetClientCAList(nil))
}

func TestPendingEngine_UpgradesToVerifyIfGiven(t *testing.T) {
	t.Run("request then CAs", func(t *testing.T) {
		pending := &tls.Config{}
		engine := NewPendingEngine(pending, testLogger())
		require.NoError(t, engine.RequestClientCertificate())
		require.NoError(t, engine.SetClientCAList(x509.NewCertPool()))
		assert.Equal(t, tls.VerifyClientCertIfGiven, pending.ClientAuth)
	})

	t.Run("CAs then request", func(t *testing.T) {
		pending := &tls.Config{}
		engine := NewPendingEngine(pending, testLogger())
		require.NoError(t, engine.SetClientCAList(x509.NewCertPool()))
		require.NoError(t, engine.RequestClientCertificate())
		assert.Equal(t, tls.VerifyClientCertIfGiven, pending.ClientAuth)
	})

	t.Run("CAs alone leave mode untouched", func(t *testing.T) {
		pending := &tls.Config{}
		engine := NewPendingEngine(pending, testLogger())
		require.NoError(t, engine.SetClientCAList(x509.NewCertPool()))
		assert.Equal(t, tls.NoClientCert, pending.ClientAuth)
	})
}

func TestNegotiationOps_FailWithoutPendingHandshake(t *testing.T) {
	engine := NewNegotiatedEngine(&tls.ConnectionState{}, testLogger())

	assert.Error(t, engine.RequestClientCertificate())
	assert.Error(t, engine.DisableSessionReuse())
	assert.Error(t, engine.SetClientCAList(x509.NewCertPool()))
}

func TestFullClientCertificateChain_NotNegotiated(t *testing.T) {
	engine := NewPendingEngine(&tls.Config{}, testLogger())

	_, err := engine.FullClientCertificateChain()
	assert.ErrorContains(t, err, "handshake has not completed")
}

func TestFullClientCertificateChain_NoCertificate(t *testing.T) {
	engine := NewNegotiatedEngine(&tls.ConnectionState{}, testLogger())

	chain, err := engine.FullClientCertificateChain()
	require.NoError(t, err)
	assert.Empty(t, chain)
}

func TestFullClientCertificateChain_PEMLeafFirst(t *testing.T) {
	leaf := selfSignedCert(t, "leaf")
	issuer := selfSignedCert(t, "issuer")
	state := &tls.ConnectionState{PeerCertificates: []*x509.Certificate{leaf, issuer}}
	engine := NewNegotiatedEngine(state, testLogger())

	chain, err := engine.FullClientCertificateChain()
	require.NoError(t, err)

	var parsed []*x509.Certificate
	rest := []byte(chain)
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		require.Equal(t, "CERTIFICATE", block.Type)
		cert, err := x509.ParseCertificate(block.Bytes)
		require.NoError(t, err)
		parsed = append(parsed, cert)
	}

	require.Len(t, parsed, 2)
	assert.Equal(t, "leaf", parsed[0].Subject.CommonName)
	assert.Equal(t, "issuer", parsed[1].Subject.CommonName)
	assert.True(t, strings.HasPrefix(chain, "-----BEGIN CERTIFICATE-----"))
}

func TestInfoFromState_Verdicts(t *testing.T) {
	peer := selfSignedCert(t, "client")

	t.Run("nil state", func(t *testing.T) {
		info := InfoFromState(nil)
		assert.Equal(t, domain.VerifyNone, info.TransportVerify)
	})

	t.Run("no certificate", func(t *testing.T) {
		info := InfoFromState(&tls.ConnectionState{
			Version:     tls.VersionTLS13,
			CipherSuite: tls.TLS_AES_128_GCM_SHA256,
		})
		assert.Equal(t, domain.VerifyNone, info.TransportVerify)
		assert.Equal(t, "TLS 1.3", info.Version)
		assert.Empty(t, info.PeerSubject)
	})

	t.Run("verified chain", func(t *testing.T) {
		info := InfoFromState(&tls.ConnectionState{
			PeerCertificates: []*x509.Certificate{peer},
			VerifiedChains:   [][]*x509.Certificate{{peer}},
		})
		assert.Equal(t, domain.VerifySuccess, info.TransportVerify)
		assert.Contains(t, info.PeerSubject, "client")
	})

	t.Run("unverified certificate", func(t *testing.T) {
		info := InfoFromState(&tls.ConnectionState{
			PeerCertificates: []*x509.Certificate{peer},
		})
		assert.True(t, strings.HasPrefix(info.TransportVerify, domain.VerifyFailedPrefix))
	})
}
