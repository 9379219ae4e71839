package tlsengine

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/polisai/polis-mtls/pkg/domain"
)

// Config holds the listener TLS settings.
type Config struct {
	CertFile   string
	KeyFile    string
	MinVersion string
}

// Negotiator runs the certificate-negotiation phase for a pending connection.
// It receives an engine bound to the per-connection config clone; an error
// aborts the handshake.
type Negotiator func(ctx context.Context, engine *ConnEngine) error

// BuildServerConfig constructs the listener tls.Config. Every incoming
// ClientHello gets a clone of the base config, and the negotiator runs
// against that clone before the handshake proceeds, so negotiation-time
// control-surface calls only affect their own connection.
func BuildServerConfig(cfg Config, store *CertStore, negotiate Negotiator, logger *slog.Logger) (*tls.Config, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		return nil, fmt.Errorf("certificate store is required")
	}

	base := &tls.Config{
		MinVersion:     parseTLSVersion(cfg.MinVersion, tls.VersionTLS12, logger),
		GetCertificate: store.GetCertificate,
	}

	base.GetConfigForClient = func(hello *tls.ClientHelloInfo) (*tls.Config, error) {
		if negotiate == nil {
			return nil, nil
		}
		conn := base.Clone()
		conn.GetConfigForClient = nil
		engine := NewPendingEngine(conn, logger)
		if err := negotiate(hello.Context(), engine); err != nil {
			logger.Error("certificate negotiation aborted",
				"server_name", hello.ServerName,
				"error", err)
			return nil, err
		}
		return conn, nil
	}

	return base, nil
}

// LoadClientCAPool reads a PEM bundle of acceptable client CAs.
func LoadClientCAPool(path string) (*x509.CertPool, error) {
	cleanPath := filepath.Clean(path)

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("read CA bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no certificates found in %s", cleanPath)
	}
	return pool, nil
}

// InfoFromState summarizes the transport-level handshake outcome for the
// request context. The verdict mirrors the convention the access log records:
// NONE when no certificate was presented, SUCCESS when the chain verified
// against the advertised CAs, FAILED otherwise.
func InfoFromState(state *tls.ConnectionState) domain.TLSInfo {
	if state == nil {
		return domain.TLSInfo{TransportVerify: domain.VerifyNone}
	}

	info := domain.TLSInfo{
		Version:     tls.VersionName(state.Version),
		CipherSuite: tls.CipherSuiteName(state.CipherSuite),
		ServerName:  state.ServerName,
	}

	switch {
	case len(state.PeerCertificates) == 0:
		info.TransportVerify = domain.VerifyNone
	case len(state.VerifiedChains) > 0:
		info.PeerSubject = state.PeerCertificates[0].Subject.String()
		info.TransportVerify = domain.VerifySuccess
	default:
		info.PeerSubject = state.PeerCertificates[0].Subject.String()
		info.TransportVerify = domain.VerifyFailedPrefix + "unable to verify client certificate"
	}

	return info
}

// parseTLSVersion converts a string version to a TLS constant.
func parseTLSVersion(version string, defaultVersion uint16, logger *slog.Logger) uint16 {
	if version == "" {
		return defaultVersion
	}

	switch strings.TrimSpace(version) {
	case "1.2":
		return tls.VersionTLS12
	case "1.3":
		return tls.VersionTLS13
	default:
		logger.Warn("Unknown TLS version, using default", "version", version, "default", defaultVersion)
		return defaultVersion
	}
}
