// Package config provides configuration structures and loading logic for the
// gateway binary.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the global configuration for the gateway.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds configuration for the data and admin listeners.
type ServerConfig struct {
	DataAddress  string    `yaml:"data_address"`
	AdminAddress string    `yaml:"admin_address"`
	TLS          TLSConfig `yaml:"tls"`
}

// TLSConfig holds the listener TLS settings and the mTLS negotiation policy
// applied during the certificate-negotiation phase.
type TLSConfig struct {
	CertFile     string `yaml:"cert_file"`
	KeyFile      string `yaml:"key_file"`
	ClientCAFile string `yaml:"client_ca_file"`
	MinVersion   string `yaml:"min_version"`

	// RequestClientCert asks (not requires) clients for a certificate.
	RequestClientCert bool `yaml:"request_client_cert"`
	// DisableSessionReuse forces a full handshake on every connection so
	// resumption cannot bypass client re-verification.
	DisableSessionReuse bool `yaml:"disable_session_reuse"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Environment  string `yaml:"environment"`
	Insecure     bool   `yaml:"insecure"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Load reads configuration from a file and applies environment variable
// overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			DataAddress:  ":8443",
			AdminAddress: ":19090",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}

	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("POLIS_MTLS_DATA_ADDRESS"); v != "" {
		cfg.Server.DataAddress = v
	}
	if v := os.Getenv("POLIS_MTLS_ADMIN_ADDRESS"); v != "" {
		cfg.Server.AdminAddress = v
	}
	if v := os.Getenv("POLIS_MTLS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("POLIS_MTLS_OTLP_ENDPOINT"); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
}

// Validate checks the configuration for missing or inconsistent fields.
func (c *Config) Validate() error {
	if c.Server.DataAddress == "" {
		return NewConfigMissingError("server.data_address")
	}
	if c.Server.TLS.CertFile == "" {
		return NewConfigMissingError("server.tls.cert_file")
	}
	if c.Server.TLS.KeyFile == "" {
		return NewConfigMissingError("server.tls.key_file")
	}
	if c.Server.TLS.RequestClientCert && c.Server.TLS.ClientCAFile == "" {
		return NewConfigValidationError("server.tls.client_ca_file", "",
			"a client CA file is required when requesting client certificates").
			WithSuggestion("Set server.tls.client_ca_file to a PEM bundle of acceptable client CAs")
	}
	if v := c.Server.TLS.MinVersion; v != "" {
		switch strings.TrimSpace(v) {
		case "1.2", "1.3":
			// ok
		default:
			return NewConfigValidationError("server.tls.min_version", v,
				"must be \"1.2\" or \"1.3\"")
		}
	}
	return nil
}
