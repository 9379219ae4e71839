// Package main is the entry point for the polis-mtls binary: a TLS-terminating
// gateway whose pipeline hooks drive the phase-gated mTLS control surface.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/polis-mtls/internal/tlsengine"
	"github.com/polisai/polis-mtls/pkg/accesslog"
	"github.com/polisai/polis-mtls/pkg/config"
	"github.com/polisai/polis-mtls/pkg/control"
	"github.com/polisai/polis-mtls/pkg/domain"
	"github.com/polisai/polis-mtls/pkg/logging"
	"github.com/polisai/polis-mtls/pkg/pipeline"
	"github.com/polisai/polis-mtls/pkg/telemetry"
)

const (
	defaultConfigPath = "config.yaml"
	defaultLogLevel   = "info"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for polis-mtls.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "polis-mtls",
		Short: "mTLS negotiation gateway",
		Long: `A TLS-terminating gateway that runs pipeline hooks at each request phase
and exposes a phase-gated control surface for mTLS negotiation: requesting
client certificates, pinning session-reuse behavior, constraining acceptable
client CAs, reading the negotiated chain, and overriding the client-verify
verdict recorded in the access log.`,
		RunE: runGateway,
	}

	rootCmd.Flags().StringP("config", "c", defaultConfigPath, "Path to configuration file (YAML)")
	rootCmd.Flags().StringP("log-level", "l", defaultLogLevel, "Log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("pretty", false, "Enable pretty console logging")

	return rootCmd
}

func runGateway(cmd *cobra.Command, args []string) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return fmt.Errorf("failed to get log-level flag: %w", err)
	}
	pretty, err := cmd.Flags().GetBool("pretty")
	if err != nil {
		return fmt.Errorf("failed to get pretty flag: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if pretty {
		cfg.Logging.Pretty = true
	}

	logCfg := logging.Config{Level: cfg.Logging.Level, Pretty: cfg.Logging.Pretty}
	logging.SetupLogger(logCfg)
	logger := logging.NewLogger(logCfg)
	slog.SetDefault(logger)

	logger.Info("Starting polis-mtls", "config", configPath, "data_address", cfg.Server.DataAddress)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: "polis-mtls",
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Environment: cfg.Telemetry.Environment,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}

	metrics := control.NewMetrics()
	runner := pipeline.NewRunner(accesslog.New(os.Stdout), logger)
	if err := registerHooks(runner, cfg.Server.TLS, logger); err != nil {
		return err
	}

	store, err := tlsengine.NewCertStore(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile, logger)
	if err != nil {
		return fmt.Errorf("load server keypair: %w", err)
	}
	go func() {
		if err := store.Watch(ctx); err != nil {
			logger.Error("certificate watcher stopped", "error", err)
		}
	}()

	negotiate := func(ctx context.Context, engine *tlsengine.ConnEngine) error {
		ctrl, err := control.NewController(engine, metrics, logger)
		if err != nil {
			return err
		}
		rc := runner.NewRequest(domain.TLSInfo{})
		return runner.RunPhase(ctx, domain.PhaseCertificateNegotiation, rc, ctrl)
	}

	tlsCfg, err := tlsengine.BuildServerConfig(tlsengine.Config{
		CertFile:   cfg.Server.TLS.CertFile,
		KeyFile:    cfg.Server.TLS.KeyFile,
		MinVersion: cfg.Server.TLS.MinVersion,
	}, store, negotiate, logger)
	if err != nil {
		return fmt.Errorf("build TLS config: %w", err)
	}

	dataServer := startDataServer(cfg.Server.DataAddress, tlsCfg, runner, metrics, logger)
	adminServer := startAdminServer(cfg.Server.AdminAddress, metrics, logger)

	waitForShutdown(dataServer, adminServer, shutdownTelemetry, logger)
	return nil
}

// registerHooks installs the pipeline logic driven by configuration: the
// negotiation-phase mTLS policy and an access-phase hook that inspects the
// negotiated chain and pins the verify verdict for the audit trail.
func registerHooks(runner *pipeline.Runner, tlsCfg config.TLSConfig, logger *slog.Logger) error {
	var clientCAs *x509.CertPool
	if tlsCfg.ClientCAFile != "" {
		pool, err := tlsengine.LoadClientCAPool(tlsCfg.ClientCAFile)
		if err != nil {
			return fmt.Errorf("load client CA bundle: %w", err)
		}
		clientCAs = pool
	}

	runner.Register(domain.PhaseCertificateNegotiation, func(ctx context.Context, phase domain.Phase, rc *domain.RequestContext, ctrl *control.Controller) error {
		if tlsCfg.DisableSessionReuse {
			if err := ctrl.DisableSessionReuse(phase); err != nil {
				return err
			}
		}
		if !tlsCfg.RequestClientCert {
			return nil
		}
		if err := ctrl.RequestClientCertificate(phase); err != nil {
			return err
		}
		return ctrl.SetClientCAList(phase, clientCAs)
	})

	runner.Register(domain.PhaseAccess, func(ctx context.Context, phase domain.Phase, rc *domain.RequestContext, ctrl *control.Controller) error {
		chain, err := ctrl.FullClientCertificateChain(phase)
		if err != nil {
			return err
		}
		if chain == "" {
			// The client declined the certificate request: pin the verdict so
			// the access entry reflects client behavior, not a failure.
			return ctrl.SetClientVerifyOverride(phase, rc, domain.VerifyNone)
		}
		logger.Debug("client certificate chain negotiated",
			"request_id", rc.ID, "chain_bytes", len(chain))
		return nil
	})

	return nil
}

func startDataServer(addr string, tlsCfg *tls.Config, runner *pipeline.Runner, metrics *control.Metrics, logger *slog.Logger) *http.Server {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := runner.NewRequest(tlsengine.InfoFromState(r.TLS))
		ctrl, err := control.NewController(tlsengine.NewNegotiatedEngine(r.TLS, logger), metrics, logger)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		defer runner.Finish(r.Context(), rc, ctrl)

		if err := runner.RunRequestPhases(r.Context(), rc, ctrl); err != nil {
			http.Error(w, "request rejected", http.StatusForbidden)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:         addr,
		Handler:      otelhttp.NewHandler(handler, "polis.mtls"),
		TLSConfig:    tlsCfg,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		// Certificates come from the store via GetCertificate.
		if err := server.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
			logger.Error("Data server failed", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("Data server listening", "addr", addr)
	return server
}

func startAdminServer(addr string, metrics *control.Metrics, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Admin server failed", "error", err)
		}
	}()

	logger.Info("Admin server listening", "addr", addr)
	return server
}

func waitForShutdown(dataServer, adminServer *http.Server, shutdownTelemetry func(context.Context) error, logger *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh

	logger.Info("Shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := dataServer.Shutdown(ctx); err != nil {
		logger.Error("Data server shutdown error", "error", err)
	}
	if err := adminServer.Shutdown(ctx); err != nil {
		logger.Error("Admin server shutdown error", "error", err)
	}
	if err := shutdownTelemetry(ctx); err != nil {
		logger.Error("Telemetry shutdown error", "error", err)
	}
}
