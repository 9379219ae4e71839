package tlsengine

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// CertStore holds the listener keypair and reloads it when the files on disk
// change, so certificate rotation does not require a restart.
type CertStore struct {
	certFile string
	keyFile  string
	current  atomic.Pointer[tls.Certificate]
	logger   *slog.Logger
}

// NewCertStore loads the keypair and returns a store serving it.
func NewCertStore(certFile, keyFile string, logger *slog.Logger) (*CertStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &CertStore{
		certFile: certFile,
		keyFile:  keyFile,
		logger:   logger,
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// GetCertificate serves the current keypair; assign it to
// tls.Config.GetCertificate.
func (s *CertStore) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return s.current.Load(), nil
}

// Reload re-reads the keypair from disk and swaps it in atomically.
func (s *CertStore) Reload() error {
	cert, err := tls.LoadX509KeyPair(s.certFile, s.keyFile)
	if err != nil {
		return fmt.Errorf("load server certificate: %w", err)
	}
	s.current.Store(&cert)
	return nil
}

// Watch reloads the keypair whenever either file changes. It blocks until the
// context is cancelled; run it in its own goroutine.
func (s *CertStore) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the parent directories: editors and cert-manager style rotation
	// replace files rather than writing them in place.
	dirs := map[string]struct{}{
		filepath.Dir(s.certFile): {},
		filepath.Dir(s.keyFile):  {},
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	s.logger.Info("watching certificate files", "cert_file", s.certFile, "key_file", s.keyFile)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !s.relevant(event) {
				continue
			}
			if err := s.Reload(); err != nil {
				s.logger.Error("certificate reload failed", "event", event.Name, "error", err)
				continue
			}
			s.logger.Info("certificate reloaded", "event", event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("certificate watcher error", "error", err)
		}
	}
}

func (s *CertStore) relevant(event fsnotify.Event) bool {
	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Clean(event.Name)
	return name == filepath.Clean(s.certFile) || name == filepath.Clean(s.keyFile)
}
