// Package pluginserver publishes the connector plugin archive over HTTP so
// that Kafka Connect workers can fetch it.
package pluginserver

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/canonical/kafkacl/pkg/errors"
	"github.com/canonical/kafkacl/pkg/observability"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"
)

// DefaultPluginFile is the archive name served when none is configured.
const DefaultPluginFile = "plugin.tar"

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
	healthTimeout     = 2 * time.Second
)

// Config configures the server
type Config struct {
	ListenAddress string
	// AdvertiseAddress is the host:port put in the plugin URL; the bound
	// listener address is used when empty.
	AdvertiseAddress string
	ResourceDir      string
	PluginFile       string
}

// Server serves ResourceDir and answers /healthz.
type Server struct {
	config Config
	logger *zap.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New creates a stopped server
func New(cfg Config, logger *zap.Logger) *Server {
	if cfg.PluginFile == "" {
		cfg.PluginFile = DefaultPluginFile
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		config: cfg,
		logger: logger.With(zap.String("component", "plugin_server")),
	}
}

// Configure prepares the resource directory.
func (s *Server) Configure() error {
	if s.config.ResourceDir == "" {
		return errors.New(errors.ErrorTypeConfig, "plugin server resource directory is required")
	}
	if err := os.MkdirAll(s.config.ResourceDir, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to create plugin resource directory").
			WithDetail("dir", s.config.ResourceDir)
	}
	return nil
}

// PluginPath is the location of the served archive on disk
func (s *Server) PluginPath() string {
	return filepath.Join(s.config.ResourceDir, s.config.PluginFile)
}

func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("GET /", http.FileServer(http.Dir(s.config.ResourceDir)))
	return observability.TracingMiddleware("kafkacl-plugin-server")(gzhttp.GzipHandler(mux))
}

// Start binds the listener and serves in the background. Starting a running
// server is a no-op.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return nil
	}
	if err := s.Configure(); err != nil {
		return err
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.config.ListenAddress)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to start plugin server").
			WithDetail("address", s.config.ListenAddress)
	}

	srv := &http.Server{
		Handler:           s.handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	go func() {
		if err := srv.Serve(listener); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			s.logger.Error("plugin server stopped", zap.Error(err))
		}
	}()

	s.server, s.listener = srv, listener
	s.logger.Info("plugin server listening", zap.String("address", listener.Addr().String()), zap.String("url", s.urlLocked()))
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked(ctx)
}

func (s *Server) stopLocked(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	err := s.server.Shutdown(ctx)
	s.server, s.listener = nil, nil
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "plugin server shutdown failed")
	}
	s.logger.Info("plugin server stopped")
	return nil
}

// Restart stops and starts the server.
func (s *Server) Restart(ctx context.Context) error {
	s.mu.Lock()
	err := s.stopLocked(ctx)
	s.mu.Unlock()
	if err != nil {
		s.logger.Warn("plugin server did not stop cleanly", zap.Error(err))
	}
	return s.Start(ctx)
}

// Addr returns the bound address, empty when stopped
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// URL returns the plugin URL advertised to Kafka Connect.
func (s *Server) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.urlLocked()
}

func (s *Server) urlLocked() string {
	host := s.config.AdvertiseAddress
	if host == "" {
		if s.listener != nil {
			host = s.listener.Addr().String()
		} else {
			host = s.config.ListenAddress
		}
	}
	return "http://" + host + "/" + s.config.PluginFile
}

// Healthy reports whether the server answers its health endpoint and the
// plugin archive is in place.
func (s *Server) Healthy(ctx context.Context) bool {
	addr := s.Addr()
	if addr == "" {
		return false
	}
	if _, err := os.Stat(s.PluginPath()); err != nil {
		s.logger.Debug("plugin archive missing", zap.String("path", s.PluginPath()))
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		s.logger.Debug("plugin server health check failed", zap.Error(err))
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
