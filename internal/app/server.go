package app

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"

	"noto/internal/logging"
	"noto/internal/server"
	"noto/internal/storage"
)

// ServerHandle represents a running visitor backend.
type ServerHandle struct {
	addr    string
	server  *http.Server
	store   *storage.Store
	logger  logging.Logger
	logFile io.Closer
	cancel  context.CancelFunc
	janitor sync.WaitGroup
	done    chan struct{}
	err     error
}

// Addr returns the actual listen address (after the OS allocated a port).
func (h *ServerHandle) Addr() string {
	return h.addr
}

// URL is the http base URL clients should use.
func (h *ServerHandle) URL() string {
	host, port, err := net.SplitHostPort(h.addr)
	if err != nil {
		return "http://" + h.addr
	}
	if host == "" || host == "::" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// Stop triggers a graceful shutdown with the provided context deadline.
func (h *ServerHandle) Stop(ctx context.Context) error {
	if h == nil || h.server == nil {
		return nil
	}
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	return h.server.Shutdown(ctx)
}

// Wait blocks until the server exits.
func (h *ServerHandle) Wait() error {
	if h == nil {
		return nil
	}
	<-h.done
	return h.err
}

// RunServer opens the SQLite store, runs migrations, starts the janitor and
// serves in the background. Call Stop/Wait to manage its lifecycle.
func RunServer(ctx context.Context, cfg ServerConfig) (*ServerHandle, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	logger, logFile, err := openLogger("noto-server", cfg.LogLevel, cfg.LogFile, os.Stderr)
	if err != nil {
		return nil, err
	}

	if !isMemoryDSN(cfg.DBPath) {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
			_ = logFile.Close()
			return nil, pkgerrors.Wrap(err, "create db dir")
		}
	}
	store, err := storage.NewStore(cfg.DBPath)
	if err != nil {
		_ = logFile.Close()
		return nil, pkgerrors.Wrap(err, "open store")
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		_ = logFile.Close()
		return nil, pkgerrors.Wrap(err, "migrate")
	}

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithSessionTTL(cfg.SessionTTL),
		server.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
		server.WithTrustProxy(cfg.TrustProxy),
	}
	if len(cfg.AllowOrigins) > 0 {
		opts = append(opts, server.WithAllowOrigins(cfg.AllowOrigins...))
	}
	srv := server.NewServer(store, opts...)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		_ = store.Close()
		_ = logFile.Close()
		return nil, pkgerrors.Wrap(err, "listen")
	}

	janitorCtx, cancel := context.WithCancel(ctx)
	handle := &ServerHandle{
		addr:    listener.Addr().String(),
		server:  httpServer,
		store:   store,
		logger:  logger,
		logFile: logFile,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	handle.janitor.Add(1)
	go func() {
		defer handle.janitor.Done()
		srv.Janitor(janitorCtx, cfg.JanitorInterval)
	}()

	go func() {
		select {
		case <-ctx.Done():
		case <-handle.done:
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("server shutdown error: %v", err)
		}
	}()

	go handle.serve(listener)

	logger.Infof("visitor backend listening on %s (db %s)", handle.addr, cfg.DBPath)
	return handle, nil
}

func (h *ServerHandle) serve(listener net.Listener) {
	defer close(h.done)
	err := h.server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	h.cancel()
	h.janitor.Wait()
	if err := h.store.Close(); err != nil {
		h.logger.Errorf("store close error: %v", err)
	}
	_ = h.logFile.Close()
	h.err = err
}

func isMemoryDSN(path string) bool {
	return strings.Contains(path, ":memory:") || strings.Contains(path, "mode=memory")
}
