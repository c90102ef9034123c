package app

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"noto/internal/api"
	"noto/internal/keepalive"
	"noto/internal/logging"
	"noto/internal/popup"
	"noto/internal/presence"
	"noto/internal/sessionstore"
	"noto/internal/storage"
	"noto/internal/tui"
)

// RunClient starts the shared heartbeat, opens session storage and runs the
// terminal shell until the user quits or ctx ends.
func RunClient(ctx context.Context, cfg ClientConfig) error {
	if cfg.BackendURL == "" {
		return errors.New("backend URL is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	logger, logFile, err := openLogger("noto", cfg.LogLevel, cfg.LogFile, io.Discard)
	if err != nil {
		return err
	}
	defer logFile.Close()

	backend := api.NewClient(cfg.BackendURL, api.WithPaths(cfg.Paths))
	heartbeat := keepalive.Shared(backend.HealthURL(),
		keepalive.WithInterval(cfg.HeartbeatInterval),
		keepalive.WithLogger(logger),
	)
	heartbeat.Start()
	defer heartbeat.Stop()

	store, closeStore := openSessionStore(cfg, logger)
	defer closeStore()

	model := tui.NewModel(tui.Config{
		Backend:   backend,
		Store:     store,
		Heartbeat: heartbeat,
		Logger:    logger,
		TrackerOptions: []presence.Option{
			presence.WithRefreshInterval(cfg.RefreshInterval),
			presence.WithPingInterval(cfg.PingInterval),
		},
		GateOptions: []popup.Option{
			popup.WithDelay(cfg.PopupDelay),
		},
	})
	defer model.Close()

	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// openSessionStore picks the storage behind the popup gate. Without a path
// the session lives in memory for the life of the process. A database that
// cannot be opened degrades to an unavailable store, so the popup still
// works but is not remembered.
func openSessionStore(cfg ClientConfig, logger logging.Logger) (sessionstore.Store, func()) {
	if cfg.SessionDBPath == "" {
		return sessionstore.NewMemory(), func() {}
	}
	if !isMemoryDSN(cfg.SessionDBPath) {
		if err := os.MkdirAll(filepath.Dir(cfg.SessionDBPath), 0o700); err != nil {
			logger.Warnf("session storage unavailable: %v", err)
			return sessionstore.Unavailable{Err: err}, func() {}
		}
	}
	db, err := storage.NewStore(cfg.SessionDBPath)
	if err == nil {
		err = db.Migrate(context.Background())
		if err != nil {
			_ = db.Close()
		}
	}
	if err != nil {
		logger.Warnf("session storage unavailable: %v", err)
		return sessionstore.Unavailable{Err: err}, func() {}
	}
	logger.Debugf("session storage %s scope %s", cfg.SessionDBPath, cfg.SessionScope)
	return sessionstore.NewSQLite(db, cfg.SessionScope), func() { _ = db.Close() }
}
