package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"noto/internal/app"
	"noto/internal/version"
)

const (
	modeServer  = "server"
	modeClient  = "client"
	modeLocal   = "local"
	modeVersion = "version"
)

func main() {
	mode, args := parseMode(os.Args[1:])
	if mode == modeVersion {
		fmt.Println(version.String())
		return
	}
	flagSet := flag.NewFlagSet("noto", flag.ExitOnError)
	configFile := flagSet.String("config", "", "YAML config file (defaults to ./noto.yaml when present)")
	envFile := flagSet.String("env-file", "", "dotenv file (defaults to ./.env when present)")
	addr := flagSet.String("addr", "", "server listen address (overrides NOTO_ADDR)")
	db := flagSet.String("db", "", "server sqlite database path (overrides NOTO_DB_PATH)")
	backend := flagSet.String("backend", "", "backend base URL for the client (overrides NOTO_BACKEND_BASE_URL)")
	flagSet.Parse(args)

	cfg, err := app.Load(app.LoadOptions{ConfigFile: *configFile, EnvFile: *envFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "noto: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *db != "" {
		cfg.Server.DBPath = *db
	}
	if *backend != "" {
		cfg.Client.BackendURL = strings.TrimRight(*backend, "/")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch mode {
	case modeServer:
		err = runServerMode(ctx, cfg.Server)
	case modeLocal:
		if *addr == "" {
			cfg.Server.Addr = "127.0.0.1:0"
		}
		err = runLocalMode(ctx, cfg.Server, cfg.Client)
	default:
		err = app.RunClient(ctx, cfg.Client)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "noto: %v\n", err)
		os.Exit(1)
	}
}

func runServerMode(ctx context.Context, cfg app.ServerConfig) error {
	handle, err := app.RunServer(ctx, cfg)
	if err != nil {
		return err
	}
	return handle.Wait()
}

// runLocalMode runs a private backend next to the client. Server logs would
// tear the TUI, so they go to the log file or nowhere.
func runLocalMode(ctx context.Context, serverCfg app.ServerConfig, clientCfg app.ClientConfig) error {
	if serverCfg.LogFile == "" {
		serverCfg.LogLevel = "off"
	}
	handle, err := app.RunServer(ctx, serverCfg)
	if err != nil {
		return err
	}
	defer stopServer(handle)

	clientCfg.BackendURL = handle.URL()
	if err := waitForServer(clientCfg.BackendURL+clientCfg.Paths.Health, 5*time.Second); err != nil {
		return err
	}

	if err := app.RunClient(ctx, clientCfg); err != nil {
		return err
	}
	stopServer(handle)
	return handle.Wait()
}

func waitForServer(healthURL string, timeout time.Duration) error {
	client := &http.Client{Timeout: 500 * time.Millisecond}
	deadline := time.Now().Add(timeout)
	for {
		resp, err := client.Get(healthURL)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
			err = fmt.Errorf("health check returned %d", resp.StatusCode)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("server did not become ready: %w", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func parseMode(args []string) (string, []string) {
	if len(args) == 0 {
		return modeClient, args
	}
	switch strings.ToLower(args[0]) {
	case modeServer, modeClient, modeLocal, modeVersion:
		return strings.ToLower(args[0]), args[1:]
	}
	return modeClient, args
}

func stopServer(handle *app.ServerHandle) {
	if handle == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = handle.Stop(shutdownCtx)
}
