// Command apiserver runs the Ingest/Operator API (pkg/api): the HTTP
// boundary a source system posts exceptions to and an operator reads
// timelines from or acts on. It shares the same Store the role workers
// commit through, but never publishes to the Event Log directly — every
// write enqueues an outbox row for the worker fleet's outbox dispatcher.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/excproc/pkg/api"
	"github.com/codeready-toolchain/excproc/pkg/store"
	"github.com/codeready-toolchain/excproc/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	os.Exit(run())
}

func run() int {
	envPath := filepath.Join(getEnv("CONFIG_DIR", "./deploy/config"), ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("no .env file loaded", "path", envPath, "error", err)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	slog.Info("starting apiserver", "version", version.Full(), "http_port", httpPort)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(os.Getenv("STORE_URL"))
	if err != nil {
		slog.Error("failed to open store", "error", err)
		return 1
	}
	defer st.Close()

	srv := api.NewServer(st)

	ln, err := net.Listen("tcp", ":"+httpPort)
	if err != nil {
		slog.Error("failed to bind http port", "port", httpPort, "error", err)
		return 1
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.StartWithListener(ln) }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			slog.Error("apiserver failed", "error", err)
			return 2
		}
	}

	slog.Info("shutting down apiserver")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("apiserver shutdown failed", "error", err)
		return 2
	}
	return 0
}

func openStore(storeURL string) (store.Store, error) {
	if storeURL == "" {
		slog.Warn("STORE_URL not set, using in-memory store (not for production use)")
		return store.NewMem(), nil
	}
	cfg, err := parseStoreURL(storeURL)
	if err != nil {
		return nil, err
	}
	return store.Open(cfg)
}

// parseStoreURL accepts a standard postgres:// connection URL, mirroring
// cmd/worker's parser — both binaries bind to the same State Store.
func parseStoreURL(raw string) (store.Config, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return store.Config{}, fmt.Errorf("apiserver: parse STORE_URL: %w", err)
	}
	port := 5432
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}
	password, _ := u.User.Password()
	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}
	database := u.Path
	if len(database) > 0 && database[0] == '/' {
		database = database[1:]
	}
	return store.Config{
		Host:            u.Hostname(),
		Port:            port,
		User:            u.User.Username(),
		Password:        password,
		Database:        database,
		SSLMode:         sslMode,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}, nil
}
