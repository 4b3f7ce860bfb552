// Package util provides test utilities for State Store integration tests.
package util

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/codeready-toolchain/excproc/pkg/store"
)

var (
	sharedConnStr string
	containerOnce sync.Once
	containerErr  error
)

// NewTestStore opens a store.Store backed by a shared Postgres
// testcontainer (one per package run), with migrations already applied.
// In CI, set CI_DATABASE_URL to point at an external Postgres service
// instead of spinning up a container.
func NewTestStore(t *testing.T) store.Store {
	t.Helper()
	cfg := testStoreConfig(t)

	st, err := store.Open(cfg)
	require.NoError(t, err, "open test store")
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func testStoreConfig(t *testing.T) store.Config {
	t.Helper()
	connStr := getOrCreateSharedDatabase(t)
	return connStringToConfig(connStr)
}

func getOrCreateSharedDatabase(t *testing.T) string {
	t.Helper()
	if ci := os.Getenv("CI_DATABASE_URL"); ci != "" {
		t.Log("using external PostgreSQL from CI_DATABASE_URL")
		return ci
	}

	containerOnce.Do(func() {
		ctx := context.Background()
		t.Log("starting shared PostgreSQL testcontainer")

		pgContainer, err := postgres.Run(ctx,
			"postgres:17-alpine",
			postgres.WithDatabase("excproc_test"),
			postgres.WithUsername("excproc"),
			postgres.WithPassword("excproc"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			containerErr = fmt.Errorf("start postgres container: %w", err)
			return
		}

		connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			containerErr = fmt.Errorf("get connection string: %w", err)
			return
		}
		sharedConnStr = connStr
	})

	require.NoError(t, containerErr, "failed to start shared test container")
	return sharedConnStr
}

// connStringToConfig parses a postgres:// URL into store.Config, the same
// shape cmd/worker's and cmd/apiserver's STORE_URL parsers use.
func connStringToConfig(connStr string) store.Config {
	u, err := url.Parse(connStr)
	if err != nil {
		panic(fmt.Sprintf("util: parse test connection string: %v", err))
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
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 10 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}
