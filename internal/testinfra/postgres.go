// Package testinfra provides Postgres for integration tests. Each test gets
// its own freshly migrated database, created on the server named by
// ARENA_TEST_DATABASE_URL or, when that is unset, on a postgres container
// started once per test binary. Tests skip when neither is reachable.
package testinfra

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/whisper/arena/internal/storage"
)

const (
	EnvDatabaseURL = "ARENA_TEST_DATABASE_URL"

	postgresImage = "postgres:16-alpine"
	postgresPort  = "5432/tcp"
)

var (
	serverOnce sync.Once
	serverURL  string
	serverErr  error
)

// OpenPostgres returns a pool on a new, migrated database that is dropped when
// the test finishes.
func OpenPostgres(t *testing.T) *sql.DB {
	t.Helper()

	base, err := baseURL()
	if err != nil {
		t.Skipf("Skipping test: postgres not available: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	admin, err := storage.Open(ctx, storage.PoolConfig{URL: base, MaxOpenConns: 2, MaxIdleConns: 1})
	if err != nil {
		t.Skipf("Skipping test: postgres not reachable: %v", err)
	}

	name := "arena_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if _, err := admin.ExecContext(ctx, "CREATE DATABASE "+name); err != nil {
		admin.Close()
		t.Fatalf("create database %s: %v", name, err)
	}

	dbURL, err := withDatabase(base, name)
	if err != nil {
		admin.Close()
		t.Fatalf("build database url: %v", err)
	}

	db, err := storage.Open(ctx, storage.PoolConfig{URL: dbURL, MaxOpenConns: 10, MaxIdleConns: 5, ConnMaxLifetime: time.Minute})
	if err != nil {
		admin.Close()
		t.Fatalf("open %s: %v", name, err)
	}
	if err := storage.Migrate(ctx, db); err != nil {
		db.Close()
		admin.Close()
		t.Fatalf("migrate %s: %v", name, err)
	}

	t.Cleanup(func() {
		db.Close()
		cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer ccancel()
		if _, err := admin.ExecContext(cctx, "DROP DATABASE IF EXISTS "+name+" WITH (FORCE)"); err != nil {
			t.Logf("Warning: drop database %s: %v", name, err)
		}
		admin.Close()
	})

	return db
}

func baseURL() (string, error) {
	if u := os.Getenv(EnvDatabaseURL); u != "" {
		return u, nil
	}
	serverOnce.Do(func() {
		serverURL, serverErr = startContainer()
	})
	return serverURL, serverErr
}

// startContainer runs a throwaway postgres. The container outlives individual
// tests and is reaped by testcontainers when the test binary exits.
func startContainer() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	req := testcontainers.ContainerRequest{
		Image:        postgresImage,
		ExposedPorts: []string{postgresPort},
		Env: map[string]string{
			"POSTGRES_USER":     "arena",
			"POSTGRES_PASSWORD": "arena",
			"POSTGRES_DB":       "arena",
		},
		WaitingFor: wait.ForAll(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort(postgresPort),
		).WithStartupTimeout(90 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", fmt.Errorf("create postgres container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		container.Terminate(ctx) //nolint:errcheck
		return "", fmt.Errorf("get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, postgresPort)
	if err != nil {
		container.Terminate(ctx) //nolint:errcheck
		return "", fmt.Errorf("get mapped port: %w", err)
	}

	return fmt.Sprintf("postgres://arena:arena@%s:%s/arena?sslmode=disable", host, port.Port()), nil
}

func withDatabase(raw, name string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("%s must be a postgres:// URL", EnvDatabaseURL)
	}
	u.Path = "/" + name
	return u.String(), nil
}
