//go:build integration
// +build integration

package usagestore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/c360/resourcekit/storage"
)

func startPostgresContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "resourcekit",
			"POSTGRES_PASSWORD": "resourcekit",
			"POSTGRES_DB":       "usage",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://resourcekit:resourcekit@%s:%s/usage?sslmode=disable", host, port.Port())
	return container, dsn
}

func TestIntegration_PostgresMaintenance(t *testing.T) {
	ctx := context.Background()
	container, dsn := startPostgresContainer(ctx, t)
	defer container.Terminate(ctx)

	s, err := Open(ctx, Config{Driver: DriverPostgres, DSN: dsn})
	require.NoError(t, err)
	defer s.Close()

	now := time.Now()
	require.NoError(t, s.Append(ctx, storage.UsageRecord{Operation: "old", RecordedAt: now.Add(-40 * 24 * time.Hour)}))
	require.NoError(t, s.Append(ctx, storage.UsageRecord{Operation: "new", RecordedAt: now}))

	deleted, err := s.DeleteRecordsOlderThan(ctx, now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	require.NoError(t, s.OptimizeStorage(ctx))

	recent, err := s.Recent(ctx, 5)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "new", recent[0].Operation)
}
