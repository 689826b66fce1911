package factory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/cfgvault/internal/config"
)

func TestOpenMemoryAndFS(t *testing.T) {
	ctx := context.Background()
	opened, err := OpenAll(ctx, []config.Repository{
		{Name: "mem", Driver: "memory"},
		{Name: "disk", Driver: "fs", Path: filepath.Join(t.TempDir(), "c.yaml")},
	}, nil)
	require.NoError(t, err)
	defer CloseAll(opened, nil)

	require.Len(t, opened, 2)
	require.Equal(t, "mem", opened[0].Repo.Name())
	require.Equal(t, "disk", opened[1].Repo.Name())

	require.NoError(t, opened[1].Repo.Set(ctx, "a.b", 1))
	v, ok, err := opened[1].Repo.Get(ctx, "a.b")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 1, v)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := OpenAll(context.Background(), []config.Repository{
		{Name: "mem", Driver: "memory"},
		{Name: "x", Driver: "etcd"},
	}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), `"x"`)
}

func TestTargetHidesSecrets(t *testing.T) {
	require.Equal(t, "postgres://app:***@db/cfg", target(config.Repository{Driver: "pg", DSN: "postgres://app:pw@db/cfg"}))
	require.Equal(t, "localhost:6379", target(config.Repository{Driver: "redis", Addr: "localhost:6379"}))
	require.Equal(t, "memory", target(config.Repository{Driver: "memory"}))
}
