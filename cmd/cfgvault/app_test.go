package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dropDatabas3/cfgvault/internal/config"
	"github.com/dropDatabas3/cfgvault/internal/syncer"
	"github.com/dropDatabas3/cfgvault/internal/vcs"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "cfgvault.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
repositories:
  - name: local
    driver: fs
    path: local.yaml
    priority: 1
  - name: remote
    driver: memory
    priority: 5
sync:
  local: local
  remote: remote
  direction: push
vcs:
  state_path: state/vcs.yaml
`), 0o600))
	cfg, err := config.Load(p)
	require.NoError(t, err)
	return cfg
}

func TestBuildWiresEverything(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	a, err := build(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	require.Len(t, a.sources.Sources(), 2)
	require.NotNil(t, a.sync)

	// escritura vía source manager: va al repo de mayor prioridad y queda en el journal
	start := time.Now().Add(-time.Second)
	require.NoError(t, a.sources.Set(ctx, "db.host", "pg-1", ""))
	keys, err := a.journal.ChangedKeysSince(start)
	require.NoError(t, err)
	require.Equal(t, []string{"db.host"}, keys)

	res, err := a.sync.Sync(ctx, syncer.RunOptions{})
	require.NoError(t, err)
	require.Equal(t, syncer.StatusCompleted, res.Status)
	remote, err := a.repo("remote")
	require.NoError(t, err)
	v, ok, err := remote.Get(ctx, "db.host")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "pg-1", v)

	_, err = a.repo("ghost")
	require.Error(t, err)
}

func TestStateRoundTripAndInspect(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	a, err := build(ctx, cfg, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, a.vcs.Set("app.name", "demo"))
	require.NoError(t, a.vcs.Stage())
	_, err = a.vcs.Commit(ctx, "initial", "ana")
	require.NoError(t, err)
	_, err = a.vcs.CreateTag("v1.0.0", "", "first release", "ana")
	require.NoError(t, err)
	require.NoError(t, a.saveState())
	a.Close()

	// un build nuevo levanta el estado guardado
	b, err := build(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer b.Close()
	require.Equal(t, 1, b.vcs.CommitCount())

	f, err := os.Open(cfg.VCS.StatePath)
	require.NoError(t, err)
	defer f.Close()
	c := vcs.New(vcs.Options{})
	require.NoError(t, c.ImportYAML(f))

	var out bytes.Buffer
	require.NoError(t, printState(&out, c))
	require.Contains(t, out.String(), "current: main")
	require.Contains(t, out.String(), "commits: 1")
	require.Contains(t, out.String(), "v1.0.0")
}

func TestBuildRejectsBadSyncSettings(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sync.Resolution = "coin_flip"
	_, err := build(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
}
