package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "cfgvault.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":8080", c.Server.Addr)
	require.Equal(t, "override", c.Sources.Strategy)
	require.Equal(t, "skip_failed", c.Sources.Fallback)
	require.Equal(t, 30*time.Second, c.CacheTTL())
	require.Equal(t, "bidirectional", c.Sync.Direction)
	require.Equal(t, "main", c.VCS.DefaultBranch)
	require.Len(t, c.Repositories, 1)
	require.Equal(t, "memory", c.Repositories[0].Driver)
	require.Zero(t, c.SyncInterval())
	require.Zero(t, c.Server.RateLimit.Max)
	require.Equal(t, time.Minute, c.RateLimitWindow())
}

func TestLoadFileAndRelativePaths(t *testing.T) {
	p := writeYAML(t, `
repositories:
  - name: local
    driver: FS
    path: data/local.yaml
    priority: 10
  - name: remote
    driver: memory
sources:
  strategy: MERGE
sync:
  local: local
  remote: remote
  interval: 1m
vcs:
  state_path: state/vcs.yaml
`)
	c, err := Load(p)
	require.NoError(t, err)

	dir := filepath.Dir(p)
	r, ok := c.Repository("local")
	require.True(t, ok)
	require.Equal(t, "fs", r.Driver)
	require.Equal(t, filepath.Join(dir, "data", "local.yaml"), r.Path)
	require.Equal(t, filepath.Join(dir, "state", "vcs.yaml"), c.VCS.StatePath)
	require.Equal(t, "merge", c.Sources.Strategy)
	require.Equal(t, time.Minute, c.SyncInterval())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CFGVAULT_SERVER_ADDR", ":9090")
	t.Setenv("CFGVAULT_SYNC_RESOLUTION", "client_wins")
	t.Setenv("CFGVAULT_RATE_LIMIT_MAX", "120")
	t.Setenv("CFGVAULT_REPO_MAIN_DB_DSN", "postgres://x")

	p := writeYAML(t, `
repositories:
  - name: main-db
    driver: pg
`)
	c, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, ":9090", c.Server.Addr)
	require.Equal(t, "client_wins", c.Sync.Resolution)
	require.Equal(t, 120, c.Server.RateLimit.Max)
	require.Equal(t, "postgres://x", c.Repositories[0].DSN)
}

func TestValidateCollectsProblems(t *testing.T) {
	p := writeYAML(t, `
repositories:
  - name: a
    driver: etcd
  - name: a
    driver: fs
server:
  rate_limit:
    window: never
sources:
  cache_ttl: soon
sync:
  local: a
  remote: ghost
  interval: "-1s"
`)
	_, err := Load(p)
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{"duplicate repository", "unknown driver", "fs requires path", "cache_ttl", "rate_limit.window", "sync.remote", "sync.interval"} {
		require.True(t, strings.Contains(msg, want), "missing %q in %s", want, msg)
	}
}
