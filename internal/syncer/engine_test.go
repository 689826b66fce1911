package syncer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/cfgvault/internal/domain/errs"
	"github.com/dropDatabas3/cfgvault/internal/store"
	"github.com/dropDatabas3/cfgvault/internal/store/adapters/memory"
)

// spy cuenta escrituras y puede bloquear ListKeys hasta que se cierre gate.
type spy struct {
	*memory.Repo
	sets atomic.Int64
	gate chan struct{}
}

func newSpy(name string, data map[string]any) *spy {
	return &spy{Repo: memory.NewFromTree(name, data)}
}

func (s *spy) Set(ctx context.Context, key string, value any) error {
	s.sets.Add(1)
	return s.Repo.Set(ctx, key, value)
}

func (s *spy) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.Repo.ListKeys(ctx, prefix)
}

type broken struct{ *memory.Repo }

func (broken) ListKeys(context.Context, string) ([]string, error) {
	return nil, errors.New("connection refused")
}

type staticFeed []string

func (f staticFeed) ChangedKeysSince(time.Time) ([]string, error) { return f, nil }

func get(t *testing.T, r store.Repository, key string) any {
	t.Helper()
	v, ok, err := r.Get(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok, "missing %s in %s", key, r.Name())
	return v
}

func newEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	e, err := New(opts)
	require.NoError(t, err)
	return e
}

func TestSelectiveServerWins(t *testing.T) {
	ctx := context.Background()
	local := memory.NewFromTree("client", map[string]any{
		"db":  map[string]any{"host": "x"},
		"app": map[string]any{"name": "local-only"},
	})
	remote := memory.NewFromTree("server", map[string]any{
		"db": map[string]any{"host": "y", "port": 5432},
	})
	e := newEngine(t, Options{Local: local, Remote: remote})

	res, err := e.Sync(ctx, RunOptions{Strategy: Selective, Namespaces: []string{"db"}, Resolution: ServerWins})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, res.Status)
	require.Equal(t, 2, res.Examined)
	require.Equal(t, 2, res.Pulled)
	require.Len(t, res.Conflicts, 1)
	require.True(t, res.Conflicts[0].Resolved)
	require.Equal(t, "y", res.Conflicts[0].ResolvedValue)

	snap, err := store.Snapshot(ctx, local, "db")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"db": map[string]any{"host": "y", "port": 5432}}, snap)

	// fuera del namespace no se toca nada
	_, ok, err := remote.Get(ctx, "app.name")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, Idle, e.State())
}

func TestPullNeverWritesRemote(t *testing.T) {
	ctx := context.Background()
	local := newSpy("client", map[string]any{"a": 1, "c": "local"})
	remote := newSpy("server", map[string]any{"b": 2, "c": "server"})
	e := newEngine(t, Options{Local: local, Remote: remote, Direction: Pull})

	for _, res := range []Resolution{ClientWins, MergeValues, ServerWins} {
		_, err := e.Sync(ctx, RunOptions{Resolution: res})
		require.NoError(t, err)
	}
	require.Zero(t, remote.sets.Load())
	require.Equal(t, 2, get(t, local, "b"))
	require.Equal(t, "server", get(t, local, "c"))

	_, ok, err := remote.Get(ctx, "a")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPushNeverWritesLocal(t *testing.T) {
	ctx := context.Background()
	local := newSpy("client", map[string]any{"a": 1, "c": "local"})
	remote := newSpy("server", map[string]any{"c": "server"})
	e := newEngine(t, Options{Local: local, Remote: remote, Direction: Push, Resolution: ClientWins})

	res, err := e.Sync(ctx, RunOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, res.Pushed)
	require.Zero(t, res.Pulled)
	require.Zero(t, local.sets.Load())
	require.Equal(t, "local", get(t, remote, "c"))
	require.Equal(t, 1, get(t, remote, "a"))
}

func TestManualLeavesConflictPendingUntilResolved(t *testing.T) {
	ctx := context.Background()
	local := memory.NewFromTree("client", map[string]any{"k": "a", "j": 1})
	remote := memory.NewFromTree("server", map[string]any{"k": "b", "j": 2})
	e := newEngine(t, Options{Local: local, Remote: remote, Resolution: Manual})

	res, err := e.Sync(ctx, RunOptions{})
	require.NoError(t, err)
	require.Equal(t, StatusConflict, res.Status)
	require.Equal(t, 2, res.Unresolved())
	require.Equal(t, Conflict, e.State())

	pending := e.Pending()
	require.Len(t, pending, 2)
	require.Equal(t, "j", pending[0].Key)
	require.Equal(t, "k", pending[1].Key)

	// sin valor manual el conflicto sigue pendiente
	resolved, err := e.ResolveConflicts(ctx, []string{"k"}, Manual, nil)
	require.NoError(t, err)
	require.Empty(t, resolved)
	require.Len(t, e.Pending(), 2)

	resolved, err = e.ResolveConflicts(ctx, []string{"k"}, Manual, map[string]any{"k": "m"})
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	require.Equal(t, "m", get(t, local, "k"))
	require.Equal(t, "m", get(t, remote, "k"))
	require.Equal(t, Conflict, e.State())

	resolved, err = e.ResolveConflicts(ctx, nil, ClientWins, nil)
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	require.Equal(t, 1, get(t, remote, "j"))
	require.Empty(t, e.Pending())
	require.Equal(t, Idle, e.State())

	_, err = e.ResolveConflicts(ctx, nil, Abort, nil)
	require.ErrorIs(t, err, errs.ErrAborted)
}

func TestMergeValues(t *testing.T) {
	ctx := context.Background()
	local := memory.NewFromTree("client", map[string]any{"tags": []any{"a"}, "name": "x"})
	remote := memory.NewFromTree("server", map[string]any{"tags": []any{"b"}, "name": "y"})
	e := newEngine(t, Options{Local: local, Remote: remote, Resolution: MergeValues})

	res, err := e.Sync(ctx, RunOptions{})
	require.NoError(t, err)
	require.Equal(t, StatusConflict, res.Status)
	require.Equal(t, []any{"a", "b"}, get(t, local, "tags"))
	require.Equal(t, []any{"a", "b"}, get(t, remote, "tags"))

	pending := e.Pending()
	require.Len(t, pending, 1)
	require.Equal(t, "name", pending[0].Key)
}

func TestAbortStopsTheRun(t *testing.T) {
	ctx := context.Background()
	local := memory.NewFromTree("client", map[string]any{"k": "a"})
	remote := memory.NewFromTree("server", map[string]any{"k": "b"})
	e := newEngine(t, Options{Local: local, Remote: remote, Resolution: Abort})

	res, err := e.Sync(ctx, RunOptions{})
	require.ErrorIs(t, err, errs.ErrAborted)
	require.Equal(t, StatusFailed, res.Status)
	require.Equal(t, Error, e.State())
	require.Equal(t, "a", get(t, local, "k"))
	require.Equal(t, "b", get(t, remote, "k"))

	// desde ERROR se puede volver a sincronizar
	res, err = e.Sync(ctx, RunOptions{Resolution: ServerWins})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, res.Status)
	require.Equal(t, Idle, e.State())
	require.Equal(t, "b", get(t, local, "k"))
}

func TestRepositoryFailureMarksRunFailed(t *testing.T) {
	e := newEngine(t, Options{Local: memory.New("client"), Remote: broken{memory.New("server")}})
	res, err := e.Sync(context.Background(), RunOptions{})
	require.NoError(t, err)
	require.Equal(t, StatusFailed, res.Status)
	require.NotEmpty(t, res.Errors)
	require.Equal(t, Error, e.State())
	require.Equal(t, StatusFailed, e.LastResult().Status)
}

func TestSecondSyncWhileRunning(t *testing.T) {
	ctx := context.Background()
	local := newSpy("client", map[string]any{"a": 1})
	local.gate = make(chan struct{})
	e := newEngine(t, Options{Local: local, Remote: memory.New("server")})

	done := make(chan error, 1)
	go func() {
		_, err := e.Sync(ctx, RunOptions{})
		done <- err
	}()
	require.Eventually(t, func() bool { return e.State() == Syncing }, time.Second, 5*time.Millisecond)

	_, err := e.Sync(ctx, RunOptions{})
	require.ErrorIs(t, err, errs.ErrSyncInProgress)
	_, err = e.ResolveConflicts(ctx, nil, ServerWins, nil)
	require.ErrorIs(t, err, errs.ErrSyncInProgress)

	close(local.gate)
	require.NoError(t, <-done)
	require.Equal(t, Idle, e.State())
}

func TestIncrementalSkipsUnchangedKeys(t *testing.T) {
	ctx := context.Background()
	local := memory.NewFromTree("client", map[string]any{"a": 1, "b": 2})
	remote := memory.NewFromTree("server", map[string]any{"a": 1})
	e := newEngine(t, Options{Local: local, Remote: remote})

	res, err := e.Sync(ctx, RunOptions{Strategy: Full})
	require.NoError(t, err)
	require.Equal(t, 2, res.Examined)
	require.Equal(t, 1, res.Pushed)

	res, err = e.Sync(ctx, RunOptions{Strategy: Incremental})
	require.NoError(t, err)
	require.Zero(t, res.Examined)

	require.NoError(t, local.Set(ctx, "c", "new"))
	res, err = e.Sync(ctx, RunOptions{Strategy: Incremental})
	require.NoError(t, err)
	require.Equal(t, 1, res.Examined)
	require.Equal(t, 1, res.Pushed)
	require.Equal(t, "new", get(t, remote, "c"))
}

func TestIncrementalUsesChangeFeed(t *testing.T) {
	ctx := context.Background()
	local := memory.NewFromTree("client", map[string]any{"a": 1, "x": "local"})
	remote := memory.New("server")
	e := newEngine(t, Options{Local: local, Remote: remote, Feed: staticFeed{"x"}})

	// sin watermark la primera pasada incremental recorre todo
	res, err := e.Sync(ctx, RunOptions{Strategy: Incremental})
	require.NoError(t, err)
	require.Equal(t, 2, res.Examined)

	require.NoError(t, local.Set(ctx, "a", 5))
	require.NoError(t, local.Set(ctx, "x", "changed"))
	res, err = e.Sync(ctx, RunOptions{Strategy: Incremental})
	require.NoError(t, err)
	require.Equal(t, 1, res.Examined)
	require.Len(t, res.Conflicts, 1)
	require.Equal(t, "x", res.Conflicts[0].Key)
}

func TestFeedsUnion(t *testing.T) {
	keys, err := Feeds{staticFeed{"b", "a"}, nil, staticFeed{"a", "c"}}.ChangedKeysSince(time.Time{})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestSelectiveRequiresNamespaces(t *testing.T) {
	e := newEngine(t, Options{Local: memory.New("a"), Remote: memory.New("b")})
	_, err := e.Sync(context.Background(), RunOptions{Strategy: Selective})
	require.ErrorIs(t, err, errs.ErrInvalidInput)
	require.Equal(t, Idle, e.State())

	_, err = New(Options{Local: memory.New("a")})
	require.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestBackgroundLoop(t *testing.T) {
	ctx := context.Background()
	local := memory.New("client")
	remote := memory.New("server")
	e := newEngine(t, Options{Local: local, Remote: remote, Interval: 10 * time.Millisecond})

	require.NoError(t, e.Start(ctx))
	require.ErrorIs(t, e.Start(ctx), errs.ErrAlreadyExists)

	require.NoError(t, local.Set(ctx, "feature.enabled", true))
	require.Eventually(t, func() bool {
		v, ok, _ := remote.Get(ctx, "feature.enabled")
		return ok && v == true
	}, 2*time.Second, 10*time.Millisecond)

	e.Stop()
	e.Stop()
	require.NotNil(t, e.LastResult())

	idle := newEngine(t, Options{Local: local, Remote: remote})
	require.ErrorIs(t, idle.Start(ctx), errs.ErrInvalidInput)
}

func TestParse(t *testing.T) {
	s, err := ParseStrategy(" Incremental ")
	require.NoError(t, err)
	require.Equal(t, Incremental, s)
	d, err := ParseDirection("PUSH")
	require.NoError(t, err)
	require.Equal(t, Push, d)
	r, err := ParseResolution("merge_values")
	require.NoError(t, err)
	require.Equal(t, MergeValues, r)
	_, err = ParseResolution("coin_flip")
	require.ErrorIs(t, err, errs.ErrInvalidInput)
}
