package vcs_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/cfgvault/internal/domain/errs"
	"github.com/dropDatabas3/cfgvault/internal/events"
	"github.com/dropDatabas3/cfgvault/internal/vcs"
	"github.com/dropDatabas3/cfgvault/internal/vcs/branch"
	"github.com/dropDatabas3/cfgvault/internal/vcs/history"
	"github.com/dropDatabas3/cfgvault/internal/vcs/merge"
)

var ctx = context.Background()

func commitAll(t *testing.T, c *vcs.Controller, msg string) string {
	t.Helper()
	require.NoError(t, c.Stage())
	cm, err := c.Commit(ctx, msg, "ana")
	require.NoError(t, err)
	return cm.ID
}

func TestCommitLifecycle(t *testing.T) {
	c := vcs.New(vcs.Options{})
	require.Equal(t, "main", c.CurrentBranch())

	_, err := c.Commit(ctx, "empty", "ana")
	require.ErrorIs(t, err, errs.ErrNothingToCommit)

	require.NoError(t, c.Set("db.host", "localhost"))
	require.NoError(t, c.Set("db.port", 5432))
	require.NoError(t, c.Stage("db.host"))

	st := c.Status()
	require.Len(t, st.Staged, 1)
	require.Len(t, st.Working, 1)

	cm, err := c.Commit(ctx, "add host", "ana")
	require.NoError(t, err)
	require.True(t, cm.Validated())
	require.Equal(t, map[string]any{"db": map[string]any{"host": "localhost"}}, cm.Snapshot)

	// lo no staged sigue vivo en el snapshot
	v, ok := c.Get("db.port")
	require.True(t, ok)
	require.Equal(t, 5432, v)

	st = c.Status()
	require.Equal(t, cm.ID, st.Head)
	require.Empty(t, st.Staged)
	require.Len(t, st.Working, 1)
}

func TestCommitRejectsInvalidWithoutAdvancing(t *testing.T) {
	c := vcs.New(vcs.Options{})
	require.NoError(t, c.Set("a", 1))
	require.NoError(t, c.Stage())
	_, err := c.Commit(ctx, "", "ana")
	require.True(t, errs.IsValidation(err))
	require.Equal(t, 0, c.CommitCount())
	require.Empty(t, c.Status().Head)
	// el staged se conserva para reintentar
	require.Len(t, c.Status().Staged, 1)
}

func TestWorkingStateMachine(t *testing.T) {
	c := vcs.New(vcs.Options{})
	require.NoError(t, c.Set("a", 1))
	require.NoError(t, c.Set("a", 2))
	require.NoError(t, c.Set("b", 1))
	require.NoError(t, c.Delete("b"))

	st := c.Status()
	require.Len(t, st.Working, 1)
	require.Equal(t, "a", st.Working[0].Key)
	require.Equal(t, 2, st.Working[0].NewValue)

	require.True(t, errs.IsNotFound(c.Delete("missing")))
}

func TestUnstageAndResetWorking(t *testing.T) {
	c := vcs.New(vcs.Options{})
	require.NoError(t, c.Set("a", 1))
	commitAll(t, c, "base")

	require.NoError(t, c.Set("a", 2))
	require.NoError(t, c.Stage())
	require.NoError(t, c.Set("a", 3))
	require.NoError(t, c.Unstage())

	st := c.Status()
	require.Empty(t, st.Staged)
	require.Len(t, st.Working, 1)
	require.Equal(t, 1, st.Working[0].OldValue)
	require.Equal(t, 3, st.Working[0].NewValue)

	c.ResetWorking()
	v, _ := c.Get("a")
	require.Equal(t, 1, v)
	require.True(t, c.Status().Clean())
}

func TestRenameThenModifyCommitsBothSteps(t *testing.T) {
	c := vcs.New(vcs.Options{})
	require.NoError(t, c.Set("a", 1))
	commitAll(t, c, "base")

	require.NoError(t, c.Rename("a", "b"))
	require.NoError(t, c.Set("b", 5))
	commitAll(t, c, "move and bump")

	want := map[string]any{"b": 5}
	require.Equal(t, want, c.Snapshot())
	head, err := c.GetCommit(c.Status().Head)
	require.NoError(t, err)
	require.Equal(t, want, head.Snapshot)
	require.Len(t, head.Changes, 2)
	require.True(t, c.Status().Clean())

	// el estado exportado se reconstruye igual
	var buf bytes.Buffer
	require.NoError(t, c.ExportYAML(&buf))
	back := vcs.New(vcs.Options{})
	require.NoError(t, back.ImportYAML(&buf))
	require.Equal(t, want, back.Snapshot())
}

func TestRenameThenDeleteRemovesOldKey(t *testing.T) {
	c := vcs.New(vcs.Options{})
	require.NoError(t, c.Set("a", 1))
	require.NoError(t, c.Set("keep", true))
	commitAll(t, c, "base")

	require.NoError(t, c.Rename("a", "b"))
	require.NoError(t, c.Delete("b"))
	commitAll(t, c, "drop")

	want := map[string]any{"keep": true}
	require.Equal(t, want, c.Snapshot())
	head, err := c.GetCommit(c.Status().Head)
	require.NoError(t, err)
	require.Equal(t, want, head.Snapshot)

	// una clave nueva sobre el nombre viejo no revive el valor anterior
	require.NoError(t, c.Set("a", 2))
	commitAll(t, c, "reuse name")
	head, err = c.GetCommit(c.Status().Head)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"a": 2, "keep": true}, head.Snapshot)
}

func TestStageMovesEveryChangeOfAKey(t *testing.T) {
	c := vcs.New(vcs.Options{})
	require.NoError(t, c.Set("a", 1))
	commitAll(t, c, "base")

	require.NoError(t, c.Rename("a", "b"))
	require.NoError(t, c.Set("b", 2))
	require.NoError(t, c.Stage("b"))
	st := c.Status()
	require.Empty(t, st.Working)
	require.Len(t, st.Staged, 2)

	require.NoError(t, c.Unstage("b"))
	require.Len(t, c.Status().Working, 2)
}

func TestCheckoutRequiresCleanTree(t *testing.T) {
	c := vcs.New(vcs.Options{})
	require.NoError(t, c.Set("a", 1))
	commitAll(t, c, "base")
	_, err := c.CreateBranch("feature", vcs.BranchOptions{})
	require.NoError(t, err)

	require.NoError(t, c.Set("a", 2))
	require.ErrorIs(t, c.Checkout("feature"), errs.ErrDirtyTree)

	c.ResetWorking()
	require.NoError(t, c.Checkout("feature"))
	require.Equal(t, "feature", c.CurrentBranch())
	require.True(t, errs.IsNotFound(c.Checkout("nope")))
}

// C1 agrega a.b=1; feature hace C2 con a.b=2; main no toca a.b.
func TestMergeFeatureScenario(t *testing.T) {
	c := vcs.New(vcs.Options{})
	require.NoError(t, c.Set("a.b", 1))
	commitAll(t, c, "C1")

	_, err := c.CreateBranch("feature", vcs.BranchOptions{})
	require.NoError(t, err)
	require.NoError(t, c.Checkout("feature"))
	require.NoError(t, c.Set("a.b", 2))
	commitAll(t, c, "C2")

	require.NoError(t, c.Checkout("main"))
	require.NoError(t, c.Set("other", true))
	commitAll(t, c, "C3")

	res, err := c.Merge(ctx, "feature", vcs.MergeOptions{Author: "ana"})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, merge.MergeCommit, res.Strategy)
	require.Empty(t, res.Conflicts)

	v, _ := c.Get("a.b")
	require.Equal(t, 2, v)

	head, err := c.GetCommit(res.MergeCommitID)
	require.NoError(t, err)
	require.Len(t, head.ParentIDs, 2)
	require.Equal(t, head.ID, c.Status().Head)
}

func TestMergeFeatureScenarioConflict(t *testing.T) {
	c := vcs.New(vcs.Options{})
	require.NoError(t, c.Set("a.b", 1))
	commitAll(t, c, "C1")

	_, err := c.CreateBranch("feature", vcs.BranchOptions{})
	require.NoError(t, err)
	require.NoError(t, c.Checkout("feature"))
	require.NoError(t, c.Set("a.b", 2))
	commitAll(t, c, "C2")

	require.NoError(t, c.Checkout("main"))
	require.NoError(t, c.Set("a.b", 3))
	mainHead := commitAll(t, c, "C3")

	res, err := c.Merge(ctx, "feature", vcs.MergeOptions{})
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Len(t, res.Conflicts, 1)
	require.Equal(t, "a.b", res.Conflicts[0].Key)
	require.Equal(t, merge.ModifyModify, res.Conflicts[0].Type)

	// pendiente: bloquea escrituras y otro merge
	require.ErrorIs(t, c.Set("x", 1), errs.ErrMergeInProgress)
	_, err = c.CompleteMerge(ctx)
	require.ErrorIs(t, err, errs.ErrUnresolvedConflict)
	require.True(t, c.Status().MergeInProgress)

	require.NoError(t, c.ResolveConflict("a.b", merge.MergeValues, nil))
	done, err := c.CompleteMerge(ctx)
	require.NoError(t, err)
	require.True(t, done.Success)
	v, _ := c.Get("a.b")
	require.Equal(t, 2.5, v)

	cm, err := c.GetCommit(done.MergeCommitID)
	require.NoError(t, err)
	require.Equal(t, mainHead, cm.ParentIDs[0])
}

func TestMergeAbortLeavesTargetUntouched(t *testing.T) {
	c := vcs.New(vcs.Options{})
	require.NoError(t, c.Set("k", "base"))
	commitAll(t, c, "base")
	_, err := c.CreateBranch("feature", vcs.BranchOptions{})
	require.NoError(t, err)
	require.NoError(t, c.Checkout("feature"))
	require.NoError(t, c.Set("k", "feature"))
	commitAll(t, c, "f")
	require.NoError(t, c.Checkout("main"))
	require.NoError(t, c.Set("k", "main"))
	head := commitAll(t, c, "m")

	_, err = c.Merge(ctx, "feature", vcs.MergeOptions{})
	require.NoError(t, err)
	require.NoError(t, c.ResolveConflict("k", merge.Abort, nil))
	_, err = c.CompleteMerge(ctx)
	require.True(t, errs.IsAborted(err))

	require.False(t, c.Status().MergeInProgress)
	require.Equal(t, head, c.Status().Head)
	v, _ := c.Get("k")
	require.Equal(t, "main", v)
}

func TestMergeFastForwardAndDirty(t *testing.T) {
	c := vcs.New(vcs.Options{})
	require.NoError(t, c.Set("a", 1))
	commitAll(t, c, "base")
	_, err := c.CreateBranch("feature", vcs.BranchOptions{})
	require.NoError(t, err)
	require.NoError(t, c.Checkout("feature"))
	require.NoError(t, c.Set("b", 2))
	featHead := commitAll(t, c, "feat")
	require.NoError(t, c.Checkout("main"))

	require.NoError(t, c.Set("dirty", 1))
	_, err = c.Merge(ctx, "feature", vcs.MergeOptions{})
	require.ErrorIs(t, err, errs.ErrDirtyTree)
	c.ResetWorking()

	res, err := c.Merge(ctx, "feature", vcs.MergeOptions{})
	require.NoError(t, err)
	require.Equal(t, merge.FastForward, res.Strategy)
	require.Equal(t, featHead, c.Status().Head)
	require.Equal(t, map[string]any{"a": 1, "b": 2}, c.Snapshot())

	// ya integrado
	res, err = c.Merge(ctx, "feature", vcs.MergeOptions{})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Empty(t, res.MergeCommitID)
}

func TestRequireMergeCommitRejectsFastForward(t *testing.T) {
	c := vcs.New(vcs.Options{})
	require.NoError(t, c.Set("a", 1))
	commitAll(t, c, "base")
	require.NoError(t, c.SetProtection("main", branch.Protection{RequireMergeCommit: true}))
	_, err := c.CreateBranch("feature", vcs.BranchOptions{})
	require.NoError(t, err)
	require.NoError(t, c.Checkout("feature"))
	require.NoError(t, c.Set("b", 1))
	commitAll(t, c, "feat")
	require.NoError(t, c.Checkout("main"))

	_, err = c.Merge(ctx, "feature", vcs.MergeOptions{Strategy: merge.FastForward})
	require.ErrorIs(t, err, errs.ErrProtectedBranch)

	res, err := c.Merge(ctx, "feature", vcs.MergeOptions{})
	require.NoError(t, err)
	require.Equal(t, merge.MergeCommit, res.Strategy)
	require.NotEmpty(t, res.MergeCommitID)
}

func TestRenameConflictThroughController(t *testing.T) {
	c := vcs.New(vcs.Options{})
	require.NoError(t, c.Set("db.host", "a"))
	commitAll(t, c, "base")
	_, err := c.CreateBranch("feature", vcs.BranchOptions{})
	require.NoError(t, err)
	require.NoError(t, c.Checkout("feature"))
	require.NoError(t, c.Rename("db.host", "db.primary"))
	commitAll(t, c, "rename")
	require.NoError(t, c.Checkout("main"))
	require.NoError(t, c.Set("db.host", "b"))
	commitAll(t, c, "modify")

	res, err := c.Merge(ctx, "feature", vcs.MergeOptions{})
	require.NoError(t, err)
	require.Len(t, res.Conflicts, 1)
	require.Equal(t, merge.RenameModify, res.Conflicts[0].Type)

	require.NoError(t, c.ResolveConflict("db.host", merge.TakeIncoming, nil))
	_, err = c.CompleteMerge(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"db": map[string]any{"primary": "a"}}, c.Snapshot())
}

func TestDeleteBranch(t *testing.T) {
	c := vcs.New(vcs.Options{Protected: []string{"release"}})
	require.NoError(t, c.Set("a", 1))
	commitAll(t, c, "base")

	_, err := c.CreateBranch("release", vcs.BranchOptions{})
	require.NoError(t, err)
	require.ErrorIs(t, c.DeleteBranch("release", false), errs.ErrProtectedBranch)
	require.NoError(t, c.DeleteBranch("release", true))

	_, err = c.CreateBranch("wip", vcs.BranchOptions{})
	require.NoError(t, err)
	require.NoError(t, c.Checkout("wip"))
	require.NoError(t, c.Set("b", 1))
	commitAll(t, c, "wip")
	require.NoError(t, c.Checkout("main"))
	require.ErrorIs(t, c.DeleteBranch("wip", false), errs.ErrDivergedBranch)
	require.ErrorIs(t, c.DeleteBranch("main", true), errs.ErrInvalidInput)

	_, err = c.CreateBranch("wip", vcs.BranchOptions{})
	require.ErrorIs(t, err, errs.ErrAlreadyExists)
	require.Len(t, c.ListBranches(), 2)
}

func TestTags(t *testing.T) {
	c := vcs.New(vcs.Options{})
	_, err := c.CreateTag("v0.1.0", "", "", "ana")
	require.ErrorIs(t, err, errs.ErrNoBranch)

	require.NoError(t, c.Set("a", 1))
	id := commitAll(t, c, "base")
	for _, name := range []string{"v1.10.0", "v1.2.0", "v1.2.0-rc.1", "stable"} {
		_, err := c.CreateTag(name, "", "", "ana")
		require.NoError(t, err)
	}
	tag, err := c.GetTag("v1.2.0-rc.1")
	require.NoError(t, err)
	require.Equal(t, id, tag.Target)
	require.Equal(t, &vcs.SemVer{Major: 1, Minor: 2, Prerelease: "rc.1"}, tag.Version)

	var names []string
	for _, tg := range c.ListTags() {
		names = append(names, tg.Name)
	}
	require.Equal(t, []string{"v1.2.0-rc.1", "v1.2.0", "v1.10.0", "stable"}, names)

	_, err = c.CreateTag("stable", "", "", "ana")
	require.ErrorIs(t, err, errs.ErrAlreadyExists)
	require.NoError(t, c.DeleteTag("stable"))
	_, err = c.CreateTag("x", "missing", "", "ana")
	require.True(t, errs.IsNotFound(err))
}

func TestHistoryDelegation(t *testing.T) {
	c := vcs.New(vcs.Options{})
	start := time.Now().Add(-time.Second)
	require.NoError(t, c.Set("db.host", "a"))
	first := commitAll(t, c, "add host")
	require.NoError(t, c.Set("db.port", 1))
	second := commitAll(t, c, "add port")

	got, err := c.Search(history.Query{Author: "ana", Limit: 1})
	require.NoError(t, err)
	require.Equal(t, second, got[0].ID)

	info, err := c.Blame("db.host")
	require.NoError(t, err)
	require.Equal(t, first, info.CommitID)

	path, err := c.CommitPath(first, second, "main")
	require.NoError(t, err)
	require.Equal(t, []string{first, second}, path)

	keys, err := c.ChangedKeysSince(start)
	require.NoError(t, err)
	require.Equal(t, []string{"db.host", "db.port"}, keys)

	log, err := c.Log("", 1)
	require.NoError(t, err)
	require.Equal(t, second, log[0].ID)

	d, err := c.DiffCommits(first, second)
	require.NoError(t, err)
	require.Contains(t, d.Added, "db.port")
}

func TestExportImportRoundTrip(t *testing.T) {
	c := vcs.New(vcs.Options{})
	require.NoError(t, c.Set("a.b", 1))
	require.NoError(t, c.Set("list", []any{"x", "y"}))
	commitAll(t, c, "C1")
	_, err := c.CreateBranch("feature", vcs.BranchOptions{})
	require.NoError(t, err)
	require.NoError(t, c.Checkout("feature"))
	require.NoError(t, c.Set("a.b", 2.5))
	require.NoError(t, c.Rename("list", "items"))
	commitAll(t, c, "C2")
	require.NoError(t, c.Checkout("main"))
	require.NoError(t, c.Set("z", false))
	commitAll(t, c, "C3")
	_, err = c.Merge(ctx, "feature", vcs.MergeOptions{})
	require.NoError(t, err)
	_, err = c.CreateTag("v1.0.0", "", "release", "ana")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, c.ExportYAML(&buf))

	fresh := vcs.New(vcs.Options{})
	require.NoError(t, fresh.ImportYAML(&buf))

	require.Equal(t, c.CommitCount(), fresh.CommitCount())
	orig, back := c.ListBranches(), fresh.ListBranches()
	require.Len(t, back, len(orig))
	for i := range orig {
		require.Equal(t, orig[i].Name, back[i].Name)
		require.Equal(t, orig[i].Head, back[i].Head)
	}
	require.Equal(t, c.Snapshot(), fresh.Snapshot())
	require.Len(t, fresh.ListTags(), 1)

	info, err := fresh.Blame("items")
	require.NoError(t, err)
	require.NotEmpty(t, info.CommitID)
}

func TestImportRejectsBrokenDocument(t *testing.T) {
	c := vcs.New(vcs.Options{})
	doc := c.Export()
	doc.Branches[0].Head = "ghost"
	err := vcs.New(vcs.Options{}).Import(doc)
	require.True(t, errs.IsValidation(err))
}

func TestSaveLoadFile(t *testing.T) {
	path := t.TempDir() + "/state.yaml"
	c := vcs.New(vcs.Options{})
	require.NoError(t, c.Set("a", 1))
	commitAll(t, c, "base")
	require.NoError(t, c.SaveFile(path))

	fresh := vcs.New(vcs.Options{})
	require.NoError(t, fresh.LoadFile(path))
	require.Equal(t, 1, fresh.CommitCount())
	require.NoError(t, fresh.LoadFile(t.TempDir()+"/missing.yaml"))
}

func TestCommitEmitsEvents(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	ch, unsubscribe := bus.Subscribe(8)
	defer unsubscribe()

	c := vcs.New(vcs.Options{Events: bus})
	require.NoError(t, c.Set("db.host", "x"))
	commitAll(t, c, "base")
	require.NoError(t, c.Rename("db.host", "db.primary"))
	commitAll(t, c, "rename")

	var got []events.Event
	for i := 0; i < 3; i++ {
		select {
		case e := <-ch:
			got = append(got, e)
		case <-time.After(time.Second):
			t.Fatalf("missing event %d", i)
		}
	}
	require.Equal(t, events.Updated, got[0].Action)
	require.Equal(t, "db", got[0].Namespace)
	require.Equal(t, "host", got[0].Key)
	require.Equal(t, events.Deleted, got[1].Action)
	require.Equal(t, "primary", got[2].Key)
}
