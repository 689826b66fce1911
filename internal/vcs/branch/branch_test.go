package branch_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/cfgvault/internal/vcs/branch"
)

// grafo fijo: c1 <- c2 <- c3 (main), c2 <- c4 (feature)
var parents = map[string][]string{
	"c1": nil,
	"c2": {"c1"},
	"c3": {"c2"},
	"c4": {"c2"},
}

var graph = branch.GraphFunc(func(id string) []string { return parents[id] })

func TestNewCopiesBase(t *testing.T) {
	main := &branch.Branch{Name: "main"}
	main.Advance("c1")
	f := branch.New("feature", main)
	require.Equal(t, "c1", f.Head)
	f.Advance("c2")
	require.Equal(t, []string{"c1"}, main.Commits)
}

func TestCanFastForwardTo(t *testing.T) {
	main := &branch.Branch{Name: "main"}
	main.Reset([]string{"c1", "c2"})
	ahead := main.Clone()
	ahead.Advance("c3")

	if !main.CanFastForwardTo(ahead) {
		t.Fatalf("main should fast-forward to ahead")
	}
	if ahead.CanFastForwardTo(main) {
		t.Fatalf("ahead must not fast-forward backwards")
	}
	if main.CanFastForwardTo(main.Clone()) {
		t.Fatalf("same head is not strictly ahead")
	}

	other := &branch.Branch{Name: "other"}
	other.Reset([]string{"c1", "c4"})
	require.False(t, ahead.CanFastForwardTo(other))

	empty := &branch.Branch{Name: "empty"}
	require.True(t, empty.CanFastForwardTo(main))
}

func TestDivergedCommits(t *testing.T) {
	main := &branch.Branch{Name: "main"}
	main.Reset([]string{"c1", "c2", "c3"})
	feature := &branch.Branch{Name: "feature"}
	feature.Reset([]string{"c1", "c2", "c4"})

	d := branch.DivergedCommits(graph, main, feature)
	require.Equal(t, "c2", d.Base)
	require.Equal(t, []string{"c3"}, d.OnlyA)
	require.Equal(t, []string{"c4"}, d.OnlyB)
}

func TestIsAncestor(t *testing.T) {
	require.True(t, branch.IsAncestor(graph, "c1", "c4"))
	require.True(t, branch.IsAncestor(graph, "c4", "c4"))
	require.False(t, branch.IsAncestor(graph, "c3", "c4"))
	require.True(t, branch.IsAncestor(graph, "", "c4"))
}
