package change_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/cfgvault/internal/vcs/change"
)

func TestCombine(t *testing.T) {
	cases := []struct {
		name       string
		prev, next change.Change
		want       change.Change
		keep       bool
	}{
		{"added+modified", change.NewAdded("k", 1), change.NewModified("k", 1, 2), change.NewAdded("k", 2), true},
		{"added+deleted", change.NewAdded("k", 1), change.NewDeleted("k", 1), change.Change{}, false},
		{"modified+modified", change.NewModified("k", 0, 1), change.NewModified("k", 1, 2), change.NewModified("k", 0, 2), true},
		{"modified+deleted", change.NewModified("k", 0, 1), change.NewDeleted("k", 1), change.NewDeleted("k", 0), true},
		{"deleted+added", change.NewDeleted("k", 0), change.NewAdded("k", 5), change.NewAdded("k", 5), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, keep := change.Combine(tc.prev, tc.next)
			require.Equal(t, tc.keep, keep)
			if keep {
				require.Equal(t, tc.want, got)
			}
		})
	}
}

func TestProblems(t *testing.T) {
	require.Empty(t, change.NewAdded("a", 1).Problems())
	require.NotEmpty(t, change.Change{Key: "a", Kind: change.Added, OldValue: 1, NewValue: 2}.Problems())
	require.NotEmpty(t, change.Change{Key: "a", Kind: change.Deleted, NewValue: 2}.Problems())
	require.NotEmpty(t, change.Change{Key: "a", Kind: change.Renamed}.Problems())
	require.NotEmpty(t, change.Change{Key: "a", Kind: "Moved"}.Problems())
	require.NotEmpty(t, change.Change{Kind: change.Added}.Problems())
}

func TestSetCombinesPerKey(t *testing.T) {
	s := change.NewSet()
	s.Add(change.NewAdded("a", 1))
	s.Add(change.NewAdded("b", 1))
	s.Add(change.NewModified("a", 1, 3))
	s.Add(change.NewDeleted("b", 1))

	require.Equal(t, []string{"a"}, s.Keys())
	c, ok := s.Get("a")
	require.True(t, ok)
	require.Equal(t, change.NewAdded("a", 3), c)

	s.Clear()
	require.Zero(t, s.Len())
}

func TestAppendKeepsRenameApart(t *testing.T) {
	base := map[string]any{"a": 1}

	var cs []change.Change
	cs = change.Append(cs, change.NewRenamed("a", "b", 1))
	cs = change.Append(cs, change.NewModified("b", 1, 5))
	require.Len(t, cs, 2)
	require.Equal(t, map[string]any{"b": 5}, change.Apply(base, cs))

	cs = change.Append(cs, change.NewDeleted("b", 5))
	require.Len(t, cs, 3)
	require.Empty(t, change.Apply(base, cs))
}

func TestAppendStopsAtOverlappingPaths(t *testing.T) {
	var cs []change.Change
	cs = change.Append(cs, change.NewAdded("b", map[string]any{"x": 1}))
	cs = change.Append(cs, change.NewModified("b.x", 1, 2))
	cs = change.Append(cs, change.NewModified("b", map[string]any{"x": 2}, 7))
	require.Len(t, cs, 3)
	require.Equal(t, map[string]any{"b": 7}, change.Apply(nil, cs))

	// claves independientes se siguen fusionando
	cs = change.Append(cs, change.NewAdded("c", 1))
	cs = change.Append(cs, change.NewModified("c", 1, 2))
	require.Len(t, cs, 4)
	require.Equal(t, change.NewAdded("c", 2), cs[3])
}

func TestSetTakeAndRepeatedKeys(t *testing.T) {
	s := change.NewSet()
	s.Add(change.NewRenamed("a", "b", 1))
	s.Add(change.NewAdded("z", 1))
	s.Add(change.NewModified("b", 1, 2))

	require.Equal(t, []string{"b", "z"}, s.Keys())
	last, ok := s.Get("b")
	require.True(t, ok)
	require.Equal(t, change.Modified, last.Kind)

	taken := s.Take("b")
	require.Len(t, taken, 2)
	require.Equal(t, change.Renamed, taken[0].Kind)
	require.False(t, s.Has("b"))
	require.Equal(t, 1, s.Len())
}
