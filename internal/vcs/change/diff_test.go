package change_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/cfgvault/internal/tree"
	"github.com/dropDatabas3/cfgvault/internal/vcs/change"
)

func TestComputeClassifies(t *testing.T) {
	old := map[string]any{"db": map[string]any{"host": "a", "port": 5432}, "gone": true}
	cur := map[string]any{"db": map[string]any{"host": "b", "port": 5432}, "new": "x"}

	d := change.Compute(old, cur)
	require.Equal(t, map[string]any{"new": "x"}, d.Added)
	require.Equal(t, map[string]any{"gone": true}, d.Deleted)
	require.Equal(t, change.Modification{Old: "a", New: "b"}, d.Modified["db.host"])
	require.Empty(t, d.Renamed)
	require.Equal(t, 3, d.Count())
	require.True(t, d.HasChanges())
}

func TestComputeNeverInfersRenames(t *testing.T) {
	d := change.Compute(map[string]any{"a": 1}, map[string]any{"b": 1})
	require.Empty(t, d.Renamed)
	require.Contains(t, d.Deleted, "a")
	require.Contains(t, d.Added, "b")
}

func TestApplyDiffRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		a, b map[string]any
	}{
		{"empty to full", map[string]any{}, map[string]any{"x": map[string]any{"y": 1}}},
		{"full to empty", map[string]any{"x": map[string]any{"y": 1}}, map[string]any{}},
		{"leaf to mapping", map[string]any{"a": 1}, map[string]any{"a": map[string]any{"b": 1}}},
		{"mapping to leaf", map[string]any{"a": map[string]any{"b": 1}}, map[string]any{"a": 1}},
		{"mapping to empty mapping", map[string]any{"a": map[string]any{"b": 1}}, map[string]any{"a": map[string]any{}}},
		{"mixed", map[string]any{
			"svc":  map[string]any{"port": 80, "hosts": []any{"a"}},
			"keep": "same",
		}, map[string]any{
			"svc":  map[string]any{"port": 8080, "hosts": []any{"a", "b"}, "tls": true},
			"keep": "same",
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := change.Apply(tc.a, change.Compute(tc.a, tc.b).Changes())
			if !tree.Equal(got, tc.b) {
				t.Fatalf("apply(diff(A,B),A) = %v, want %v", got, tc.b)
			}
		})
	}
}

func TestApplyDoesNotMutateBase(t *testing.T) {
	base := map[string]any{"a": 1}
	_ = change.Apply(base, []change.Change{change.NewDeleted("a", 1)})
	require.Equal(t, map[string]any{"a": 1}, base)
}

func TestApplyRenameOfRemovedKeyIsNoop(t *testing.T) {
	got := change.Apply(map[string]any{"a": 1}, []change.Change{
		change.NewDeleted("a", 1),
		change.NewRenamed("a", "b", 1),
	})
	require.Empty(t, got)
}

func TestApplyRenameUsesCurrentValue(t *testing.T) {
	got := change.Apply(map[string]any{"a": 1}, []change.Change{
		change.NewModified("a", 1, 2),
		change.NewRenamed("a", "b", 1),
	})
	require.Equal(t, map[string]any{"b": 2}, got)
}
