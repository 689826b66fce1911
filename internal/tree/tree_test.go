package tree_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/cfgvault/internal/tree"
)

func TestSetGetDelete(t *testing.T) {
	data := map[string]any{}
	tree.Set(data, "db.primary.host", "localhost")
	tree.Set(data, "db.primary.port", 5432)

	v, ok := tree.Get(data, "db.primary.host")
	if !ok || v != "localhost" {
		t.Fatalf("get host: %v %v", v, ok)
	}
	if _, ok := tree.Get(data, "db.replica"); ok {
		t.Fatalf("unexpected replica")
	}

	require.True(t, tree.Delete(data, "db.primary.host"))
	require.True(t, tree.Delete(data, "db.primary.port"))
	// los padres vacíos se podan
	require.Empty(t, data)
	require.False(t, tree.Delete(data, "db.primary.port"))
}

func TestSetReplacesScalarIntermediate(t *testing.T) {
	data := map[string]any{"a": 1}
	tree.Set(data, "a.b", 2)
	v, ok := tree.Get(data, "a.b")
	require.True(t, ok)
	require.Equal(t, 2, v)
}

func TestHasPrefixRespectsSegments(t *testing.T) {
	cases := []struct {
		key, prefix string
		want        bool
	}{
		{"db.host", "db", true},
		{"db", "db", true},
		{"dbx.host", "db", false},
		{"anything", "", true},
	}
	for _, tc := range cases {
		if got := tree.HasPrefix(tc.key, tc.prefix); got != tc.want {
			t.Errorf("HasPrefix(%q,%q)=%v want %v", tc.key, tc.prefix, got, tc.want)
		}
	}
}

func TestFlattenUnflatten(t *testing.T) {
	data := map[string]any{
		"app":   map[string]any{"name": "svc", "tags": []any{"a", "b"}},
		"empty": map[string]any{},
	}
	flat := tree.Flatten(data)
	require.Equal(t, map[string]any{
		"app.name": "svc",
		"app.tags": []any{"a", "b"},
		"empty":    map[string]any{},
	}, flat)
	require.True(t, tree.Equal(data, tree.Unflatten(flat)))
}

func TestCloneIsDeep(t *testing.T) {
	src := map[string]any{"a": map[string]any{"b": []any{1}}}
	cp := tree.CloneMap(src)
	cp["a"].(map[string]any)["b"].([]any)[0] = 99
	require.Equal(t, 1, src["a"].(map[string]any)["b"].([]any)[0])
}

func TestEqualNormalizesNumbers(t *testing.T) {
	require.True(t, tree.Equal(5, 5.0))
	require.True(t, tree.Equal(map[string]any{"x": int64(1)}, map[string]any{"x": 1.0}))
	require.False(t, tree.Equal(1, "1"))
	require.False(t, tree.Equal([]any{1, 2}, []any{2, 1}))
}
