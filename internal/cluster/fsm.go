package cluster

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/hashicorp/raft"

	"github.com/dropDatabas3/cfgvault/internal/tree"
)

// FSM aplica mutaciones replicadas sobre un árbol en memoria.
// Las lecturas son locales; pueden ir atrasadas respecto del líder.
type FSM struct {
	mu      sync.RWMutex
	data    map[string]any
	applied uint64
}

var _ raft.FSM = (*FSM)(nil)

func NewFSM() *FSM { return &FSM{data: make(map[string]any)} }

// Apply decodifica la mutación y la ejecuta. Retorna error si la mutación es inválida.
func (f *FSM) Apply(l *raft.Log) interface{} {
	if l == nil || len(l.Data) == 0 {
		return nil
	}
	var m Mutation
	if err := json.Unmarshal(l.Data, &m); err != nil {
		return fmt.Errorf("fsm: decode mutation: %w", err)
	}

	var value any
	if m.Type == MutationSet {
		if err := json.Unmarshal(m.Value, &value); err != nil {
			return fmt.Errorf("fsm: decode value for %s: %w", m.Key, err)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	switch m.Type {
	case MutationSet:
		tree.Set(f.data, m.Key, value)
	case MutationDelete:
		tree.Delete(f.data, m.Key)
	default:
		return fmt.Errorf("fsm: unknown mutation %q", m.Type)
	}
	f.applied = l.Index
	return nil
}

// Get lee key del estado local.
func (f *FSM) Get(key string) (any, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := tree.Get(f.data, key)
	return tree.Clone(v), ok
}

// ListKeys retorna las hojas bajo prefix, ordenadas.
func (f *FSM) ListKeys(prefix string) []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []string
	for k := range tree.Flatten(f.data) {
		if prefix == "" || tree.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Tree retorna una copia del estado completo.
func (f *FSM) Tree() map[string]any {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return tree.CloneMap(f.data)
}

// AppliedIndex es el índice del último log aplicado.
func (f *FSM) AppliedIndex() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.applied
}

// Snapshot captura una copia del árbol; Persist la escribe como JSON gzip.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	return &treeSnap{data: f.Tree()}, nil
}

func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	gz, err := gzip.NewReader(rc)
	if err != nil {
		return fmt.Errorf("fsm: restore: %w", err)
	}
	defer gz.Close()

	data := make(map[string]any)
	if err := json.NewDecoder(gz).Decode(&data); err != nil {
		return fmt.Errorf("fsm: restore: %w", err)
	}
	f.mu.Lock()
	f.data = data
	f.mu.Unlock()
	return nil
}

type treeSnap struct{ data map[string]any }

func (s *treeSnap) Persist(sink raft.SnapshotSink) error {
	gw := gzip.NewWriter(sink)
	if err := json.NewEncoder(gw).Encode(s.data); err != nil {
		_ = gw.Close()
		_ = sink.Cancel()
		return err
	}
	if err := gw.Close(); err != nil {
		_ = sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *treeSnap) Release() {}
