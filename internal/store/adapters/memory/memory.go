// Package memory implementa store.Repository sobre un árbol en memoria.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/dropDatabas3/cfgvault/internal/store"
	"github.com/dropDatabas3/cfgvault/internal/tree"
)

// Repo es un repositorio en memoria seguro para uso concurrente.
type Repo struct {
	name string
	mu   sync.RWMutex
	data map[string]any
}

var _ store.Repository = (*Repo)(nil)

func New(name string) *Repo {
	return NewFromTree(name, nil)
}

// NewFromTree arranca con una copia de data.
func NewFromTree(name string, data map[string]any) *Repo {
	if name == "" {
		name = "memory"
	}
	cp := tree.CloneMap(data)
	if cp == nil {
		cp = make(map[string]any)
	}
	return &Repo{name: name, data: cp}
}

func (r *Repo) Name() string { return r.name }

func (r *Repo) Get(_ context.Context, key string) (any, bool, error) {
	if err := store.CheckKey(key); err != nil {
		return nil, false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := tree.Get(r.data, key)
	return tree.Clone(v), ok, nil
}

func (r *Repo) Set(_ context.Context, key string, value any) error {
	if err := store.CheckKey(key); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	tree.Set(r.data, key, tree.Clone(value))
	return nil
}

func (r *Repo) Delete(_ context.Context, key string) error {
	if err := store.CheckKey(key); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	tree.Delete(r.data, key)
	return nil
}

func (r *Repo) ListKeys(_ context.Context, prefix string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for k := range tree.Flatten(r.data) {
		if tree.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *Repo) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := r.Get(ctx, key)
	return ok, err
}

func (r *Repo) HealthCheck(ctx context.Context) store.Health {
	return store.CheckHealth(ctx, r.name, func(context.Context) error { return nil })
}

func (r *Repo) Close() error { return nil }

// Dump retorna una copia del árbol completo.
func (r *Repo) Dump() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return tree.CloneMap(r.data)
}

// Replace reemplaza el árbol completo.
func (r *Repo) Replace(data map[string]any) {
	cp := tree.CloneMap(data)
	if cp == nil {
		cp = make(map[string]any)
	}
	r.mu.Lock()
	r.data = cp
	r.mu.Unlock()
}
