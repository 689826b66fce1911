// Package fs implementa store.Repository sobre un único documento YAML.
//
// El archivo se lee la primera vez que se usa (o con Reload) y se reescribe
// de forma atómica en cada mutación.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/dropDatabas3/cfgvault/internal/domain/errs"
	"github.com/dropDatabas3/cfgvault/internal/store"
	"github.com/dropDatabas3/cfgvault/internal/store/adapters/memory"
	"github.com/dropDatabas3/cfgvault/internal/util/atomicwrite"
)

// Repo persiste el árbol en path.
type Repo struct {
	name string
	path string

	mu     sync.Mutex
	loaded bool
	mem    *memory.Repo
}

var _ store.Repository = (*Repo)(nil)

func New(name, path string) (*Repo, error) {
	if path == "" {
		return nil, fmt.Errorf("fs: path is required: %w", errs.ErrInvalidInput)
	}
	if name == "" {
		name = "fs"
	}
	return &Repo{name: name, path: path, mem: memory.New(name)}, nil
}

func (r *Repo) Name() string { return r.name }

// Path retorna la ruta del documento.
func (r *Repo) Path() string { return r.path }

// Reload descarta lo cargado y vuelve a leer el archivo.
func (r *Repo) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaded = false
	return r.ensureLoadedLocked()
}

func (r *Repo) ensureLoadedLocked() error {
	if r.loaded {
		return nil
	}
	data, err := readTree(r.path)
	if err != nil {
		return errs.WrapRepo(r.name, "load", err)
	}
	r.mem.Replace(data)
	r.loaded = true
	return nil
}

func readTree(path string) (map[string]any, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var data map[string]any
	if err := yaml.NewDecoder(f).Decode(&data); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

func (r *Repo) persistLocked() error {
	data := r.mem.Dump()
	err := atomicwrite.Write(r.path, 0o600, func(w io.Writer) error {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return err
		}
		return enc.Close()
	})
	if err != nil {
		return errs.WrapRepo(r.name, "persist", err)
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, key string) (any, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLoadedLocked(); err != nil {
		return nil, false, err
	}
	return r.mem.Get(ctx, key)
}

func (r *Repo) Set(ctx context.Context, key string, value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLoadedLocked(); err != nil {
		return err
	}
	if err := r.mem.Set(ctx, key, value); err != nil {
		return err
	}
	return r.persistLocked()
}

func (r *Repo) Delete(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLoadedLocked(); err != nil {
		return err
	}
	if ok, _ := r.mem.Exists(ctx, key); !ok {
		return nil
	}
	if err := r.mem.Delete(ctx, key); err != nil {
		return err
	}
	return r.persistLocked()
}

func (r *Repo) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLoadedLocked(); err != nil {
		return nil, err
	}
	return r.mem.ListKeys(ctx, prefix)
}

func (r *Repo) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := r.Get(ctx, key)
	return ok, err
}

func (r *Repo) HealthCheck(ctx context.Context) store.Health {
	return store.CheckHealth(ctx, r.name, func(context.Context) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.loaded = false
		return r.ensureLoadedLocked()
	})
}

func (r *Repo) Close() error { return nil }
