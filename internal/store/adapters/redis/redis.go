// Package redis implementa store.Repository sobre Redis.
//
// Cada hoja del árbol es un string key "<prefix>:<dotted.key>" con el valor
// codificado en JSON. Un Set de un mapping reemplaza el sub-árbol entero.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dropDatabas3/cfgvault/internal/store"
)

const defaultPrefix = "cfgvault"

// Config configuración de conexión.
type Config struct {
	Name     string
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Repo es un repositorio Redis.
type Repo struct {
	name   string
	prefix string
	rdb    *redis.Client
	owned  bool
}

var _ store.Repository = (*Repo)(nil)

// New abre un cliente Redis y verifica la conexión.
func New(ctx context.Context, cfg Config) (*Repo, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password, DB: cfg.DB})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping failed: %w", err)
	}
	r := NewFromClient(cfg.Name, rdb, cfg.Prefix)
	r.owned = true
	return r, nil
}

// NewFromClient reutiliza un cliente existente. Close no lo cierra.
func NewFromClient(name string, rdb *redis.Client, prefix string) *Repo {
	if name == "" {
		name = "redis"
	}
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Repo{name: name, prefix: prefix, rdb: rdb}
}

// Client expone el cliente subyacente (para compartirlo con cache y eventos).
func (r *Repo) Client() *redis.Client { return r.rdb }

func (r *Repo) Name() string { return r.name }

func (r *Repo) rkey(key string) string { return r.prefix + ":" + key }

func (r *Repo) Get(ctx context.Context, key string) (any, bool, error) {
	if err := store.CheckKey(key); err != nil {
		return nil, false, err
	}
	raw, err := r.rdb.Get(ctx, r.rkey(key)).Result()
	if err == nil {
		v, err := decode(raw)
		return v, err == nil, err
	}
	if !errors.Is(err, redis.Nil) {
		return nil, false, err
	}

	keys, err := r.scan(ctx, key, false)
	if err != nil || len(keys) == 0 {
		return nil, false, err
	}
	leaves, err := r.mget(ctx, keys)
	if err != nil {
		return nil, false, err
	}
	v, ok := store.Assemble(key, leaves)
	return v, ok, nil
}

func (r *Repo) Set(ctx context.Context, key string, value any) error {
	if err := store.CheckKey(key); err != nil {
		return err
	}
	stale, err := r.scan(ctx, key, true)
	if err != nil {
		return err
	}
	stale = append(stale, store.Ancestors(key)...)
	leaves := store.Leaves(key, value)
	encoded := make(map[string]string, len(leaves))
	for k, v := range leaves {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("redis: encode %s: %w", k, err)
		}
		encoded[k] = string(b)
	}

	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if len(stale) > 0 {
			p.Del(ctx, r.rkeys(stale)...)
		}
		for k, v := range encoded {
			p.Set(ctx, r.rkey(k), v, 0)
		}
		return nil
	})
	return err
}

func (r *Repo) Delete(ctx context.Context, key string) error {
	if err := store.CheckKey(key); err != nil {
		return err
	}
	keys, err := r.scan(ctx, key, true)
	if err != nil || len(keys) == 0 {
		return err
	}
	return r.rdb.Del(ctx, r.rkeys(keys)...).Err()
}

func (r *Repo) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var err error
	if prefix == "" {
		keys, err = r.scanPattern(ctx, escapeGlob(r.prefix)+":*")
	} else {
		keys, err = r.scan(ctx, prefix, true)
	}
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (r *Repo) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := r.Get(ctx, key)
	return ok, err
}

func (r *Repo) HealthCheck(ctx context.Context) store.Health {
	h := store.CheckHealth(ctx, r.name, func(ctx context.Context) error { return r.rdb.Ping(ctx).Err() })
	h.Details = map[string]string{"driver": "redis", "addr": r.rdb.Options().Addr, "prefix": r.prefix}
	return h
}

func (r *Repo) Close() error {
	if !r.owned {
		return nil
	}
	return r.rdb.Close()
}

// scan retorna las claves (sin prefijo redis) debajo de key, incluyendo key
// misma si withSelf y existe.
func (r *Repo) scan(ctx context.Context, key string, withSelf bool) ([]string, error) {
	keys, err := r.scanPattern(ctx, escapeGlob(r.rkey(key))+".*")
	if err != nil {
		return nil, err
	}
	if withSelf {
		n, err := r.rdb.Exists(ctx, r.rkey(key)).Result()
		if err != nil {
			return nil, err
		}
		if n > 0 {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (r *Repo) scanPattern(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	iter := r.rdb.Scan(ctx, 0, pattern, 500).Iterator()
	for iter.Next(ctx) {
		out = append(out, strings.TrimPrefix(iter.Val(), r.prefix+":"))
	}
	return out, iter.Err()
}

func (r *Repo) mget(ctx context.Context, keys []string) (map[string]any, error) {
	vals, err := r.rdb.MGet(ctx, r.rkeys(keys)...).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(keys))
	for i, raw := range vals {
		s, ok := raw.(string)
		if !ok {
			// borrada entre SCAN y MGET
			continue
		}
		v, err := decode(s)
		if err != nil {
			return nil, fmt.Errorf("redis: decode %s: %w", keys[i], err)
		}
		out[keys[i]] = v
	}
	return out, nil
}

func (r *Repo) rkeys(keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = r.rkey(k)
	}
	return out
}

func decode(raw string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func escapeGlob(s string) string {
	return strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`).Replace(s)
}
