// Package pg implementa store.Repository sobre PostgreSQL (pgx/pgxpool).
//
// Cada hoja del árbol es una fila de config_entries con el valor en JSONB.
package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/cfgvault/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS config_entries (
	config_key TEXT PRIMARY KEY,
	value      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Config configuración de conexión.
type Config struct {
	Name            string
	DSN             string
	MaxConns        int32
	MinConns        int32
	ConnMaxLifetime time.Duration
}

// Repo es un repositorio PostgreSQL.
type Repo struct {
	name string
	pool *pgxpool.Pool
}

var _ store.Repository = (*Repo)(nil)

// New abre el pool, verifica conectividad y asegura el schema.
func New(ctx context.Context, cfg Config) (*Repo, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pg: parse pgxpool config: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	if cfg.ConnMaxLifetime > 0 {
		pc.MaxConnLifetime = cfg.ConnMaxLifetime
		pc.MaxConnIdleTime = cfg.ConnMaxLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("pg: new pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}
	r := NewFromPool(cfg.Name, pool)
	if err := r.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return r, nil
}

// NewFromPool usa un pool existente.
func NewFromPool(name string, pool *pgxpool.Pool) *Repo {
	if name == "" {
		name = "pg"
	}
	return &Repo{name: name, pool: pool}
}

// EnsureSchema crea la tabla si no existe.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("pg: ensure schema: %w", err)
	}
	return nil
}

func (r *Repo) Name() string { return r.name }

func (r *Repo) Get(ctx context.Context, key string) (any, bool, error) {
	if err := store.CheckKey(key); err != nil {
		return nil, false, err
	}
	var raw []byte
	err := r.pool.QueryRow(ctx, `SELECT value FROM config_entries WHERE config_key = $1`, key).Scan(&raw)
	switch {
	case err == nil:
		v, err := decode(raw)
		return v, err == nil, err
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, false, err
	}

	leaves, err := r.subtree(ctx, key)
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
	leaves := store.Leaves(key, value)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := deleteSubtree(ctx, tx, key); err != nil {
		return err
	}
	if anc := store.Ancestors(key); len(anc) > 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM config_entries WHERE config_key = ANY($1)`, anc); err != nil {
			return err
		}
	}

	batch := &pgx.Batch{}
	for k, v := range leaves {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("pg: encode %s: %w", k, err)
		}
		batch.Queue(`
			INSERT INTO config_entries (config_key, value, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (config_key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
		`, k, b)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repo) Delete(ctx context.Context, key string) error {
	if err := store.CheckKey(key); err != nil {
		return err
	}
	return deleteSubtree(ctx, r.pool, key)
}

func (r *Repo) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if prefix == "" {
		rows, err = r.pool.Query(ctx, `SELECT config_key FROM config_entries ORDER BY config_key`)
	} else {
		rows, err = r.pool.Query(ctx, `
			SELECT config_key FROM config_entries
			WHERE config_key = $1 OR starts_with(config_key, $1 || '.')
			ORDER BY config_key
		`, prefix)
	}
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *Repo) Exists(ctx context.Context, key string) (bool, error) {
	if err := store.CheckKey(key); err != nil {
		return false, err
	}
	var ok bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM config_entries
			WHERE config_key = $1 OR starts_with(config_key, $1 || '.')
		)
	`, key).Scan(&ok)
	return ok, err
}

func (r *Repo) HealthCheck(ctx context.Context) store.Health {
	h := store.CheckHealth(ctx, r.name, r.pool.Ping)
	st := r.pool.Stat()
	h.Details = map[string]string{
		"driver":      "pg",
		"total_conns": fmt.Sprint(st.TotalConns()),
		"idle_conns":  fmt.Sprint(st.IdleConns()),
	}
	return h
}

func (r *Repo) Close() error {
	r.pool.Close()
	return nil
}

func (r *Repo) subtree(ctx context.Context, key string) (map[string]any, error) {
	rows, err := r.pool.Query(ctx, `SELECT config_key, value FROM config_entries WHERE starts_with(config_key, $1 || '.')`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]any)
	for rows.Next() {
		var k string
		var raw []byte
		if err := rows.Scan(&k, &raw); err != nil {
			return nil, err
		}
		v, err := decode(raw)
		if err != nil {
			return nil, fmt.Errorf("pg: decode %s: %w", k, err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func deleteSubtree(ctx context.Context, db execer, key string) error {
	_, err := db.Exec(ctx, `DELETE FROM config_entries WHERE config_key = $1 OR starts_with(config_key, $1 || '.')`, key)
	return err
}

func decode(raw []byte) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
