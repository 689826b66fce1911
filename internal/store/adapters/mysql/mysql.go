// Package mysql implementa store.Repository sobre MySQL.
// Usa database/sql con github.com/go-sql-driver/mysql.
//
// Requisitos:
//   - MySQL 8.0+ (columna JSON)
//   - DSN format: user:password@tcp(host:port)/database?parseTime=true
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/dropDatabas3/cfgvault/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS config_entries (
	config_key VARCHAR(512) NOT NULL PRIMARY KEY,
	value      JSON NOT NULL,
	updated_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6)
)`

// El subárbol de ? es: config_key = ? o empieza con "?.".
const subtreeCond = `(config_key = ? OR LEFT(config_key, CHAR_LENGTH(?) + 1) = CONCAT(?, '.'))`

// Config configuración de conexión.
type Config struct {
	Name         string
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// Repo es un repositorio MySQL.
type Repo struct {
	name string
	db   *sql.DB
}

var _ store.Repository = (*Repo)(nil)

// New abre la conexión, configura el pool y asegura el schema.
func New(ctx context.Context, cfg Config) (*Repo, error) {
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mysql: open: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(10)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(2)
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("mysql: ping failed: %w", err)
	}
	r := NewFromDB(cfg.Name, db)
	if err := r.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// NewFromDB usa un *sql.DB existente.
func NewFromDB(name string, db *sql.DB) *Repo {
	if name == "" {
		name = "mysql"
	}
	return &Repo{name: name, db: db}
}

// EnsureSchema crea la tabla si no existe.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("mysql: ensure schema: %w", err)
	}
	return nil
}

func (r *Repo) Name() string { return r.name }

func (r *Repo) Get(ctx context.Context, key string) (any, bool, error) {
	if err := store.CheckKey(key); err != nil {
		return nil, false, err
	}
	var raw []byte
	err := r.db.QueryRowContext(ctx, `SELECT value FROM config_entries WHERE config_key = ?`, key).Scan(&raw)
	switch {
	case err == nil:
		v, err := decode(raw)
		return v, err == nil, err
	case !errors.Is(err, sql.ErrNoRows):
		return nil, false, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT config_key, value FROM config_entries WHERE LEFT(config_key, CHAR_LENGTH(?) + 1) = CONCAT(?, '.')`,
		key, key)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	leaves := make(map[string]any)
	for rows.Next() {
		var k string
		var raw []byte
		if err := rows.Scan(&k, &raw); err != nil {
			return nil, false, err
		}
		v, err := decode(raw)
		if err != nil {
			return nil, false, fmt.Errorf("mysql: decode %s: %w", k, err)
		}
		leaves[k] = v
	}
	if err := rows.Err(); err != nil {
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

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM config_entries WHERE `+subtreeCond, key, key, key); err != nil {
		return err
	}
	if anc := store.Ancestors(key); len(anc) > 0 {
		args := make([]any, len(anc))
		for i, a := range anc {
			args[i] = a
		}
		q := `DELETE FROM config_entries WHERE config_key IN (?` + strings.Repeat(",?", len(anc)-1) + `)`
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return err
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO config_entries (config_key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP(6))
		ON DUPLICATE KEY UPDATE value = VALUES(value), updated_at = CURRENT_TIMESTAMP(6)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for k, v := range leaves {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("mysql: encode %s: %w", k, err)
		}
		if _, err := stmt.ExecContext(ctx, k, string(b)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *Repo) Delete(ctx context.Context, key string) error {
	if err := store.CheckKey(key); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM config_entries WHERE `+subtreeCond, key, key, key)
	return err
}

func (r *Repo) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if prefix == "" {
		rows, err = r.db.QueryContext(ctx, `SELECT config_key FROM config_entries ORDER BY config_key`)
	} else {
		rows, err = r.db.QueryContext(ctx,
			`SELECT config_key FROM config_entries WHERE `+subtreeCond+` ORDER BY config_key`,
			prefix, prefix, prefix)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (r *Repo) Exists(ctx context.Context, key string) (bool, error) {
	if err := store.CheckKey(key); err != nil {
		return false, err
	}
	var ok bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM config_entries WHERE `+subtreeCond+`)`,
		key, key, key).Scan(&ok)
	return ok, err
}

func (r *Repo) HealthCheck(ctx context.Context) store.Health {
	h := store.CheckHealth(ctx, r.name, r.db.PingContext)
	st := r.db.Stats()
	h.Details = map[string]string{
		"driver":           "mysql",
		"open_connections": fmt.Sprint(st.OpenConnections),
		"in_use":           fmt.Sprint(st.InUse),
	}
	return h
}

func (r *Repo) Close() error { return r.db.Close() }

func decode(raw []byte) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
