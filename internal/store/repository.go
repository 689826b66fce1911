// Package store define el contrato de repositorio que consumen el source manager
// y el sync engine, más helpers bulk construidos sobre las primitivas.
//
// Las claves son paths con puntos dentro de un árbol anidado. Los backends
// concretos viven en store/adapters/* y se construyen con store/factory.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dropDatabas3/cfgvault/internal/domain/errs"
	"github.com/dropDatabas3/cfgvault/internal/tree"
)

// Repository es un backend de configuración.
type Repository interface {
	Name() string
	// Get retorna el valor en key. Si key es un prefijo, retorna el sub-árbol.
	Get(ctx context.Context, key string) (value any, found bool, err error)
	// Set escribe key. Un valor mapping reemplaza el sub-árbol entero.
	Set(ctx context.Context, key string, value any) error
	// Delete borra key y todo lo que cuelga de ella. Borrar una clave ausente no es error.
	Delete(ctx context.Context, key string) error
	// ListKeys retorna las hojas bajo prefix ("" = todas), ordenadas.
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	Exists(ctx context.Context, key string) (bool, error)
	HealthCheck(ctx context.Context) Health
	Close() error
}

// Status es el estado de salud de un backend.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Health es el resultado de HealthCheck.
type Health struct {
	Repo    string            `json:"repo"`
	Status  Status            `json:"status"`
	Latency time.Duration     `json:"latency"`
	Error   string            `json:"error,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// Healthy indica si el backend respondió bien.
func (h Health) Healthy() bool { return h.Status == StatusHealthy }

// CheckHealth ejecuta ping y arma un Health con la latencia medida.
func CheckHealth(ctx context.Context, name string, ping func(context.Context) error) Health {
	start := time.Now()
	err := ping(ctx)
	h := Health{Repo: name, Status: StatusHealthy, Latency: time.Since(start)}
	if err != nil {
		h.Status = StatusUnhealthy
		h.Error = err.Error()
	}
	return h
}

// Checksum es el hash canónico de un valor, usado por el sync incremental.
func Checksum(value any) string { return tree.Checksum(value) }

// GetMany lee varias claves. Las ausentes no aparecen en el resultado.
func GetMany(ctx context.Context, r Repository, keys []string) (map[string]any, error) {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		v, ok, err := r.Get(ctx, k)
		if err != nil {
			return nil, errs.WrapRepo(r.Name(), "get "+k, err)
		}
		if ok {
			out[k] = v
		}
	}
	return out, nil
}

// SetMany escribe varias claves en orden de clave.
func SetMany(ctx context.Context, r Repository, values map[string]any) error {
	for _, k := range tree.SortedKeys(values) {
		if err := r.Set(ctx, k, values[k]); err != nil {
			return errs.WrapRepo(r.Name(), "set "+k, err)
		}
	}
	return nil
}

// DeleteMany borra varias claves.
func DeleteMany(ctx context.Context, r Repository, keys []string) error {
	for _, k := range keys {
		if err := r.Delete(ctx, k); err != nil {
			return errs.WrapRepo(r.Name(), "delete "+k, err)
		}
	}
	return nil
}

// Snapshot arma el árbol anidado con las hojas bajo prefix.
func Snapshot(ctx context.Context, r Repository, prefix string) (map[string]any, error) {
	keys, err := r.ListKeys(ctx, prefix)
	if err != nil {
		return nil, errs.WrapRepo(r.Name(), "list", err)
	}
	flat, err := GetMany(ctx, r, keys)
	if err != nil {
		return nil, err
	}
	return tree.Unflatten(flat), nil
}

// Load escribe todas las hojas de data en r.
func Load(ctx context.Context, r Repository, data map[string]any) error {
	return SetMany(ctx, r, tree.Flatten(data))
}

// CheckKey valida una clave antes de tocar un backend.
func CheckKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty key: %w", errs.ErrInvalidInput)
	}
	for _, seg := range tree.Split(key) {
		if seg == "" {
			return fmt.Errorf("key %q has an empty segment: %w", key, errs.ErrInvalidInput)
		}
	}
	return nil
}

// Leaves convierte (key, value) en las hojas que un backend plano debe guardar.
// Un mapping no vacío se expande; cualquier otro valor es una única hoja.
func Leaves(key string, value any) map[string]any {
	m, ok := value.(map[string]any)
	if !ok || len(m) == 0 {
		return map[string]any{key: tree.Clone(value)}
	}
	out := make(map[string]any)
	for k, v := range tree.Flatten(m) {
		out[key+tree.Sep+k] = v
	}
	return out
}

// Assemble reconstruye el valor de key a partir de hojas planas (path -> valor).
// Retorna found=false si no hay hojas en key ni debajo.
func Assemble(key string, leaves map[string]any) (any, bool) {
	if v, ok := leaves[key]; ok {
		return v, true
	}
	sub := make(map[string]any)
	for k, v := range leaves {
		if tree.HasPrefix(k, key) && k != key {
			sub[k[len(key)+1:]] = v
		}
	}
	if len(sub) == 0 {
		return nil, false
	}
	return tree.Unflatten(sub), true
}

// Ancestors retorna los prefijos propios de key ("a.b.c" -> "a", "a.b").
// Los backends planos los borran antes de escribir para no dejar una hoja
// escalar tapando un sub-árbol.
func Ancestors(key string) []string {
	parts := tree.Split(key)
	out := make([]string, 0, len(parts)-1)
	for i := 1; i < len(parts); i++ {
		out = append(out, tree.Join(parts[:i]...))
	}
	return out
}
