package source

import (
	"fmt"
	"strings"
	"time"

	"github.com/dropDatabas3/cfgvault/internal/domain/errs"
	"github.com/dropDatabas3/cfgvault/internal/store"
)

// Strategy define cómo se combinan los valores de varias fuentes.
type Strategy string

const (
	// Override: gana el valor de mayor prioridad; los demás distintos se registran como conflicto.
	Override Strategy = "override"
	// Merge: unión superficial de mappings; si algún valor no es mapping, gana el de mayor prioridad.
	Merge Strategy = "merge"
	// FirstWins: el primer resultado en orden de prioridad.
	FirstWins Strategy = "first_wins"
	// LastWins: el último resultado en orden de prioridad.
	LastWins Strategy = "last_wins"
)

// Fallback define qué hacer cuando una fuente falla durante una lectura.
type Fallback string

const (
	FailFast   Fallback = "fail_fast"
	SkipFailed Fallback = "skip_failed"
	// UseCache sustituye el último valor conocido de esa fuente.
	UseCache Fallback = "use_cache"
)

func ParseStrategy(s string) (Strategy, error) {
	switch v := Strategy(strings.ToLower(strings.TrimSpace(s))); v {
	case Override, Merge, FirstWins, LastWins:
		return v, nil
	case "":
		return Override, nil
	}
	return "", fmt.Errorf("source strategy %q: %w", s, errs.ErrInvalidInput)
}

func ParseFallback(s string) (Fallback, error) {
	switch v := Fallback(strings.ToLower(strings.TrimSpace(s))); v {
	case FailFast, SkipFailed, UseCache:
		return v, nil
	case "":
		return SkipFailed, nil
	}
	return "", fmt.Errorf("source fallback %q: %w", s, errs.ErrInvalidInput)
}

// Source es un repositorio registrado en el manager.
// Menor Priority = mayor precedencia.
type Source struct {
	Repo     store.Repository
	Priority int
	ReadOnly bool
}

func (s Source) Name() string { return s.Repo.Name() }

// Conflict registra valores distintos para una misma clave entre fuentes.
// Es sólo observabilidad: no bloquea la lectura.
type Conflict struct {
	Key         string    `json:"key"`
	Winner      string    `json:"winner"`
	WinnerValue any       `json:"winner_value"`
	Source      string    `json:"source"`
	Value       any       `json:"value"`
	DetectedAt  time.Time `json:"detected_at"`
}

// Stats resume la actividad del manager.
type Stats struct {
	Sources     int              `json:"sources"`
	CacheHits   int64            `json:"cache_hits"`
	CacheMisses int64            `json:"cache_misses"`
	Errors      map[string]int64 `json:"errors"`
	Conflicts   int              `json:"conflicts"`
}
