// Package change modela la transición atómica de una clave y el cómputo de diffs
// entre dos snapshots completos de configuración.
package change

import (
	"fmt"

	"github.com/dropDatabas3/cfgvault/internal/tree"
)

// Kind es el tipo de transición de una clave.
type Kind string

const (
	Added    Kind = "added"
	Modified Kind = "modified"
	Deleted  Kind = "deleted"
	Renamed  Kind = "renamed"
)

// Valid indica si k es un tipo conocido.
func (k Kind) Valid() bool {
	switch k {
	case Added, Modified, Deleted, Renamed:
		return true
	}
	return false
}

// Change es la transición de estado de una clave (path con puntos).
//
// Invariantes: Added no tiene OldValue, Deleted no tiene NewValue,
// Renamed siempre tiene OldKey.
type Change struct {
	Key      string `yaml:"key" json:"key"`
	Kind     Kind   `yaml:"kind" json:"kind"`
	OldValue any    `yaml:"old_value,omitempty" json:"old_value,omitempty"`
	NewValue any    `yaml:"new_value,omitempty" json:"new_value,omitempty"`
	OldKey   string `yaml:"old_key,omitempty" json:"old_key,omitempty"`
}

func NewAdded(key string, value any) Change {
	return Change{Key: key, Kind: Added, NewValue: value}
}

func NewModified(key string, oldValue, newValue any) Change {
	return Change{Key: key, Kind: Modified, OldValue: oldValue, NewValue: newValue}
}

func NewDeleted(key string, oldValue any) Change {
	return Change{Key: key, Kind: Deleted, OldValue: oldValue}
}

// NewRenamed mueve oldKey a newKey. value es informativo; al aplicarse
// se usa el valor vigente en oldKey.
func NewRenamed(oldKey, newKey string, value any) Change {
	return Change{Key: newKey, Kind: Renamed, OldKey: oldKey, NewValue: value}
}

// Problems retorna las violaciones de invariantes del cambio (vacío si es consistente).
func (c Change) Problems() []string {
	var out []string
	if c.Key == "" {
		out = append(out, "change has empty key")
	}
	if !c.Kind.Valid() {
		out = append(out, fmt.Sprintf("change %q has unknown kind %q", c.Key, c.Kind))
		return out
	}
	switch c.Kind {
	case Added:
		if c.OldValue != nil {
			out = append(out, fmt.Sprintf("added change %q must not carry an old value", c.Key))
		}
	case Deleted:
		if c.NewValue != nil {
			out = append(out, fmt.Sprintf("deleted change %q must not carry a new value", c.Key))
		}
	case Renamed:
		if c.OldKey == "" {
			out = append(out, fmt.Sprintf("renamed change %q must carry the old key", c.Key))
		} else if c.OldKey == c.Key {
			out = append(out, fmt.Sprintf("renamed change %q renames onto itself", c.Key))
		}
	}
	if c.OldKey != "" && c.Kind != Renamed {
		out = append(out, fmt.Sprintf("%s change %q must not carry an old key", c.Kind, c.Key))
	}
	return out
}

// Paths retorna las claves afectadas (ambos lados en un rename).
func (c Change) Paths() []string {
	if c.Kind == Renamed {
		return []string{c.OldKey, c.Key}
	}
	return []string{c.Key}
}

func (c Change) String() string {
	if c.Kind == Renamed {
		return fmt.Sprintf("%s %s -> %s", c.Kind, c.OldKey, c.Key)
	}
	return fmt.Sprintf("%s %s", c.Kind, c.Key)
}

// Combine fusiona next sobre un cambio previo de la misma clave.
//
//	Added    + Modified -> Added (valor final)
//	Added    + Deleted  -> se descarta (keep=false)
//	Modified + Modified -> Modified (old original, new último)
//	Modified + Deleted  -> Deleted (old original)
//	resto               -> gana el último
//
// Un rename implica además el borrado de OldKey, que el último cambio no
// conserva; Append nunca lo combina.
func Combine(prev, next Change) (merged Change, keep bool) {
	switch {
	case prev.Kind == Added && next.Kind == Modified:
		return Change{Key: prev.Key, Kind: Added, NewValue: next.NewValue}, true
	case prev.Kind == Added && next.Kind == Deleted:
		return Change{}, false
	case prev.Kind == Modified && next.Kind == Modified:
		return Change{Key: prev.Key, Kind: Modified, OldValue: prev.OldValue, NewValue: next.NewValue}, true
	case prev.Kind == Modified && next.Kind == Deleted:
		return Change{Key: prev.Key, Kind: Deleted, OldValue: prev.OldValue}, true
	default:
		return next, true
	}
}

// Append agrega c al final de changes. Si el último cambio que se superpone
// con c es de la misma clave y ninguno de los dos es un rename, se fusionan
// con Combine en su lugar. El orden resultante reproduce la secuencia
// original al aplicarse.
func Append(changes []Change, c Change) []Change {
	for i := len(changes) - 1; i >= 0; i-- {
		prev := changes[i]
		if !overlaps(prev, c) {
			continue
		}
		if prev.Key != c.Key || prev.Kind == Renamed || c.Kind == Renamed {
			break
		}
		merged, keep := Combine(prev, c)
		if !keep {
			return append(changes[:i:i], changes[i+1:]...)
		}
		changes[i] = merged
		return changes
	}
	return append(changes, c)
}

// overlaps indica si a y b tocan la misma clave o una ancestro de la otra.
func overlaps(a, b Change) bool {
	for _, p := range a.Paths() {
		for _, q := range b.Paths() {
			if tree.HasPrefix(p, q) || tree.HasPrefix(q, p) {
				return true
			}
		}
	}
	return false
}
