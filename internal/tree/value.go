package tree

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
)

// Kind clasifica un valor de configuración.
type Kind uint8

const (
	KindScalar Kind = iota
	KindSequence
	KindMapping
)

func (k Kind) String() string {
	switch k {
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	default:
		return "scalar"
	}
}

// KindOf retorna la forma del valor.
func KindOf(v any) Kind {
	switch v.(type) {
	case map[string]any:
		return KindMapping
	case []any:
		return KindSequence
	default:
		return KindScalar
	}
}

// Equal compara dos valores estructuralmente.
// Los numéricos se comparan por valor sin importar el tipo concreto (int vs float64),
// porque YAML y JSON decodifican el mismo número de forma distinta.
func Equal(a, b any) bool {
	ka, kb := KindOf(a), KindOf(b)
	if ka != kb {
		return false
	}
	switch ka {
	case KindMapping:
		ma, mb := a.(map[string]any), b.(map[string]any)
		if len(ma) != len(mb) {
			return false
		}
		for k, va := range ma {
			vb, ok := mb[k]
			if !ok || !Equal(va, vb) {
				return false
			}
		}
		return true
	case KindSequence:
		sa, sb := a.([]any), b.([]any)
		if len(sa) != len(sb) {
			return false
		}
		for i := range sa {
			if !Equal(sa[i], sb[i]) {
				return false
			}
		}
		return true
	default:
		fa, okA := toFloat(a)
		fb, okB := toFloat(b)
		if okA && okB {
			return fa == fb
		}
		if okA != okB {
			return false
		}
		return a == b
	}
}

// MergeValues combina dos valores de la misma forma.
//
//   - mapping + mapping: unión recursiva, incoming pisa las hojas superpuestas.
//   - sequence + sequence: unión que preserva orden y elimina duplicados.
//   - numérico + numérico: media aritmética.
//
// Retorna ok=false si las formas difieren o los escalares no son combinables.
func MergeValues(current, incoming any) (merged any, ok bool) {
	kc, ki := KindOf(current), KindOf(incoming)
	if kc != ki {
		return nil, false
	}
	switch kc {
	case KindMapping:
		return mergeMappings(current.(map[string]any), incoming.(map[string]any)), true
	case KindSequence:
		return unionSequences(current.([]any), incoming.([]any)), true
	default:
		if Equal(current, incoming) {
			return Clone(current), true
		}
		return mean(current, incoming)
	}
}

func mergeMappings(current, incoming map[string]any) map[string]any {
	out := CloneMap(current)
	if out == nil {
		out = make(map[string]any, len(incoming))
	}
	for k, iv := range incoming {
		cv, exists := out[k]
		if exists {
			cm, cIsMap := cv.(map[string]any)
			im, iIsMap := iv.(map[string]any)
			if cIsMap && iIsMap {
				out[k] = mergeMappings(cm, im)
				continue
			}
		}
		out[k] = Clone(iv)
	}
	return out
}

func unionSequences(current, incoming []any) []any {
	out := make([]any, 0, len(current)+len(incoming))
	appendUnique := func(v any) {
		for _, existing := range out {
			if Equal(existing, v) {
				return
			}
		}
		out = append(out, Clone(v))
	}
	for _, v := range current {
		appendUnique(v)
	}
	for _, v := range incoming {
		appendUnique(v)
	}
	return out
}

func mean(a, b any) (any, bool) {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if !okA || !okB {
		return nil, false
	}
	if isInteger(a) && isInteger(b) {
		sum := int64(fa) + int64(fb)
		if sum%2 == 0 {
			return int(sum / 2), true
		}
	}
	return (fa + fb) / 2, true
}

func isInteger(v any) bool {
	switch n := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case float64:
		return n == math.Trunc(n)
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// Checksum retorna el sha256 hex de la forma canónica JSON del valor.
// encoding/json ordena las claves de los mapas, así que es determinista.
func Checksum(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		b = []byte(fmt.Sprintf("%#v", v))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
