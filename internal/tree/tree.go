// Package tree provee helpers sobre árboles de configuración anidados.
//
// Un árbol es un map[string]any cuyos valores son escalares, secuencias ([]any)
// o sub-mapas (map[string]any). Las claves son paths separados por punto
// ("db.primary.host"). Los helpers nunca entran en valores hoja opacos.
package tree

import (
	"sort"
	"strings"
)

// Sep es el separador de segmentos de un path.
const Sep = "."

// Split divide un path en segmentos.
func Split(path string) []string {
	return strings.Split(path, Sep)
}

// Join une segmentos en un path. Ignora segmentos vacíos.
func Join(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, Sep)
}

// HasPrefix indica si key es igual a prefix o vive debajo de él
// (respetando el límite de segmento: "db" matchea "db.host" pero no "dbx").
func HasPrefix(key, prefix string) bool {
	if prefix == "" {
		return true
	}
	if key == prefix {
		return true
	}
	return strings.HasPrefix(key, prefix+Sep)
}

// Get obtiene el valor en path. Retorna false si algún segmento no existe.
func Get(data map[string]any, path string) (any, bool) {
	if data == nil || path == "" {
		return nil, false
	}
	var current any = data
	for _, part := range Split(path) {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		v, exists := m[part]
		if !exists {
			return nil, false
		}
		current = v
	}
	return current, true
}

// Set guarda value en path creando mapas intermedios.
// Un intermedio que no es mapa se reemplaza por uno nuevo.
func Set(data map[string]any, path string, value any) {
	if data == nil || path == "" {
		return
	}
	parts := Split(path)
	current := data
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

// Delete elimina path y poda los mapas padre que quedaron vacíos por esta baja.
// Retorna true si el valor existía.
func Delete(data map[string]any, path string) bool {
	if data == nil || path == "" {
		return false
	}
	parts := Split(path)
	chain := make([]map[string]any, 0, len(parts))
	current := data
	for _, part := range parts[:len(parts)-1] {
		chain = append(chain, current)
		next, ok := current[part].(map[string]any)
		if !ok {
			return false
		}
		current = next
	}
	last := parts[len(parts)-1]
	if _, ok := current[last]; !ok {
		return false
	}
	delete(current, last)

	// podar hacia arriba
	for i := len(chain) - 1; i >= 0; i-- {
		child := chain[i][parts[i]].(map[string]any)
		if len(child) > 0 {
			break
		}
		delete(chain[i], parts[i])
	}
	return true
}

// Flatten aplana el árbol a un mapa path -> hoja.
// Sólo recursa en mapas no vacíos; un mapa vacío cuenta como hoja.
func Flatten(data map[string]any) map[string]any {
	out := make(map[string]any)
	flatten(data, "", out)
	return out
}

func flatten(data map[string]any, prefix string, out map[string]any) {
	for k, v := range data {
		full := k
		if prefix != "" {
			full = prefix + Sep + k
		}
		if nested, ok := v.(map[string]any); ok && len(nested) > 0 {
			flatten(nested, full, out)
			continue
		}
		out[full] = v
	}
}

// Unflatten reconstruye un árbol anidado desde un mapa de paths.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for _, k := range SortedKeys(flat) {
		Set(out, k, Clone(flat[k]))
	}
	return out
}

// Keys retorna los paths hoja del árbol, ordenados.
func Keys(data map[string]any) []string {
	return SortedKeys(Flatten(data))
}

// SortedKeys retorna las claves de m ordenadas.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CloneMap hace una copia profunda de un árbol.
func CloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = Clone(v)
	}
	return dst
}

// Clone hace una copia profunda de un valor.
func Clone(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return CloneMap(x)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = Clone(item)
		}
		return out
	default:
		return v
	}
}
