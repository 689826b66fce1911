package change

// Set es la secuencia ordenada de cambios pendientes. Agregar un cambio
// sobre una clave con un cambio previo compatible aplica Combine (ver Append);
// si no, queda como una entrada más y la clave puede repetirse.
type Set struct {
	items []Change
}

func NewSet() *Set {
	return &Set{}
}

// Add incorpora c al final de la secuencia.
func (s *Set) Add(c Change) {
	s.items = Append(s.items, c)
}

// Get retorna el último cambio pendiente de una clave.
func (s *Set) Get(key string) (Change, bool) {
	for i := len(s.items) - 1; i >= 0; i-- {
		if s.items[i].Key == key {
			return s.items[i], true
		}
	}
	return Change{}, false
}

// Has indica si hay algún cambio pendiente para key.
func (s *Set) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// Take quita y retorna, en orden, todos los cambios de una clave.
func (s *Set) Take(key string) []Change {
	var taken []Change
	kept := s.items[:0]
	for _, c := range s.items {
		if c.Key == key {
			taken = append(taken, c)
			continue
		}
		kept = append(kept, c)
	}
	s.items = kept
	return taken
}

// Remove quita todos los cambios de una clave.
func (s *Set) Remove(key string) bool {
	return len(s.Take(key)) > 0
}

// List retorna una copia de los cambios en orden.
func (s *Set) List() []Change {
	return append([]Change(nil), s.items...)
}

// Keys retorna las claves sin repetir, en orden de primera aparición.
func (s *Set) Keys() []string {
	seen := make(map[string]struct{}, len(s.items))
	var out []string
	for _, c := range s.items {
		if _, ok := seen[c.Key]; ok {
			continue
		}
		seen[c.Key] = struct{}{}
		out = append(out, c.Key)
	}
	return out
}

// Len es la cantidad de entradas pendientes.
func (s *Set) Len() int { return len(s.items) }

// Clear vacía el set.
func (s *Set) Clear() {
	s.items = nil
}
