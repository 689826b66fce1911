package events

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Journal recuerda cuándo cambió cada clave por última vez. Sirve de change
// feed para el sync incremental cuando las escrituras no pasan por commits.
type Journal struct {
	mu   sync.Mutex
	last map[string]time.Time
	max  int
}

// NewJournal crea un Journal que recuerda a lo sumo max claves (0 = 10000).
// Al llenarse descarta las más viejas.
func NewJournal(max int) *Journal {
	if max <= 0 {
		max = 10000
	}
	return &Journal{last: make(map[string]time.Time), max: max}
}

func (j *Journal) Publish(_ context.Context, e Event) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.last[e.FullKey()] = ts
	if len(j.last) > j.max {
		j.trimLocked()
	}
	return nil
}

// trimLocked deja la mitad más reciente.
func (j *Journal) trimLocked() {
	type entry struct {
		key string
		at  time.Time
	}
	all := make([]entry, 0, len(j.last))
	for k, t := range j.last {
		all = append(all, entry{k, t})
	}
	sort.Slice(all, func(a, b int) bool { return all[a].at.After(all[b].at) })
	keep := j.max / 2
	for _, e := range all[keep:] {
		delete(j.last, e.key)
	}
}

// ChangedKeysSince retorna las claves cambiadas en o después de t, ordenadas.
func (j *Journal) ChangedKeysSince(t time.Time) ([]string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []string
	for k, at := range j.last {
		if !at.Before(t) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}
