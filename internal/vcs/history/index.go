// Package history mantiene un índice de consulta derivado de los commits.
//
// El índice es una proyección: los commits viven en la arena del orquestador y
// acá sólo se guardan punteros y listas de ids por autor, fecha, palabra clave,
// path y tipo de cambio. Se puede reconstruir en cualquier momento con Rebuild.
package history

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/dropDatabas3/cfgvault/internal/domain/errs"
	"github.com/dropDatabas3/cfgvault/internal/vcs/change"
	"github.com/dropDatabas3/cfgvault/internal/vcs/commit"
)

const dayLayout = "2006-01-02"

// Index es seguro para uso concurrente.
type Index struct {
	mu sync.RWMutex

	commits map[string]*commit.Commit
	seq     map[string]int

	byAuthor  map[string][]string
	byDate    map[string][]string
	byKeyword map[string][]string
	byPath    map[string][]string
	byKind    map[change.Kind][]string

	// lineage une paths renombrados (union-find).
	lineage map[string]string
}

func New() *Index {
	ix := &Index{}
	ix.reset()
	return ix
}

func (ix *Index) reset() {
	ix.commits = make(map[string]*commit.Commit)
	ix.seq = make(map[string]int)
	ix.byAuthor = make(map[string][]string)
	ix.byDate = make(map[string][]string)
	ix.byKeyword = make(map[string][]string)
	ix.byPath = make(map[string][]string)
	ix.byKind = make(map[change.Kind][]string)
	ix.lineage = make(map[string]string)
}

// Add indexa un commit validado. Indexar dos veces el mismo id es un no-op.
func (ix *Index) Add(c *commit.Commit) error {
	if c == nil || !c.Validated() {
		return fmt.Errorf("history: refusing to index unvalidated commit: %w", errs.ErrValidation)
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.addLocked(c)
	return nil
}

func (ix *Index) addLocked(c *commit.Commit) {
	if _, ok := ix.commits[c.ID]; ok {
		return
	}
	ix.commits[c.ID] = c
	ix.seq[c.ID] = len(ix.seq)

	ix.byAuthor[c.Author] = append(ix.byAuthor[c.Author], c.ID)
	day := c.Timestamp.UTC().Format(dayLayout)
	ix.byDate[day] = append(ix.byDate[day], c.ID)

	for _, w := range uniq(Tokenize(c.Message)) {
		ix.byKeyword[w] = append(ix.byKeyword[w], c.ID)
	}
	for _, p := range c.AffectedKeys() {
		ix.byPath[p] = append(ix.byPath[p], c.ID)
	}
	kinds := make(map[change.Kind]struct{})
	for _, ch := range c.Changes {
		if _, ok := kinds[ch.Kind]; !ok {
			kinds[ch.Kind] = struct{}{}
			ix.byKind[ch.Kind] = append(ix.byKind[ch.Kind], c.ID)
		}
		if ch.Kind == change.Renamed {
			ix.union(ch.OldKey, ch.Key)
		}
	}
}

// Rebuild descarta el índice y lo regenera desde commits.
func (ix *Index) Rebuild(commits []*commit.Commit) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.reset()
	sorted := append([]*commit.Commit(nil), commits...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })
	for _, c := range sorted {
		if c != nil && c.Validated() {
			ix.addLocked(c)
		}
	}
}

// Get retorna un commit indexado.
func (ix *Index) Get(id string) (*commit.Commit, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	c, ok := ix.commits[id]
	return c, ok
}

// Len retorna la cantidad de commits indexados.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.commits)
}

// ByAuthor retorna los commits de un autor, más nuevos primero.
func (ix *Index) ByAuthor(author string) []*commit.Commit {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.resolveLocked(ix.byAuthor[author])
}

// ByDate retorna los commits del día calendario (UTC) de t.
func (ix *Index) ByDate(t time.Time) []*commit.Commit {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.resolveLocked(ix.byDate[t.UTC().Format(dayLayout)])
}

// ByKeyword retorna los commits cuyo mensaje contiene la palabra.
func (ix *Index) ByKeyword(word string) []*commit.Commit {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.resolveLocked(ix.byKeyword[normalizeToken(word)])
}

// ByPath retorna los commits que tocaron exactamente path.
func (ix *Index) ByPath(path string) []*commit.Commit {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.resolveLocked(ix.byPath[path])
}

// resolveLocked convierte ids a commits ordenados más nuevo primero.
func (ix *Index) resolveLocked(ids []string) []*commit.Commit {
	out := make([]*commit.Commit, 0, len(ids))
	for _, id := range ids {
		if c, ok := ix.commits[id]; ok {
			out = append(out, c)
		}
	}
	ix.sortNewestFirst(out)
	return out
}

func (ix *Index) sortNewestFirst(cs []*commit.Commit) {
	sort.SliceStable(cs, func(i, j int) bool {
		ti, tj := cs[i].Timestamp, cs[j].Timestamp
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return ix.seq[cs[i].ID] > ix.seq[cs[j].ID]
	})
}

// ─── Lineage (renames) ───

func (ix *Index) find(p string) string {
	parent, ok := ix.lineage[p]
	if !ok || parent == p {
		return p
	}
	root := ix.find(parent)
	ix.lineage[p] = root
	return root
}

func (ix *Index) union(a, b string) {
	ra, rb := ix.find(a), ix.find(b)
	if ra == rb {
		return
	}
	// la raíz queda en el path más viejo para conservar el commit original
	ix.lineage[rb] = ra
	if _, ok := ix.lineage[ra]; !ok {
		ix.lineage[ra] = ra
	}
}

// Tokenize separa un mensaje en palabras clave normalizadas.
func Tokenize(msg string) []string {
	var out []string
	for _, f := range strings.Fields(msg) {
		if w := normalizeToken(f); w != "" {
			out = append(out, w)
		}
	}
	return out
}

func normalizeToken(s string) string {
	return strings.ToLower(strings.TrimFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}))
}

func uniq(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
