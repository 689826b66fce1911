package history

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/dropDatabas3/cfgvault/internal/domain/errs"
	"github.com/dropDatabas3/cfgvault/internal/vcs/branch"
	"github.com/dropDatabas3/cfgvault/internal/vcs/change"
	"github.com/dropDatabas3/cfgvault/internal/vcs/commit"
)

// MatchMode define cómo se compara Query.Text.
type MatchMode string

const (
	MatchExact     MatchMode = "exact"
	MatchSubstring MatchMode = "substring"
	MatchRegex     MatchMode = "regex"
)

// Field define contra qué se compara Query.Text.
type Field string

const (
	FieldMessage Field = "message"
	FieldPath    Field = "path"
)

// Query describe una búsqueda. Los filtros vacíos no restringen.
type Query struct {
	Text     string
	Mode     MatchMode // default: substring
	Field    Field     // default: message
	Author   string
	Path     string   // commits que tocan exactamente esta clave
	Keywords []string // todas deben aparecer en el mensaje
	Kinds    []change.Kind
	Since    time.Time
	Until    time.Time
	Limit    int // 0 = sin límite
	Offset   int
}

// Search ejecuta la consulta. El resultado siempre va del más nuevo al más viejo.
func (ix *Index) Search(q Query) ([]*commit.Commit, error) {
	match, err := q.matcher()
	if err != nil {
		return nil, err
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	candidates := ix.candidatesLocked(q)
	out := make([]*commit.Commit, 0, len(candidates))
	for _, c := range candidates {
		if q.Author != "" && c.Author != q.Author {
			continue
		}
		if !q.Since.IsZero() && c.Timestamp.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && c.Timestamp.After(q.Until) {
			continue
		}
		if q.Path != "" && !touches(c, q.Path) {
			continue
		}
		if len(q.Kinds) > 0 && !hasKind(c, q.Kinds) {
			continue
		}
		if !ix.hasKeywordsLocked(c.ID, q.Keywords) {
			continue
		}
		if match != nil && !q.matches(c, match) {
			continue
		}
		out = append(out, c)
	}
	ix.sortNewestFirst(out)
	return page(out, q.Offset, q.Limit), nil
}

// candidatesLocked elige el índice más selectivo disponible.
func (ix *Index) candidatesLocked(q Query) []*commit.Commit {
	var ids []string
	switch {
	case q.Author != "":
		ids = ix.byAuthor[q.Author]
	case q.Path != "":
		ids = ix.byPath[q.Path]
	case q.Text != "" && q.Field == FieldPath && q.mode() == MatchExact:
		ids = ix.byPath[q.Text]
	case len(q.Keywords) > 0:
		ids = ix.byKeyword[normalizeToken(q.Keywords[0])]
	default:
		out := make([]*commit.Commit, 0, len(ix.commits))
		for _, c := range ix.commits {
			out = append(out, c)
		}
		return out
	}
	out := make([]*commit.Commit, 0, len(ids))
	for _, id := range ids {
		if c, ok := ix.commits[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (ix *Index) hasKeywordsLocked(id string, words []string) bool {
	for _, w := range words {
		found := false
		for _, cid := range ix.byKeyword[normalizeToken(w)] {
			if cid == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (q Query) mode() MatchMode {
	if q.Mode == "" {
		return MatchSubstring
	}
	return q.Mode
}

func (q Query) matcher() (func(string) bool, error) {
	if q.Text == "" {
		return nil, nil
	}
	switch q.mode() {
	case MatchExact:
		return func(s string) bool { return s == q.Text }, nil
	case MatchSubstring:
		needle := strings.ToLower(q.Text)
		return func(s string) bool { return strings.Contains(strings.ToLower(s), needle) }, nil
	case MatchRegex:
		re, err := regexp.Compile(q.Text)
		if err != nil {
			return nil, fmt.Errorf("history: bad regex %q: %v: %w", q.Text, err, errs.ErrInvalidInput)
		}
		return re.MatchString, nil
	default:
		return nil, fmt.Errorf("history: unknown match mode %q: %w", q.Mode, errs.ErrInvalidInput)
	}
}

func (q Query) matches(c *commit.Commit, match func(string) bool) bool {
	if q.Field == FieldPath {
		for _, p := range c.AffectedKeys() {
			if match(p) {
				return true
			}
		}
		return false
	}
	return match(c.Message)
}

func touches(c *commit.Commit, path string) bool {
	for _, p := range c.AffectedKeys() {
		if p == path {
			return true
		}
	}
	return false
}

func hasKind(c *commit.Commit, kinds []change.Kind) bool {
	for _, ch := range c.Changes {
		for _, k := range kinds {
			if ch.Kind == k {
				return true
			}
		}
	}
	return false
}

func page(cs []*commit.Commit, offset, limit int) []*commit.Commit {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(cs) {
		return []*commit.Commit{}
	}
	cs = cs[offset:]
	if limit > 0 && limit < len(cs) {
		cs = cs[:limit]
	}
	return cs
}

// BlameInfo atribuye el último cambio de una clave.
type BlameInfo struct {
	Key       string    `json:"key"`
	CommitID  string    `json:"commit_id"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Kind      string    `json:"kind"`
}

// Blame retorna el commit más reciente que tocó key.
func (ix *Index) Blame(key string) (BlameInfo, error) {
	cs := ix.ByPath(key)
	if len(cs) == 0 {
		return BlameInfo{}, errs.NotFound("key history", key)
	}
	c := cs[0]
	info := BlameInfo{Key: key, CommitID: c.ID, Author: c.Author, Timestamp: c.Timestamp, Message: c.Message}
	for _, ch := range c.Changes {
		for _, p := range ch.Paths() {
			if p == key {
				info.Kind = string(ch.Kind)
			}
		}
	}
	return info, nil
}

// FileHistory retorna todos los commits del linaje de key (siguiendo renames),
// más nuevos primero. Incluye el commit raíz del path original.
func (ix *Index) FileHistory(key string) []*commit.Commit {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	root := ix.rootOf(key)
	seen := make(map[string]struct{})
	var ids []string
	for p, pids := range ix.byPath {
		if ix.rootOf(p) != root {
			continue
		}
		for _, id := range pids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ix.resolveLocked(ids)
}

// rootOf es find sin compresión de caminos (apto bajo RLock).
func (ix *Index) rootOf(p string) string {
	for {
		parent, ok := ix.lineage[p]
		if !ok || parent == p {
			return p
		}
		p = parent
	}
}

// CommitPath retorna la secuencia ordenada de ids entre from y to (inclusive).
// Usa la lista propia de la branch si la tiene; si no, recorre todos los commits
// acotados por timestamp.
func (ix *Index) CommitPath(from, to string, br *branch.Branch) ([]string, error) {
	if br != nil {
		i, j := indexOf(br.Commits, from), indexOf(br.Commits, to)
		if i >= 0 && j >= 0 && i <= j {
			return append([]string(nil), br.Commits[i:j+1]...), nil
		}
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	fc, ok := ix.commits[from]
	if !ok {
		return nil, errs.NotFound("commit", from)
	}
	tc, ok := ix.commits[to]
	if !ok {
		return nil, errs.NotFound("commit", to)
	}
	lo, hi := fc.Timestamp, tc.Timestamp
	if hi.Before(lo) {
		lo, hi = hi, lo
	}
	var cs []*commit.Commit
	for _, c := range ix.commits {
		if c.Timestamp.Before(lo) || c.Timestamp.After(hi) {
			continue
		}
		cs = append(cs, c)
	}
	sort.SliceStable(cs, func(i, j int) bool {
		if !cs[i].Timestamp.Equal(cs[j].Timestamp) {
			return cs[i].Timestamp.Before(cs[j].Timestamp)
		}
		return ix.seq[cs[i].ID] < ix.seq[cs[j].ID]
	})
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.ID)
	}
	return out, nil
}

// ChangedKeysSince retorna las claves tocadas por commits posteriores a t, ordenadas.
func (ix *Index) ChangedKeysSince(t time.Time) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	set := make(map[string]struct{})
	for _, c := range ix.commits {
		if !c.Timestamp.After(t) {
			continue
		}
		for _, k := range c.AffectedKeys() {
			set[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Stats resume el tamaño de los índices.
type Stats struct {
	Commits  int `json:"commits"`
	Authors  int `json:"authors"`
	Days     int `json:"days"`
	Keywords int `json:"keywords"`
	Paths    int `json:"paths"`
}

func (ix *Index) Stats() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return Stats{
		Commits:  len(ix.commits),
		Authors:  len(ix.byAuthor),
		Days:     len(ix.byDate),
		Keywords: len(ix.byKeyword),
		Paths:    len(ix.byPath),
	}
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
