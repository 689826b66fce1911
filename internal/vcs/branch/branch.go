// Package branch modela punteros con nombre dentro del grafo de commits.
package branch

import (
	"time"
)

// Protection son las reglas de protección de una branch.
type Protection struct {
	// Protected impide borrar la branch sin force.
	Protected bool `yaml:"protected" json:"protected"`
	// RequireMergeCommit rechaza merges fast-forward hacia esta branch.
	RequireMergeCommit bool `yaml:"require_merge_commit" json:"require_merge_commit"`
}

// Branch apunta a un head y registra su lista ordenada de commits.
type Branch struct {
	Name            string     `yaml:"name" json:"name"`
	Head            string     `yaml:"head" json:"head"`
	Commits         []string   `yaml:"commits" json:"commits"`
	Protection      Protection `yaml:"protection" json:"protection"`
	DefaultStrategy string     `yaml:"default_strategy,omitempty" json:"default_strategy,omitempty"`
	CreatedAt       time.Time  `yaml:"created_at" json:"created_at"`
}

// New crea una branch. Si base no es nil copia su head y su historia.
func New(name string, base *Branch) *Branch {
	b := &Branch{Name: name, CreatedAt: time.Now().UTC()}
	if base != nil {
		b.Head = base.Head
		b.Commits = append([]string(nil), base.Commits...)
		b.DefaultStrategy = base.DefaultStrategy
	}
	return b
}

// Advance agrega commitID al final y lo vuelve head.
func (b *Branch) Advance(commitID string) {
	b.Commits = append(b.Commits, commitID)
	b.Head = commitID
}

// Reset reemplaza la historia de la branch (fast-forward).
func (b *Branch) Reset(commits []string) {
	b.Commits = append([]string(nil), commits...)
	if len(b.Commits) == 0 {
		b.Head = ""
		return
	}
	b.Head = b.Commits[len(b.Commits)-1]
}

// Contains indica si el commit figura en la historia registrada de la branch.
func (b *Branch) Contains(commitID string) bool {
	return b.indexOf(commitID) >= 0
}

func (b *Branch) indexOf(commitID string) int {
	for i, id := range b.Commits {
		if id == commitID {
			return i
		}
	}
	return -1
}

// CanFastForwardTo es true si el head de other está estrictamente adelante
// del head de b sobre la misma cadena lineal.
func (b *Branch) CanFastForwardTo(other *Branch) bool {
	if other == nil || other.Head == "" || other.Head == b.Head {
		return false
	}
	if b.Head == "" {
		return true
	}
	idx := other.indexOf(b.Head)
	return idx >= 0 && idx < len(other.Commits)-1
}

// Clone retorna una copia independiente.
func (b *Branch) Clone() *Branch {
	cp := *b
	cp.Commits = append([]string(nil), b.Commits...)
	return &cp
}
