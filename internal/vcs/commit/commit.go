// Package commit implementa el bundle inmutable de cambios + snapshot resultante.
package commit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/cfgvault/internal/domain/errs"
	"github.com/dropDatabas3/cfgvault/internal/tree"
	"github.com/dropDatabas3/cfgvault/internal/vcs/change"
)

// Commit agrupa cambios, el snapshot resultante y metadata.
// Una vez validado queda congelado: AddChange falla.
type Commit struct {
	ID        string
	Message   string
	Author    string
	Timestamp time.Time
	ParentIDs []string // 0 = root, 1 = normal, >=2 = merge
	Changes   []change.Change
	Snapshot  map[string]any
	Checksum  string

	validated bool
	errors    []string
}

// New crea un commit sin validar.
func New(message, author string, parentIDs ...string) *Commit {
	return &Commit{
		ID:        uuid.NewString(),
		Message:   message,
		Author:    author,
		Timestamp: time.Now().UTC(),
		ParentIDs: append([]string(nil), parentIDs...),
	}
}

// IsMerge indica si el commit tiene dos o más padres.
func (c *Commit) IsMerge() bool { return len(c.ParentIDs) >= 2 }

// IsRoot indica si el commit no tiene padres.
func (c *Commit) IsRoot() bool { return len(c.ParentIDs) == 0 }

// Validated indica si el commit pasó la validación y está congelado.
func (c *Commit) Validated() bool { return c.validated }

// Errors retorna los problemas encontrados por Validate.
func (c *Commit) Errors() []string { return append([]string(nil), c.errors...) }

// AddChange incorpora un cambio; se fusiona con uno previo de la misma clave
// cuando change.Append lo permite.
func (c *Commit) AddChange(ch change.Change) error {
	if c.validated {
		return fmt.Errorf("commit %s is frozen: %w", c.ID, errs.ErrValidation)
	}
	c.Changes = change.Append(c.Changes, ch)
	return nil
}

// Validate revisa el commit, calcula el checksum y lo congela si es válido.
// Los commits de merge pueden no traer cambios (ambos lados ya coincidían).
func (c *Commit) Validate() bool {
	if c.validated {
		return true
	}
	var problems []string
	if strings.TrimSpace(c.ID) == "" {
		problems = append(problems, "commit id is empty")
	}
	if strings.TrimSpace(c.Message) == "" {
		problems = append(problems, "commit message is empty")
	}
	if strings.TrimSpace(c.Author) == "" {
		problems = append(problems, "commit author is empty")
	}
	if len(c.Changes) == 0 && !c.IsMerge() {
		problems = append(problems, "commit has no changes")
	}
	for _, ch := range c.Changes {
		problems = append(problems, ch.Problems()...)
	}
	c.errors = problems
	if len(problems) > 0 {
		return false
	}
	if c.Snapshot == nil {
		c.Snapshot = make(map[string]any)
	}
	c.Checksum = c.ComputeChecksum()
	c.validated = true
	return true
}

// Err retorna un *errs.ValidationError si el commit no es válido.
func (c *Commit) Err() error {
	if c.validated {
		return nil
	}
	if len(c.errors) == 0 {
		return &errs.ValidationError{Errors: []string{"commit not validated"}}
	}
	return &errs.ValidationError{Errors: c.Errors()}
}

// Seal calcula el snapshot resultante sobre base y valida.
func (c *Commit) Seal(base map[string]any) error {
	if c.validated {
		return nil
	}
	c.Snapshot = c.ApplyTo(base)
	if !c.Validate() {
		return c.Err()
	}
	return nil
}

// ApplyTo reproduce los cambios en orden sobre una copia de snapshot.
func (c *Commit) ApplyTo(snapshot map[string]any) map[string]any {
	return change.Apply(snapshot, c.Changes)
}

// AffectedKeys retorna todas las claves tocadas, incluidos ambos lados de un rename.
func (c *Commit) AffectedKeys() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, ch := range c.Changes {
		for _, p := range ch.Paths() {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// ComputeChecksum calcula sha256 sobre id+message+author+timestamp+padres ordenados+cambios ordenados.
func (c *Commit) ComputeChecksum() string {
	parents := append([]string(nil), c.ParentIDs...)
	sort.Strings(parents)

	changes := make([]string, 0, len(c.Changes))
	for _, ch := range c.Changes {
		b, err := json.Marshal(ch)
		if err != nil {
			b = []byte(ch.String())
		}
		changes = append(changes, string(b))
	}
	sort.Strings(changes)

	h := sha256.New()
	for _, part := range []string{
		c.ID,
		c.Message,
		c.Author,
		c.Timestamp.UTC().Format(time.RFC3339Nano),
		strings.Join(parents, ","),
		strings.Join(changes, "\n"),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyChecksum indica si el checksum guardado coincide con el contenido.
func (c *Commit) VerifyChecksum() bool {
	return c.Checksum != "" && c.Checksum == c.ComputeChecksum()
}

// SnapshotCopy retorna una copia profunda del snapshot.
func (c *Commit) SnapshotCopy() map[string]any {
	return tree.CloneMap(c.Snapshot)
}
