package commit

import (
	"fmt"
	"time"

	"github.com/dropDatabas3/cfgvault/internal/domain/errs"
	"github.com/dropDatabas3/cfgvault/internal/vcs/change"
)

// Record es la forma serializable de un commit (export/import).
type Record struct {
	ID        string          `yaml:"id" json:"id"`
	Message   string          `yaml:"message" json:"message"`
	Author    string          `yaml:"author" json:"author"`
	Timestamp time.Time       `yaml:"timestamp" json:"timestamp"`
	ParentIDs []string        `yaml:"parent_ids" json:"parent_ids"`
	Changes   []change.Change `yaml:"changes" json:"changes"`
	Snapshot  map[string]any  `yaml:"snapshot" json:"snapshot"`
	Checksum  string          `yaml:"checksum" json:"checksum"`
}

// ToRecord exporta el commit.
func (c *Commit) ToRecord() Record {
	return Record{
		ID:        c.ID,
		Message:   c.Message,
		Author:    c.Author,
		Timestamp: c.Timestamp,
		ParentIDs: append([]string(nil), c.ParentIDs...),
		Changes:   append([]change.Change(nil), c.Changes...),
		Snapshot:  c.SnapshotCopy(),
		Checksum:  c.Checksum,
	}
}

// FromRecord reconstruye un commit validado y verifica su checksum.
func FromRecord(r Record) (*Commit, error) {
	c := &Commit{
		ID:        r.ID,
		Message:   r.Message,
		Author:    r.Author,
		Timestamp: r.Timestamp.UTC(),
		ParentIDs: append([]string(nil), r.ParentIDs...),
		Changes:   append([]change.Change(nil), r.Changes...),
		Snapshot:  r.Snapshot,
	}
	if !c.Validate() {
		return nil, c.Err()
	}
	if r.Checksum != "" && r.Checksum != c.Checksum {
		return nil, fmt.Errorf("commit %s checksum mismatch: %w", r.ID, errs.ErrValidation)
	}
	return c, nil
}
