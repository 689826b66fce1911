package vcs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dropDatabas3/cfgvault/internal/domain/errs"
	"github.com/dropDatabas3/cfgvault/internal/observability/logger"
	"github.com/dropDatabas3/cfgvault/internal/util/atomicwrite"
	"github.com/dropDatabas3/cfgvault/internal/vcs/branch"
	"github.com/dropDatabas3/cfgvault/internal/vcs/commit"
)

// DocumentVersion es la versión del formato de export.
const DocumentVersion = 1

// Document es el grafo completo serializado: commits con sus snapshots,
// branches y tags.
type Document struct {
	Version       int             `yaml:"version" json:"version"`
	ExportedAt    time.Time       `yaml:"exported_at" json:"exported_at"`
	CurrentBranch string          `yaml:"current_branch" json:"current_branch"`
	Commits       []commit.Record `yaml:"commits" json:"commits"`
	Branches      []branch.Branch `yaml:"branches" json:"branches"`
	Tags          []Tag           `yaml:"tags" json:"tags"`
}

// Export serializa el grafo. Los cambios sin commitear no se exportan.
func (c *Controller) Export() Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc := Document{
		Version:       DocumentVersion,
		ExportedAt:    time.Now().UTC(),
		CurrentBranch: c.current,
		Commits:       make([]commit.Record, 0, len(c.order)),
	}
	for _, id := range c.order {
		doc.Commits = append(doc.Commits, c.commits[id].ToRecord())
	}
	for _, b := range c.branches {
		doc.Branches = append(doc.Branches, *b.Clone())
	}
	sortBranches(doc.Branches)
	for _, t := range c.tags {
		doc.Tags = append(doc.Tags, *t)
	}
	sortTags(doc.Tags)
	return doc
}

// Import reemplaza el estado con el del documento. Requiere un árbol limpio.
// El documento se valida completo antes de tocar nada.
func (c *Controller) Import(doc Document) error {
	if doc.Version != DocumentVersion {
		return fmt.Errorf("import: document version %d: %w", doc.Version, errs.ErrInvalidInput)
	}
	commits := make(map[string]*commit.Commit, len(doc.Commits))
	order := make([]string, 0, len(doc.Commits))
	list := make([]*commit.Commit, 0, len(doc.Commits))
	for _, r := range doc.Commits {
		cm, err := commit.FromRecord(r)
		if err != nil {
			return fmt.Errorf("import: %w", err)
		}
		if _, dup := commits[cm.ID]; dup {
			return fmt.Errorf("import: commit %s: %w", cm.ID, errs.ErrAlreadyExists)
		}
		commits[cm.ID] = cm
		order = append(order, cm.ID)
		list = append(list, cm)
	}
	var problems []string
	for _, cm := range list {
		for _, p := range cm.ParentIDs {
			if _, ok := commits[p]; !ok {
				problems = append(problems, fmt.Sprintf("commit %s: unknown parent %s", cm.ID, p))
			}
		}
	}
	branches := make(map[string]*branch.Branch, len(doc.Branches))
	for i := range doc.Branches {
		b := doc.Branches[i].Clone()
		if b.Name == "" {
			problems = append(problems, "branch with empty name")
			continue
		}
		for _, id := range b.Commits {
			if _, ok := commits[id]; !ok {
				problems = append(problems, fmt.Sprintf("branch %s: unknown commit %s", b.Name, id))
			}
		}
		if b.Head != "" {
			if _, ok := commits[b.Head]; !ok {
				problems = append(problems, fmt.Sprintf("branch %s: unknown head %s", b.Name, b.Head))
			}
		}
		branches[b.Name] = b
	}
	tags := make(map[string]*Tag, len(doc.Tags))
	for i := range doc.Tags {
		t := doc.Tags[i]
		if _, ok := commits[t.Target]; !ok {
			problems = append(problems, fmt.Sprintf("tag %s: unknown target %s", t.Name, t.Target))
		}
		if t.Version == nil {
			t.Version, _ = ParseSemVer(t.Name)
		}
		tags[t.Name] = &t
	}
	if _, ok := branches[doc.CurrentBranch]; !ok {
		problems = append(problems, fmt.Sprintf("current branch %q not found", doc.CurrentBranch))
	}
	if len(problems) > 0 {
		return fmt.Errorf("import: %w", &errs.ValidationError{Errors: problems})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		return fmt.Errorf("import: %w", errs.ErrMergeInProgress)
	}
	if c.dirtyLocked() {
		return fmt.Errorf("import: %w", errs.ErrDirtyTree)
	}
	c.resetState()
	c.commits = commits
	c.order = order
	c.branches = branches
	c.tags = tags
	c.current = doc.CurrentBranch
	c.history.Rebuild(list)
	c.snapshot = c.headSnapshotLocked(c.current)
	c.log.Info("state imported",
		logger.Count(len(order)), logger.Branch(c.current), logger.Any("branches", len(branches)))
	return nil
}

// ExportYAML escribe el documento en YAML.
func (c *Controller) ExportYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c.Export()); err != nil {
		return fmt.Errorf("export yaml: %w", err)
	}
	return enc.Close()
}

// ImportYAML lee un documento YAML y lo importa.
func (c *Controller) ImportYAML(r io.Reader) error {
	var doc Document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return fmt.Errorf("import yaml: %w", err)
	}
	return c.Import(doc)
}

// SaveFile exporta el estado a path de forma atómica.
func (c *Controller) SaveFile(path string) error {
	return atomicwrite.Write(path, 0o600, c.ExportYAML)
}

// LoadFile importa el estado desde path. Si el archivo no existe no hace nada.
func (c *Controller) LoadFile(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open state %s: %w", path, err)
	}
	defer f.Close()
	return c.ImportYAML(f)
}

func sortBranches(bs []branch.Branch) {
	sort.Slice(bs, func(i, j int) bool { return bs[i].Name < bs[j].Name })
}
