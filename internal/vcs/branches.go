package vcs

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/dropDatabas3/cfgvault/internal/domain/errs"
	"github.com/dropDatabas3/cfgvault/internal/observability/logger"
	"github.com/dropDatabas3/cfgvault/internal/vcs/branch"
	"github.com/dropDatabas3/cfgvault/internal/vcs/merge"
)

// BranchOptions configura una branch nueva.
type BranchOptions struct {
	Base            string // "" = branch actual
	Protection      branch.Protection
	DefaultStrategy merge.Strategy
}

// CreateBranch crea name copiando el head de la base.
func (c *Controller) CreateBranch(name string, opts BranchOptions) (*branch.Branch, error) {
	if err := validKey(name); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.branches[name]; exists {
		return nil, fmt.Errorf("branch %q: %w", name, errs.ErrAlreadyExists)
	}
	baseName := opts.Base
	if baseName == "" {
		baseName = c.current
	}
	var base *branch.Branch
	if baseName != "" {
		b, ok := c.branches[baseName]
		if !ok {
			return nil, errs.NotFound("branch", baseName)
		}
		base = b
	}
	b := branch.New(name, base)
	b.Protection = opts.Protection
	c.applyProtection(b)
	if opts.DefaultStrategy != "" {
		if _, ok := merge.ParseStrategy(string(opts.DefaultStrategy)); !ok {
			return nil, fmt.Errorf("branch %q: strategy %q: %w", name, opts.DefaultStrategy, errs.ErrInvalidInput)
		}
		b.DefaultStrategy = string(opts.DefaultStrategy)
	}
	c.branches[name] = b
	c.log.Info("branch created", logger.Branch(name), logger.String("base", baseName), logger.CommitID(b.Head))
	return b.Clone(), nil
}

// Checkout cambia la branch actual. Requiere un árbol limpio.
func (c *Controller) Checkout(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.branches[name]; !ok {
		return errs.NotFound("branch", name)
	}
	if c.pending != nil {
		return fmt.Errorf("checkout %q: %w", name, errs.ErrMergeInProgress)
	}
	if c.dirtyLocked() {
		return fmt.Errorf("checkout %q: %d working, %d staged: %w",
			name, c.working.Len(), c.staged.Len(), errs.ErrDirtyTree)
	}
	c.current = name
	c.snapshot = c.headSnapshotLocked(name)
	c.log.Info("checked out", logger.Branch(name))
	return nil
}

// DeleteBranch borra una branch. La actual nunca; las protegidas o no
// mergeadas en la actual solo con force.
func (c *Controller) DeleteBranch(name string, force bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.branches[name]
	if !ok {
		return errs.NotFound("branch", name)
	}
	if name == c.current {
		return fmt.Errorf("delete branch %q: checked out: %w", name, errs.ErrInvalidInput)
	}
	if !force {
		if b.Protection.Protected {
			return fmt.Errorf("delete branch %q: %w", name, errs.ErrProtectedBranch)
		}
		cur := c.branches[c.current]
		if cur == nil || !branch.IsAncestor(c.graphLocked(), b.Head, cur.Head) {
			return fmt.Errorf("delete branch %q: not merged into %q: %w", name, c.current, errs.ErrDivergedBranch)
		}
	}
	delete(c.branches, name)
	c.log.Info("branch deleted", logger.Branch(name), zap.Bool("force", force))
	return nil
}

// GetBranch retorna una copia de la branch.
func (c *Controller) GetBranch(name string) (*branch.Branch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.branches[name]
	if !ok {
		return nil, errs.NotFound("branch", name)
	}
	return b.Clone(), nil
}

// ListBranches retorna copias ordenadas por nombre.
func (c *Controller) ListBranches() []*branch.Branch {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*branch.Branch, 0, len(c.branches))
	for _, b := range c.branches {
		out = append(out, b.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CurrentBranch retorna el nombre de la branch actual.
func (c *Controller) CurrentBranch() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// SetProtection cambia las reglas de protección de una branch.
func (c *Controller) SetProtection(name string, p branch.Protection) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.branches[name]
	if !ok {
		return errs.NotFound("branch", name)
	}
	b.Protection = p
	return nil
}

func (c *Controller) dirtyLocked() bool {
	return c.working.Len() > 0 || c.staged.Len() > 0
}
