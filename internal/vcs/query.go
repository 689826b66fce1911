package vcs

import (
	"time"

	"github.com/dropDatabas3/cfgvault/internal/domain/errs"
	"github.com/dropDatabas3/cfgvault/internal/vcs/branch"
	"github.com/dropDatabas3/cfgvault/internal/vcs/change"
	"github.com/dropDatabas3/cfgvault/internal/vcs/commit"
	"github.com/dropDatabas3/cfgvault/internal/vcs/history"
)

// Status describe el estado del árbol de trabajo.
type Status struct {
	Branch          string          `json:"branch"`
	Head            string          `json:"head"`
	Working         []change.Change `json:"working"`
	Staged          []change.Change `json:"staged"`
	MergeInProgress bool            `json:"merge_in_progress"`
	OpenConflicts   int             `json:"open_conflicts"`
}

// Clean indica si no hay cambios pendientes.
func (s Status) Clean() bool { return len(s.Working) == 0 && len(s.Staged) == 0 }

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		Branch:  c.current,
		Working: c.working.List(),
		Staged:  c.staged.List(),
	}
	if b, ok := c.branches[c.current]; ok {
		st.Head = b.Head
	}
	if c.pending != nil {
		st.MergeInProgress = true
		st.OpenConflicts = len(c.pending.result.Unresolved())
	}
	return st
}

// Log retorna los commits de una branch, más nuevos primero. limit <= 0 = todos.
func (c *Controller) Log(branchName string, limit int) ([]*commit.Commit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if branchName == "" {
		branchName = c.current
	}
	b, ok := c.branches[branchName]
	if !ok {
		return nil, errs.NotFound("branch", branchName)
	}
	out := make([]*commit.Commit, 0, len(b.Commits))
	for i := len(b.Commits) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if cm, ok := c.commits[b.Commits[i]]; ok {
			out = append(out, cm)
		}
	}
	return out, nil
}

// GetCommit busca un commit por id.
func (c *Controller) GetCommit(id string) (*commit.Commit, error) {
	if cm, ok := c.history.Get(id); ok {
		return cm, nil
	}
	return nil, errs.NotFound("commit", id)
}

// DiffCommits calcula el diff entre los snapshots de dos commits ("" = árbol vacío).
func (c *Controller) DiffCommits(from, to string) (*change.Diff, error) {
	snap := func(id string) (map[string]any, error) {
		if id == "" {
			return map[string]any{}, nil
		}
		cm, err := c.GetCommit(id)
		if err != nil {
			return nil, err
		}
		return cm.Snapshot, nil
	}
	a, err := snap(from)
	if err != nil {
		return nil, err
	}
	b, err := snap(to)
	if err != nil {
		return nil, err
	}
	return change.Compute(a, b), nil
}

// CommitCount retorna la cantidad de commits registrados.
func (c *Controller) CommitCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// History expone el índice de consultas.
func (c *Controller) History() *history.Index { return c.history }

// Search delega en el índice de historia.
func (c *Controller) Search(q history.Query) ([]*commit.Commit, error) {
	return c.history.Search(q)
}

// Blame retorna el último commit que tocó key.
func (c *Controller) Blame(key string) (history.BlameInfo, error) {
	return c.history.Blame(key)
}

// FileHistory retorna el linaje de key siguiendo renames.
func (c *Controller) FileHistory(key string) []*commit.Commit {
	return c.history.FileHistory(key)
}

// CommitPath retorna los ids entre from y to. branchName puede ser "".
func (c *Controller) CommitPath(from, to, branchName string) ([]string, error) {
	var br *branch.Branch
	if branchName != "" {
		c.mu.Lock()
		b, ok := c.branches[branchName]
		if ok {
			br = b.Clone()
		}
		c.mu.Unlock()
		if !ok {
			return nil, errs.NotFound("branch", branchName)
		}
	}
	return c.history.CommitPath(from, to, br)
}

// ChangedKeysSince retorna las claves tocadas por commits posteriores a t.
func (c *Controller) ChangedKeysSince(t time.Time) ([]string, error) {
	return c.history.ChangedKeysSince(t), nil
}
