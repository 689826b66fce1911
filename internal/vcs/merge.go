package vcs

import (
	"context"
	"errors"
	"fmt"

	"github.com/dropDatabas3/cfgvault/internal/domain/errs"
	"github.com/dropDatabas3/cfgvault/internal/metrics"
	"github.com/dropDatabas3/cfgvault/internal/observability/logger"
	"github.com/dropDatabas3/cfgvault/internal/tree"
	"github.com/dropDatabas3/cfgvault/internal/vcs/branch"
	"github.com/dropDatabas3/cfgvault/internal/vcs/change"
	"github.com/dropDatabas3/cfgvault/internal/vcs/merge"
)

// MergeOptions configura Controller.Merge.
type MergeOptions struct {
	Target   string         // "" = branch actual
	Strategy merge.Strategy // "" = default de la branch destino, o fast-forward si es posible
	Author   string
	Message  string
}

// merge con conflictos esperando resolución
type pendingMerge struct {
	result         *merge.Result
	target         string
	sourceCommits  []string
	targetSnapshot map[string]any
	author         string
	message        string
}

// Merge integra source en la branch destino. Con conflictos retorna el
// resultado con Success=false y deja el merge pendiente hasta CompleteMerge
// o AbortMerge.
func (c *Controller) Merge(ctx context.Context, source string, opts MergeOptions) (*merge.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		return nil, fmt.Errorf("merge %q: %w", source, errs.ErrMergeInProgress)
	}
	if c.dirtyLocked() {
		return nil, fmt.Errorf("merge %q: %w", source, errs.ErrDirtyTree)
	}
	targetName := opts.Target
	if targetName == "" {
		targetName = c.current
	}
	src, ok := c.branches[source]
	if !ok {
		return nil, errs.NotFound("branch", source)
	}
	dst, ok := c.branches[targetName]
	if !ok {
		return nil, errs.NotFound("branch", targetName)
	}
	if source == targetName {
		return nil, fmt.Errorf("merge %q into itself: %w", source, errs.ErrInvalidInput)
	}

	strategy, err := c.pickStrategy(dst, src, opts.Strategy)
	if err != nil {
		return nil, err
	}
	log := c.log.With(logger.Branch(targetName), logger.String("source", source), logger.Strategy(string(strategy)))
	g := c.graphLocked()

	// source ya contenido en target
	if branch.IsAncestor(g, src.Head, dst.Head) {
		log.Info("merge: already up to date")
		metrics.MergesTotal.WithLabelValues(string(strategy), "noop").Inc()
		return &merge.Result{
			Success: true, Strategy: strategy,
			SourceBranch: source, TargetBranch: targetName,
			SourceHead: src.Head, TargetHead: dst.Head,
			MergedSnapshot: c.headSnapshotLocked(targetName),
		}, nil
	}

	in := merge.Input{
		Source:         src,
		Target:         dst,
		SourceSnapshot: c.headSnapshotLocked(source),
		TargetSnapshot: c.headSnapshotLocked(targetName),
		Strategy:       strategy,
	}
	var div branch.Divergence
	if strategy == merge.MergeCommit {
		div = branch.DivergedCommits(g, dst, src)
		in.BaseSnapshot = c.commitSnapshotLocked(div.Base)
		in.TargetRenames = c.renamesLocked(div.OnlyA)
		in.SourceRenames = c.renamesLocked(div.OnlyB)
	}

	res, err := merge.Merge(in)
	if err != nil {
		metrics.MergesTotal.WithLabelValues(string(strategy), "error").Inc()
		return nil, err
	}

	if strategy == merge.FastForward {
		dst.Reset(src.Commits)
		c.refreshLocked(targetName)
		metrics.MergesTotal.WithLabelValues(string(strategy), "success").Inc()
		log.Info("merge: fast-forward", logger.CommitID(dst.Head))
		c.emit(ctx, change.Compute(in.TargetSnapshot, res.MergedSnapshot).Changes())
		return res, nil
	}

	pm := &pendingMerge{
		result:         res,
		target:         targetName,
		sourceCommits:  div.OnlyB,
		targetSnapshot: in.TargetSnapshot,
		author:         opts.Author,
		message:        opts.Message,
	}
	if !res.Success {
		for _, cf := range res.Conflicts {
			metrics.MergeConflictsTotal.WithLabelValues(string(cf.Type)).Inc()
		}
		c.pending = pm
		metrics.MergesTotal.WithLabelValues(string(strategy), "conflict").Inc()
		log.Warn("merge: conflicts", logger.Conflicts(len(res.Conflicts)))
		return res, nil
	}
	if err := c.finishMergeLocked(ctx, pm); err != nil {
		metrics.MergesTotal.WithLabelValues(string(strategy), "error").Inc()
		return nil, err
	}
	metrics.MergesTotal.WithLabelValues(string(strategy), "success").Inc()
	return res, nil
}

func (c *Controller) pickStrategy(dst, src *branch.Branch, requested merge.Strategy) (merge.Strategy, error) {
	s := requested
	if s == "" && dst.DefaultStrategy != "" {
		s = merge.Strategy(dst.DefaultStrategy)
	}
	if s == "" {
		if dst.CanFastForwardTo(src) && !dst.Protection.RequireMergeCommit {
			return merge.FastForward, nil
		}
		return merge.MergeCommit, nil
	}
	if _, ok := merge.ParseStrategy(string(s)); !ok {
		return "", fmt.Errorf("merge strategy %q: %w", s, errs.ErrInvalidInput)
	}
	if s == merge.FastForward && dst.Protection.RequireMergeCommit {
		return "", fmt.Errorf("branch %q requires a merge commit: %w", dst.Name, errs.ErrProtectedBranch)
	}
	return s, nil
}

// renamesLocked junta los renames explícitos (old -> new) de los commits dados.
func (c *Controller) renamesLocked(ids []string) map[string]string {
	out := make(map[string]string)
	for _, id := range ids {
		cm, ok := c.commits[id]
		if !ok {
			continue
		}
		for _, ch := range cm.Changes {
			if ch.Kind != change.Renamed {
				continue
			}
			// a -> b seguido de b -> c se colapsa a a -> c
			collapsed := false
			for old, nk := range out {
				if nk == ch.OldKey {
					out[old] = ch.Key
					collapsed = true
				}
			}
			if !collapsed {
				out[ch.OldKey] = ch.Key
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ResolveConflict registra la resolución de un conflicto del merge pendiente.
func (c *Controller) ResolveConflict(key string, resolution merge.Resolution, manualValue any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return errs.NotFound("pending merge", key)
	}
	if err := c.pending.result.Resolve(key, resolution, tree.Clone(manualValue)); err != nil {
		return err
	}
	c.log.Debug("conflict resolved", logger.Key(key), logger.String("resolution", string(resolution)))
	return nil
}

// PendingMerge retorna el resultado del merge pendiente, si hay uno.
func (c *Controller) PendingMerge() (*merge.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return nil, false
	}
	return c.pending.result, true
}

// CompleteMerge aplica las resoluciones y crea el commit de merge.
// Con conflictos abiertos falla con ErrUnresolvedConflict y el merge sigue
// pendiente; si alguna resolución es Abort el merge se descarta con ErrAborted.
func (c *Controller) CompleteMerge(ctx context.Context) (*merge.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pm := c.pending
	if pm == nil {
		return nil, errs.NotFound("pending merge", "")
	}
	strategy := string(pm.result.Strategy)
	if _, err := pm.result.Complete(); err != nil {
		if errors.Is(err, errs.ErrAborted) {
			c.pending = nil
			metrics.MergesTotal.WithLabelValues(strategy, "aborted").Inc()
			c.log.Warn("merge aborted", logger.Branch(pm.target), logger.Err(err))
		}
		return nil, err
	}
	if err := c.finishMergeLocked(ctx, pm); err != nil {
		return nil, err
	}
	c.pending = nil
	metrics.MergesTotal.WithLabelValues(strategy, "success").Inc()
	return pm.result, nil
}

// AbortMerge descarta el merge pendiente sin aplicar nada.
func (c *Controller) AbortMerge() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return errs.NotFound("pending merge", "")
	}
	c.log.Info("merge discarded", logger.Branch(c.pending.target))
	metrics.MergesTotal.WithLabelValues(string(c.pending.result.Strategy), "aborted").Inc()
	c.pending = nil
	return nil
}

// finishMergeLocked sintetiza el commit de merge y avanza la branch destino.
func (c *Controller) finishMergeLocked(ctx context.Context, pm *pendingMerge) error {
	author := pm.author
	if author == "" {
		author = "cfgvault"
	}
	cm, err := merge.Synthesize(pm.result, pm.targetSnapshot, author, pm.message)
	if err != nil {
		return err
	}
	if err := c.storeLocked(cm); err != nil {
		return err
	}
	dst := c.branches[pm.target]
	for _, id := range pm.sourceCommits {
		if !dst.Contains(id) {
			dst.Commits = append(dst.Commits, id)
		}
	}
	dst.Advance(cm.ID)
	c.refreshLocked(pm.target)
	metrics.CommitsTotal.Inc()
	c.log.Info("merge committed",
		logger.Branch(pm.target), logger.CommitID(cm.ID),
		logger.Conflicts(len(pm.result.Conflicts)), logger.Count(len(cm.Changes)))
	c.emit(ctx, cm.Changes)
	return nil
}

// refreshLocked recarga el snapshot vivo si la branch es la actual.
func (c *Controller) refreshLocked(name string) {
	if name == c.current {
		c.snapshot = c.headSnapshotLocked(name)
	}
}
