// Package vcs es el orquestador de control de versiones sobre el snapshot vivo:
// working/staged, commits, branches, merges, tags y export/import.
//
// Todas las operaciones mutantes se serializan con un único lock por instancia.
// Las lecturas de historia van al índice, que tiene su propio lock.
package vcs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/cfgvault/internal/domain/errs"
	"github.com/dropDatabas3/cfgvault/internal/events"
	"github.com/dropDatabas3/cfgvault/internal/metrics"
	"github.com/dropDatabas3/cfgvault/internal/observability/logger"
	"github.com/dropDatabas3/cfgvault/internal/tree"
	"github.com/dropDatabas3/cfgvault/internal/vcs/branch"
	"github.com/dropDatabas3/cfgvault/internal/vcs/change"
	"github.com/dropDatabas3/cfgvault/internal/vcs/commit"
	"github.com/dropDatabas3/cfgvault/internal/vcs/history"
)

// DefaultBranch es la branch que se crea al construir un Controller vacío.
const DefaultBranch = "main"

// Options configura un Controller.
type Options struct {
	DefaultBranch string
	Logger        *zap.Logger
	Events        events.Sink
	// Protected lista branches creadas con protección (no se borran sin force).
	Protected []string
}

// Controller es el orquestador. Es seguro para uso concurrente.
type Controller struct {
	mu sync.Mutex

	log  *zap.Logger
	sink events.Sink
	opts Options

	commits  map[string]*commit.Commit
	order    []string // arena: orden de inserción
	branches map[string]*branch.Branch
	tags     map[string]*Tag
	current  string

	snapshot map[string]any
	working  *change.Set
	staged   *change.Set
	pending  *pendingMerge

	history *history.Index
}

// New crea un Controller con la branch por defecto vacía y checked out.
func New(opts Options) *Controller {
	if opts.DefaultBranch == "" {
		opts.DefaultBranch = DefaultBranch
	}
	c := &Controller{
		log:  logger.OrNop(opts.Logger).With(logger.Component("vcs")),
		sink: opts.Events,
		opts: opts,
	}
	if c.sink == nil {
		c.sink = events.Nop{}
	}
	c.resetState()
	b := branch.New(opts.DefaultBranch, nil)
	c.applyProtection(b)
	c.branches[b.Name] = b
	c.current = b.Name
	return c
}

func (c *Controller) resetState() {
	c.commits = make(map[string]*commit.Commit)
	c.order = nil
	c.branches = make(map[string]*branch.Branch)
	c.tags = make(map[string]*Tag)
	c.current = ""
	c.snapshot = make(map[string]any)
	c.working = change.NewSet()
	c.staged = change.NewSet()
	c.pending = nil
	c.history = history.New()
}

func (c *Controller) applyProtection(b *branch.Branch) {
	for _, name := range c.opts.Protected {
		if name == b.Name {
			b.Protection.Protected = true
		}
	}
}

// Get lee una clave del snapshot vivo (incluye cambios sin commitear).
func (c *Controller) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := tree.Get(c.snapshot, key)
	return tree.Clone(v), ok
}

// Snapshot retorna una copia del snapshot vivo.
func (c *Controller) Snapshot() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return tree.CloneMap(c.snapshot)
}

// Set escribe key en el snapshot vivo y registra el cambio en working.
func (c *Controller) Set(key string, value any) error {
	if err := validKey(key); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		return fmt.Errorf("set %q: %w", key, errs.ErrMergeInProgress)
	}
	value = tree.Clone(value)
	old, ok := tree.Get(c.snapshot, key)
	switch {
	case !ok:
		c.recordLocked(change.NewAdded(key, value))
	case tree.Equal(old, value):
		return nil
	default:
		c.recordLocked(change.NewModified(key, tree.Clone(old), value))
	}
	return nil
}

// Delete borra key del snapshot vivo.
func (c *Controller) Delete(key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		return fmt.Errorf("delete %q: %w", key, errs.ErrMergeInProgress)
	}
	old, ok := tree.Get(c.snapshot, key)
	if !ok {
		return errs.NotFound("key", key)
	}
	c.recordLocked(change.NewDeleted(key, tree.Clone(old)))
	return nil
}

// Rename mueve oldKey a newKey. newKey no debe existir.
func (c *Controller) Rename(oldKey, newKey string) error {
	if err := validKey(oldKey); err != nil {
		return err
	}
	if err := validKey(newKey); err != nil {
		return err
	}
	if oldKey == newKey || tree.HasPrefix(newKey, oldKey) {
		return fmt.Errorf("rename %q -> %q: %w", oldKey, newKey, errs.ErrInvalidInput)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		return fmt.Errorf("rename %q: %w", oldKey, errs.ErrMergeInProgress)
	}
	v, ok := tree.Get(c.snapshot, oldKey)
	if !ok {
		return errs.NotFound("key", oldKey)
	}
	if _, exists := tree.Get(c.snapshot, newKey); exists {
		return fmt.Errorf("rename target %q: %w", newKey, errs.ErrAlreadyExists)
	}
	c.recordLocked(change.NewRenamed(oldKey, newKey, tree.Clone(v)))
	return nil
}

func (c *Controller) recordLocked(ch change.Change) {
	change.ApplyOne(c.snapshot, ch)
	c.working.Add(ch)
	c.log.Debug("working change", logger.Key(ch.Key), logger.String("kind", string(ch.Kind)))
}

// Stage promueve cambios de working a staged. Sin keys promueve todos.
func (c *Controller) Stage(keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(keys) == 0 {
		keys = c.working.Keys()
	}
	for _, k := range keys {
		if !c.working.Has(k) {
			return errs.NotFound("working change", k)
		}
	}
	for _, k := range keys {
		for _, ch := range c.working.Take(k) {
			c.staged.Add(ch)
		}
	}
	return nil
}

// Unstage devuelve cambios de staged a working. Sin keys devuelve todos.
func (c *Controller) Unstage(keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(keys) == 0 {
		keys = c.staged.Keys()
	}
	for _, k := range keys {
		if !c.staged.Has(k) {
			return errs.NotFound("staged change", k)
		}
	}
	for _, k := range keys {
		// staged es anterior a working: se recombinan en ese orden
		later := c.working.Take(k)
		for _, ch := range c.staged.Take(k) {
			c.working.Add(ch)
		}
		for _, ch := range later {
			c.working.Add(ch)
		}
	}
	return nil
}

// ResetWorking descarta working y recarga el snapshot desde el head de la
// branch actual, reaplicando lo que esté en staged.
func (c *Controller) ResetWorking() {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.working.Len()
	c.working.Clear()
	c.snapshot = change.Apply(c.headSnapshotLocked(c.current), c.staged.List())
	c.log.Info("working changes discarded", logger.Count(n), logger.Branch(c.current))
}

// Commit registra los cambios staged como un commit sobre la branch actual.
func (c *Controller) Commit(ctx context.Context, message, author string) (*commit.Commit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		return nil, fmt.Errorf("commit: %w", errs.ErrMergeInProgress)
	}
	br, ok := c.branches[c.current]
	if !ok {
		return nil, fmt.Errorf("commit: %w", errs.ErrNoBranch)
	}
	if c.staged.Len() == 0 {
		return nil, fmt.Errorf("commit: %w", errs.ErrNothingToCommit)
	}

	var parents []string
	if br.Head != "" {
		parents = append(parents, br.Head)
	}
	cm := commit.New(message, author, parents...)
	for _, ch := range c.staged.List() {
		if err := cm.AddChange(ch); err != nil {
			return nil, err
		}
	}
	if err := cm.Seal(c.headSnapshotLocked(br.Name)); err != nil {
		c.log.Warn("commit rejected", logger.Branch(br.Name), logger.Err(err))
		return nil, err
	}
	if err := c.storeLocked(cm); err != nil {
		return nil, err
	}
	br.Advance(cm.ID)
	c.staged.Clear()

	metrics.CommitsTotal.Inc()
	c.log.Info("commit created",
		logger.CommitID(cm.ID), logger.Branch(br.Name), logger.Author(author), logger.Count(len(cm.Changes)))
	c.emit(ctx, cm.Changes)
	return cm, nil
}

// storeLocked agrega un commit validado a la arena y al índice.
func (c *Controller) storeLocked(cm *commit.Commit) error {
	if !cm.Validated() {
		return cm.Err()
	}
	if _, dup := c.commits[cm.ID]; dup {
		return fmt.Errorf("commit %s: %w", cm.ID, errs.ErrAlreadyExists)
	}
	if err := c.history.Add(cm); err != nil {
		return err
	}
	c.commits[cm.ID] = cm
	c.order = append(c.order, cm.ID)
	return nil
}

func (c *Controller) headSnapshotLocked(branchName string) map[string]any {
	br, ok := c.branches[branchName]
	if !ok || br.Head == "" {
		return make(map[string]any)
	}
	if cm, ok := c.commits[br.Head]; ok {
		return cm.SnapshotCopy()
	}
	return make(map[string]any)
}

func (c *Controller) commitSnapshotLocked(id string) map[string]any {
	if cm, ok := c.commits[id]; ok {
		return cm.SnapshotCopy()
	}
	return make(map[string]any)
}

func (c *Controller) graphLocked() branch.Graph {
	return branch.GraphFunc(func(id string) []string {
		if cm, ok := c.commits[id]; ok {
			return cm.ParentIDs
		}
		return nil
	})
}

// emit publica un evento por cambio. Un rename genera deleted + updated.
// Se llama con el lock tomado; los sinks no deben reentrar al Controller.
func (c *Controller) emit(ctx context.Context, changes []change.Change) {
	now := time.Now().UTC()
	for _, ch := range changes {
		var evs []events.Event
		switch ch.Kind {
		case change.Added, change.Modified:
			evs = append(evs, events.New(ch.Key, ch.NewValue, events.Updated))
		case change.Deleted:
			evs = append(evs, events.New(ch.Key, nil, events.Deleted))
		case change.Renamed:
			evs = append(evs, events.New(ch.OldKey, nil, events.Deleted), events.New(ch.Key, ch.NewValue, events.Updated))
		}
		for _, e := range evs {
			e.Timestamp = now
			if err := c.sink.Publish(ctx, e); err != nil {
				c.log.Warn("event publish failed", logger.Key(e.FullKey()), logger.Err(err))
			}
		}
	}
}

func validKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("empty key: %w", errs.ErrInvalidInput)
	}
	for _, seg := range tree.Split(key) {
		if seg == "" {
			return fmt.Errorf("key %q has an empty segment: %w", key, errs.ErrInvalidInput)
		}
	}
	return nil
}
