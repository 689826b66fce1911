// Package syncer reconcilia dos repositorios escribibles en forma
// independiente: el local (cliente) y el remoto (servidor).
//
// Una pasada elige las claves según la estrategia (full, incremental,
// selective), copia las faltantes en la dirección permitida y resuelve las
// claves con valores distintos con la política configurada. Sólo una pasada
// puede estar en curso por Engine; una segunda llamada falla con
// errs.ErrSyncInProgress.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dropDatabas3/cfgvault/internal/domain/errs"
	"github.com/dropDatabas3/cfgvault/internal/metrics"
	"github.com/dropDatabas3/cfgvault/internal/observability/logger"
	"github.com/dropDatabas3/cfgvault/internal/store"
	"github.com/dropDatabas3/cfgvault/internal/tree"
)

// ChangeFeed provee las claves cambiadas desde un instante.
// vcs.Controller la implementa a partir de su historial.
type ChangeFeed interface {
	ChangedKeysSince(since time.Time) ([]string, error)
}

// Feeds une varios change feeds. Falla si falla cualquiera.
type Feeds []ChangeFeed

func (fs Feeds) ChangedKeysSince(since time.Time) ([]string, error) {
	var all []string
	for _, f := range fs {
		if f == nil {
			continue
		}
		keys, err := f.ChangedKeysSince(since)
		if err != nil {
			return nil, err
		}
		all = append(all, keys...)
	}
	return dedupe(all), nil
}

// Options configura el Engine. Strategy/Direction/Resolution/Namespaces son
// los defaults de cada pasada.
type Options struct {
	Local  store.Repository
	Remote store.Repository

	Strategy   Strategy
	Direction  Direction
	Resolution Resolution
	Namespaces []string

	// Workers limita las claves procesadas en paralelo.
	Workers int
	// Interval del loop de fondo; 0 lo deshabilita.
	Interval time.Duration
	Feed     ChangeFeed
	Logger   *zap.Logger
}

// RunOptions pisa los defaults para una pasada. Los campos vacíos usan Options.
type RunOptions struct {
	Strategy   Strategy
	Direction  Direction
	Resolution Resolution
	Namespaces []string
}

type sums struct{ local, remote string }

type Engine struct {
	opts   Options
	log    *zap.Logger
	local  store.Repository
	remote store.Repository

	mu        sync.Mutex
	state     State
	pending   []SyncConflict
	last      *Result
	watermark time.Time

	sumMu sync.Mutex
	sums  map[string]sums

	loopMu sync.Mutex
	stop   chan struct{}
	done   chan struct{}
}

func New(opts Options) (*Engine, error) {
	if opts.Local == nil || opts.Remote == nil {
		return nil, fmt.Errorf("sync: local and remote are required: %w", errs.ErrInvalidInput)
	}
	if opts.Strategy == "" {
		opts.Strategy = Full
	}
	if opts.Direction == "" {
		opts.Direction = Bidirectional
	}
	if opts.Resolution == "" {
		opts.Resolution = ServerWins
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	return &Engine{
		opts:   opts,
		log:    logger.OrNop(opts.Logger).With(logger.Component("sync")),
		local:  opts.Local,
		remote: opts.Remote,
		state:  Idle,
		sums:   make(map[string]sums),
	}, nil
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Pending retorna los conflictos sin resolver, ordenados por clave.
func (e *Engine) Pending() []SyncConflict {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]SyncConflict(nil), e.pending...)
}

// LastResult retorna el resultado de la última pasada, o nil.
func (e *Engine) LastResult() *Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return nil
	}
	cp := *e.last
	return &cp
}

func (e *Engine) withDefaults(ro RunOptions) RunOptions {
	if ro.Strategy == "" {
		ro.Strategy = e.opts.Strategy
	}
	if ro.Direction == "" {
		ro.Direction = e.opts.Direction
	}
	if ro.Resolution == "" {
		ro.Resolution = e.opts.Resolution
	}
	if len(ro.Namespaces) == 0 {
		ro.Namespaces = e.opts.Namespaces
	}
	return ro
}

// begin pasa a SYNCING o falla si ya hay una pasada en curso.
func (e *Engine) begin() (State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Syncing {
		return "", errs.ErrSyncInProgress
	}
	prev := e.state
	e.state = Syncing
	return prev, nil
}

// Sync ejecuta una pasada. Las fallas de repositorio se reportan en el
// Result con status failed; ABORT y "sync en curso" retornan error.
func (e *Engine) Sync(ctx context.Context, ro RunOptions) (*Result, error) {
	ro = e.withDefaults(ro)
	if ro.Strategy == Selective && len(ro.Namespaces) == 0 {
		return nil, fmt.Errorf("sync: selective requires namespaces: %w", errs.ErrInvalidInput)
	}
	if _, err := e.begin(); err != nil {
		return nil, err
	}

	res := &Result{
		ID:        uuid.NewString(),
		Strategy:  ro.Strategy,
		Direction: ro.Direction,
		Status:    StatusCompleted,
		StartedAt: time.Now().UTC(),
	}
	log := e.log.With(logger.SyncID(res.ID), logger.Strategy(string(ro.Strategy)), logger.Direction(string(ro.Direction)))
	log.Debug("sync started")

	r := &run{e: e, ro: ro, res: res}
	keys, filter, err := e.selectKeys(ctx, ro)
	if err == nil {
		r.filter = filter
		err = r.process(ctx, keys)
	} else {
		r.addError(err)
		err = nil
	}
	return e.finish(r, err, log)
}

// selectKeys retorna las claves a examinar y si hay que filtrar por checksum.
func (e *Engine) selectKeys(ctx context.Context, ro RunOptions) ([]string, bool, error) {
	switch ro.Strategy {
	case Selective:
		var all []string
		for _, ns := range ro.Namespaces {
			keys, err := e.union(ctx, ns)
			if err != nil {
				return nil, false, err
			}
			all = append(all, keys...)
		}
		return dedupe(all), false, nil

	case Incremental:
		e.mu.Lock()
		since := e.watermark
		e.mu.Unlock()
		if e.opts.Feed != nil && !since.IsZero() {
			keys, err := e.opts.Feed.ChangedKeysSince(since)
			if err != nil {
				return nil, false, fmt.Errorf("change feed: %w", err)
			}
			return dedupe(keys), false, nil
		}
		keys, err := e.union(ctx, "")
		return keys, true, err

	default:
		keys, err := e.union(ctx, "")
		return keys, false, err
	}
}

// union lista las claves bajo prefix en ambos lados.
func (e *Engine) union(ctx context.Context, prefix string) ([]string, error) {
	lk, err := e.local.ListKeys(ctx, prefix)
	if err != nil {
		return nil, errs.WrapRepo(e.local.Name(), "list", err)
	}
	rk, err := e.remote.ListKeys(ctx, prefix)
	if err != nil {
		return nil, errs.WrapRepo(e.remote.Name(), "list", err)
	}
	return dedupe(append(lk, rk...)), nil
}

func (e *Engine) finish(r *run, runErr error, log *zap.Logger) (*Result, error) {
	res := r.res
	res.FinishedAt = time.Now().UTC()
	sort.Slice(res.Conflicts, func(i, j int) bool { return res.Conflicts[i].Key < res.Conflicts[j].Key })

	e.mu.Lock()
	switch {
	case runErr != nil || len(res.Errors) > 0:
		res.Status = StatusFailed
		if runErr != nil {
			res.Errors = append(res.Errors, runErr.Error())
		}
		e.state = Error
	default:
		e.mergePending(r)
		if res.Unresolved() > 0 {
			res.Status = StatusConflict
		}
		if len(e.pending) > 0 {
			e.state = Conflict
		} else {
			e.state = Idle
		}
		e.watermark = res.StartedAt
	}
	cp := *res
	e.last = &cp
	e.mu.Unlock()

	metrics.SyncRunsTotal.WithLabelValues(string(res.Strategy), string(res.Status)).Inc()
	metrics.SyncDuration.Observe(float64(res.Duration().Milliseconds()))
	for _, c := range res.Conflicts {
		label := "unresolved"
		if c.Resolved {
			label = string(c.Resolution)
		}
		metrics.SyncConflictsTotal.WithLabelValues(label).Inc()
	}

	fields := []zap.Field{
		zap.Int("examined", res.Examined), zap.Int("pulled", res.Pulled), zap.Int("pushed", res.Pushed),
		logger.Conflicts(len(res.Conflicts)), logger.Duration(res.Duration()),
	}
	switch res.Status {
	case StatusFailed:
		log.Error("sync failed", append(fields, zap.Strings("errors", res.Errors))...)
	case StatusConflict:
		log.Warn("sync finished with unresolved conflicts", fields...)
	default:
		log.Info("sync completed", fields...)
	}

	if runErr != nil {
		return res, runErr
	}
	return res, nil
}

// mergePending actualiza la lista de pendientes con lo visto en la pasada:
// las claves examinadas salen, las que quedaron sin resolver entran.
func (e *Engine) mergePending(r *run) {
	seen := r.examinedKeys()
	kept := e.pending[:0]
	for _, c := range e.pending {
		if _, ok := seen[c.Key]; !ok {
			kept = append(kept, c)
		}
	}
	for _, c := range r.res.Conflicts {
		if !c.Resolved {
			kept = append(kept, c)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Key < kept[j].Key })
	e.pending = kept
}

// ResolveConflicts aplica res a los pendientes en keys (nil = todos).
// Para Manual, manual[key] provee el valor; sin valor el conflicto sigue pendiente.
// Retorna los conflictos resueltos.
func (e *Engine) ResolveConflicts(ctx context.Context, keys []string, res Resolution, manual map[string]any) ([]SyncConflict, error) {
	if res == Abort {
		return nil, fmt.Errorf("resolve conflicts: %w", errs.ErrAborted)
	}
	prev, err := e.begin()
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	pending := append([]SyncConflict(nil), e.pending...)
	e.mu.Unlock()

	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}

	var (
		resolved []SyncConflict
		remain   []SyncConflict
		errList  []error
	)
	for _, c := range pending {
		if len(keys) > 0 && !want[c.Key] {
			remain = append(remain, c)
			continue
		}
		v, has := manual[c.Key]
		out, err := e.apply(ctx, c, res, v, has)
		if err != nil {
			errList = append(errList, err)
		}
		if out.Resolved && err == nil {
			resolved = append(resolved, out)
			l, r := out.finalSums()
			e.setSums(out.Key, l, r)
			continue
		}
		remain = append(remain, c)
	}

	e.mu.Lock()
	e.pending = remain
	switch {
	case len(errList) > 0:
		e.state = Error
	case len(remain) > 0:
		e.state = Conflict
	case prev == Error:
		e.state = Error
	default:
		e.state = Idle
	}
	e.mu.Unlock()

	for range resolved {
		metrics.SyncConflictsTotal.WithLabelValues(string(res)).Inc()
	}
	e.log.Info("conflicts resolved", logger.Count(len(resolved)), zap.Int("remaining", len(remain)), zap.String("resolution", string(res)))
	return resolved, errors.Join(errList...)
}

// apply resuelve c con res y escribe según la dirección con que se detectó.
// Si res no puede resolverlo (merge de formas distintas, manual sin valor)
// retorna c sin marcar como resuelto.
func (e *Engine) apply(ctx context.Context, c SyncConflict, res Resolution, manual any, hasManual bool) (SyncConflict, error) {
	dir := c.direction
	var (
		value    any
		toLocal  bool
		toRemote bool
	)
	switch res {
	case ServerWins:
		value, toLocal = c.ServerValue, dir.writesLocal()
	case ClientWins:
		value, toRemote = c.ClientValue, dir.writesRemote()
	case MergeValues:
		current, incoming := c.ClientValue, c.ServerValue
		if dir == Push {
			current, incoming = c.ServerValue, c.ClientValue
		}
		merged, ok := tree.MergeValues(current, incoming)
		if !ok {
			return c, nil
		}
		value, toLocal, toRemote = merged, dir.writesLocal(), dir.writesRemote()
	case Manual:
		if !hasManual {
			return c, nil
		}
		value, toLocal, toRemote = manual, dir.writesLocal(), dir.writesRemote()
	case Abort:
		return c, fmt.Errorf("sync conflict on %q: %w", c.Key, errs.ErrAborted)
	default:
		return c, fmt.Errorf("sync resolution %q: %w", res, errs.ErrInvalidInput)
	}

	if toLocal {
		if err := e.local.Set(ctx, c.Key, value); err != nil {
			return c, errs.WrapRepo(e.local.Name(), "set "+c.Key, err)
		}
		c.wroteLocal = true
	}
	if toRemote {
		if err := e.remote.Set(ctx, c.Key, value); err != nil {
			return c, errs.WrapRepo(e.remote.Name(), "set "+c.Key, err)
		}
		c.wroteRemote = true
	}
	c.Resolution = res
	c.ResolvedValue = tree.Clone(value)
	c.Resolved = true
	return c, nil
}

func (e *Engine) getSums(key string) (sums, bool) {
	e.sumMu.Lock()
	defer e.sumMu.Unlock()
	s, ok := e.sums[key]
	return s, ok
}

func (e *Engine) setSums(key, local, remote string) {
	e.sumMu.Lock()
	defer e.sumMu.Unlock()
	if local == "" && remote == "" {
		delete(e.sums, key)
		return
	}
	e.sums[key] = sums{local: local, remote: remote}
}

// Start lanza el loop de fondo: cada Interval, si el engine está IDLE,
// ejecuta una pasada incremental.
func (e *Engine) Start(ctx context.Context) error {
	if e.opts.Interval <= 0 {
		return fmt.Errorf("sync: interval must be positive: %w", errs.ErrInvalidInput)
	}
	e.loopMu.Lock()
	defer e.loopMu.Unlock()
	if e.stop != nil {
		return fmt.Errorf("sync loop: %w", errs.ErrAlreadyExists)
	}
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	go e.loop(ctx, e.stop, e.done)
	e.log.Info("sync loop started", logger.Duration(e.opts.Interval))
	return nil
}

// Stop detiene el loop. Una pasada en curso termina antes de que Stop retorne.
func (e *Engine) Stop() {
	e.loopMu.Lock()
	defer e.loopMu.Unlock()
	if e.stop == nil {
		return
	}
	close(e.stop)
	<-e.done
	e.stop, e.done = nil, nil
	e.log.Info("sync loop stopped")
}

func (e *Engine) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	t := time.NewTicker(e.opts.Interval)
	defer t.Stop()
	runCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-t.C:
			if e.State() != Idle {
				continue
			}
			if _, err := e.Sync(runCtx, RunOptions{Strategy: Incremental}); err != nil {
				if errors.Is(err, errs.ErrSyncInProgress) {
					continue
				}
				e.log.Warn("background sync failed", logger.Err(err))
			}
		}
	}
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		seen[k] = struct{}{}
	}
	return tree.SortedKeys(seen)
}
