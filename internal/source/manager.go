// Package source agrega lecturas sobre N repositorios priorizados en una
// vista lógica única, con estrategias de combinación, política de fallback
// ante fallas y cache TTL.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/cfgvault/internal/cache"
	"github.com/dropDatabas3/cfgvault/internal/domain/errs"
	"github.com/dropDatabas3/cfgvault/internal/events"
	"github.com/dropDatabas3/cfgvault/internal/metrics"
	"github.com/dropDatabas3/cfgvault/internal/observability/logger"
	"github.com/dropDatabas3/cfgvault/internal/store"
	"github.com/dropDatabas3/cfgvault/internal/tree"
)

const maxConflicts = 1000

// Options configura el Manager.
type Options struct {
	Strategy Strategy
	Fallback Fallback
	// CacheTTL es la vida de cada entrada; 0 deshabilita el cache.
	CacheTTL time.Duration
	// Cache es el backend del cache; nil usa uno en memoria.
	Cache  cache.Client
	Events events.Sink
	Logger *zap.Logger
}

// Manager es seguro para uso concurrente.
type Manager struct {
	opts  Options
	log   *zap.Logger
	sink  events.Sink
	cache cache.Client
	sf    singleflight.Group

	mu      sync.RWMutex
	sources []Source // ordenadas por prioridad ascendente, estable
	gen     int64    // se incrementa al cambiar el set de fuentes

	lkMu      sync.Mutex
	lastKnown map[string]map[string]any // repo -> key -> valor

	cmu       sync.Mutex
	conflicts []Conflict
	errCount  map[string]int64

	hits   atomic.Int64
	misses atomic.Int64
	writes atomic.Int64 // se incrementa en cada escritura, antes de invalidar
}

type hit struct {
	source string
	value  any
}

func New(opts Options, sources ...Source) *Manager {
	if opts.Strategy == "" {
		opts.Strategy = Override
	}
	if opts.Fallback == "" {
		opts.Fallback = SkipFailed
	}
	m := &Manager{
		opts:      opts,
		log:       logger.OrNop(opts.Logger).With(logger.Component("source")),
		sink:      opts.Events,
		cache:     opts.Cache,
		lastKnown: make(map[string]map[string]any),
		errCount:  make(map[string]int64),
	}
	if m.sink == nil {
		m.sink = events.Nop{}
	}
	if m.cache == nil {
		m.cache = cache.NewMemory("source", 0)
	}
	for _, s := range sources {
		if err := m.AddRepository(s); err != nil {
			m.log.Warn("source skipped", logger.Repo(s.Name()), logger.Err(err))
		}
	}
	return m
}

// AddRepository registra una fuente. Los nombres son únicos.
func (m *Manager) AddRepository(s Source) error {
	if s.Repo == nil {
		return fmt.Errorf("nil repository: %w", errs.ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cur := range m.sources {
		if cur.Name() == s.Name() {
			return fmt.Errorf("source %q: %w", s.Name(), errs.ErrAlreadyExists)
		}
	}
	m.sources = append(m.sources, s)
	sort.SliceStable(m.sources, func(i, j int) bool { return m.sources[i].Priority < m.sources[j].Priority })
	m.gen++
	m.log.Info("source added", logger.Repo(s.Name()), zap.Int("priority", s.Priority), zap.Bool("readonly", s.ReadOnly))
	return nil
}

// RemoveRepository quita una fuente por nombre. No la cierra.
func (m *Manager) RemoveRepository(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.sources {
		if s.Name() == name {
			m.sources = append(m.sources[:i], m.sources[i+1:]...)
			m.gen++
			m.lkMu.Lock()
			delete(m.lastKnown, name)
			m.lkMu.Unlock()
			m.log.Info("source removed", logger.Repo(name))
			return nil
		}
	}
	return errs.NotFound("source", name)
}

// Sources retorna las fuentes en orden de prioridad.
func (m *Manager) Sources() []Source {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Source(nil), m.sources...)
}

func (m *Manager) snapshot() ([]Source, int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Source(nil), m.sources...), m.gen
}

func cacheKey(gen int64, key string) string {
	return "g" + strconv.FormatInt(gen, 10) + ":" + key
}

// Get lee key de todas las fuentes y combina según la estrategia.
func (m *Manager) Get(ctx context.Context, key string) (any, bool, error) {
	if err := store.CheckKey(key); err != nil {
		return nil, false, err
	}
	sources, gen := m.snapshot()
	ck := cacheKey(gen, key)
	seq := m.writes.Load()

	if m.opts.CacheTTL > 0 {
		if raw, err := m.cache.Get(ctx, ck); err == nil {
			var v any
			if err := json.Unmarshal([]byte(raw), &v); err == nil {
				m.hits.Add(1)
				metrics.SourceCacheHits.Inc()
				return v, true, nil
			}
		} else if !cache.IsNotFound(err) {
			m.log.Debug("cache get failed", logger.Key(key), logger.Err(err))
		}
		m.misses.Add(1)
		metrics.SourceCacheMisses.Inc()
	}

	type result struct {
		value any
		found bool
	}
	// una lectura iniciada antes de una escritura no se comparte con las posteriores
	res, err, _ := m.sf.Do(ck+"#"+strconv.FormatInt(seq, 10), func() (any, error) {
		hits, err := m.collect(ctx, sources, key)
		if err != nil {
			return nil, err
		}
		v, ok := m.combine(key, hits)
		if ok && m.opts.CacheTTL > 0 {
			m.fill(ctx, ck, key, v, seq)
		}
		return result{value: v, found: ok}, nil
	})
	if err != nil {
		return nil, false, err
	}
	r := res.(result)
	// copia: el valor puede estar compartido entre llamadores de singleflight
	return tree.Clone(r.value), r.found, nil
}

// fill cachea v sólo si ninguna escritura ocurrió desde seq. El segundo
// chequeo cubre una invalidación que corrió entre el primero y cache.Set.
func (m *Manager) fill(ctx context.Context, ck, key string, v any, seq int64) {
	if m.writes.Load() != seq {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := m.cache.Set(ctx, ck, string(b), m.opts.CacheTTL); err != nil {
		m.log.Debug("cache set failed", logger.Key(key), logger.Err(err))
		return
	}
	if m.writes.Load() != seq {
		_ = m.cache.Delete(ctx, ck)
	}
}

// collect consulta las fuentes en orden de prioridad aplicando el fallback.
func (m *Manager) collect(ctx context.Context, sources []Source, key string) ([]hit, error) {
	var hits []hit
	for _, s := range sources {
		name := s.Name()
		v, ok, err := s.Repo.Get(ctx, key)
		if err != nil {
			m.recordError(name, err)
			switch m.opts.Fallback {
			case FailFast:
				return nil, errs.WrapRepo(name, "get "+key, err)
			case UseCache:
				if lv, ok := m.lastKnownValue(name, key); ok {
					m.log.Debug("using last known value", logger.Repo(name), logger.Key(key))
					hits = append(hits, hit{source: name, value: lv})
				}
			}
			continue
		}
		if ok {
			m.remember(name, key, v, true)
			hits = append(hits, hit{source: name, value: v})
		} else {
			m.remember(name, key, nil, false)
		}
	}
	return hits, nil
}

func (m *Manager) combine(key string, hits []hit) (any, bool) {
	if len(hits) == 0 {
		return nil, false
	}
	switch m.opts.Strategy {
	case FirstWins:
		return hits[0].value, true
	case LastWins:
		return hits[len(hits)-1].value, true
	case Merge:
		merged := make(map[string]any)
		for i := len(hits) - 1; i >= 0; i-- {
			mm, ok := hits[i].value.(map[string]any)
			if !ok {
				return hits[0].value, true
			}
			for k, v := range mm {
				merged[k] = v
			}
		}
		return merged, true
	default:
		winner := hits[0]
		now := time.Now().UTC()
		for _, h := range hits[1:] {
			if !tree.Equal(winner.value, h.value) {
				m.recordConflict(Conflict{
					Key:         key,
					Winner:      winner.source,
					WinnerValue: winner.value,
					Source:      h.source,
					Value:       h.value,
					DetectedAt:  now,
				})
			}
		}
		return winner.value, true
	}
}

// Exists indica si alguna fuente tiene key.
func (m *Manager) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := m.Get(ctx, key)
	return ok, err
}

// ListKeys retorna la unión ordenada de las claves de todas las fuentes.
func (m *Manager) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	sources, _ := m.snapshot()
	seen := make(map[string]struct{})
	for _, s := range sources {
		keys, err := s.Repo.ListKeys(ctx, prefix)
		if err != nil {
			m.recordError(s.Name(), err)
			if m.opts.Fallback == FailFast {
				return nil, errs.WrapRepo(s.Name(), "list", err)
			}
			continue
		}
		for _, k := range keys {
			seen[k] = struct{}{}
		}
	}
	return tree.SortedKeys(seen), nil
}

// Set escribe en repo o, si repo es "", en la fuente escribible de mayor prioridad.
func (m *Manager) Set(ctx context.Context, key string, value any, repo string) error {
	if err := store.CheckKey(key); err != nil {
		return err
	}
	s, err := m.target(repo)
	if err != nil {
		return err
	}
	if err := s.Repo.Set(ctx, key, value); err != nil {
		m.recordError(s.Name(), err)
		return errs.WrapRepo(s.Name(), "set "+key, err)
	}
	m.forget(s.Name(), key)
	m.remember(s.Name(), key, value, true)
	m.invalidate(ctx, key)
	m.log.Debug("source set", logger.Repo(s.Name()), logger.Key(key))
	m.publish(ctx, events.New(key, tree.Clone(value), events.Updated))
	return nil
}

// Delete borra key en repo o en la fuente escribible de mayor prioridad.
func (m *Manager) Delete(ctx context.Context, key string, repo string) error {
	if err := store.CheckKey(key); err != nil {
		return err
	}
	s, err := m.target(repo)
	if err != nil {
		return err
	}
	if err := s.Repo.Delete(ctx, key); err != nil {
		m.recordError(s.Name(), err)
		return errs.WrapRepo(s.Name(), "delete "+key, err)
	}
	m.forget(s.Name(), key)
	m.invalidate(ctx, key)
	m.log.Debug("source delete", logger.Repo(s.Name()), logger.Key(key))
	m.publish(ctx, events.New(key, nil, events.Deleted))
	return nil
}

func (m *Manager) target(repo string) (Source, error) {
	sources, _ := m.snapshot()
	if repo != "" {
		for _, s := range sources {
			if s.Name() == repo {
				if s.ReadOnly {
					return Source{}, fmt.Errorf("source %q: %w", repo, errs.ErrReadOnly)
				}
				return s, nil
			}
		}
		return Source{}, errs.NotFound("source", repo)
	}
	for _, s := range sources {
		if !s.ReadOnly {
			return s, nil
		}
	}
	return Source{}, fmt.Errorf("no writable source: %w", errs.ErrReadOnly)
}

// invalidate borra del cache key, sus ancestros y su sub-árbol.
func (m *Manager) invalidate(ctx context.Context, key string) {
	m.writes.Add(1)
	if m.opts.CacheTTL <= 0 {
		return
	}
	_, gen := m.snapshot()
	for _, a := range store.Ancestors(key) {
		_ = m.cache.Delete(ctx, cacheKey(gen, a))
	}
	if err := m.cache.DeletePrefix(ctx, cacheKey(gen, key)); err != nil {
		m.log.Warn("cache invalidate failed", logger.Key(key), logger.Err(err))
	}
}

func (m *Manager) publish(ctx context.Context, e events.Event) {
	if err := m.sink.Publish(ctx, e); err != nil {
		m.log.Warn("event publish failed", logger.Key(e.FullKey()), logger.Err(err))
	}
}

// HealthCheck consulta cada fuente en orden de prioridad.
func (m *Manager) HealthCheck(ctx context.Context) []store.Health {
	sources, _ := m.snapshot()
	out := make([]store.Health, 0, len(sources))
	for _, s := range sources {
		out = append(out, s.Repo.HealthCheck(ctx))
	}
	return out
}

// Conflicts retorna los conflictos registrados, del más viejo al más nuevo.
func (m *Manager) Conflicts() []Conflict {
	m.cmu.Lock()
	defer m.cmu.Unlock()
	return append([]Conflict(nil), m.conflicts...)
}

func (m *Manager) ClearConflicts() {
	m.cmu.Lock()
	m.conflicts = nil
	m.cmu.Unlock()
}

func (m *Manager) Stats() Stats {
	sources, _ := m.snapshot()
	m.cmu.Lock()
	defer m.cmu.Unlock()
	errsCopy := make(map[string]int64, len(m.errCount))
	for k, v := range m.errCount {
		errsCopy[k] = v
	}
	return Stats{
		Sources:     len(sources),
		CacheHits:   m.hits.Load(),
		CacheMisses: m.misses.Load(),
		Errors:      errsCopy,
		Conflicts:   len(m.conflicts),
	}
}

func (m *Manager) recordError(repo string, err error) {
	metrics.SourceErrorsTotal.WithLabelValues(repo).Inc()
	m.log.Warn("source failed", logger.Repo(repo), logger.Err(err))
	m.cmu.Lock()
	m.errCount[repo]++
	m.cmu.Unlock()
}

func (m *Manager) recordConflict(c Conflict) {
	m.log.Warn("source conflict",
		logger.Key(c.Key), zap.String("winner", c.Winner), zap.String("other", c.Source))
	m.cmu.Lock()
	defer m.cmu.Unlock()
	m.conflicts = append(m.conflicts, c)
	if n := len(m.conflicts); n > maxConflicts {
		m.conflicts = append([]Conflict(nil), m.conflicts[n-maxConflicts:]...)
	}
}

func (m *Manager) remember(repo, key string, v any, found bool) {
	if m.opts.Fallback != UseCache {
		return
	}
	m.lkMu.Lock()
	defer m.lkMu.Unlock()
	if !found {
		if byKey := m.lastKnown[repo]; byKey != nil {
			delete(byKey, key)
		}
		return
	}
	byKey := m.lastKnown[repo]
	if byKey == nil {
		byKey = make(map[string]any)
		m.lastKnown[repo] = byKey
	}
	byKey[key] = tree.Clone(v)
}

// forget olvida key, su sub-árbol y sus ancestros en la fuente.
func (m *Manager) forget(repo, key string) {
	m.lkMu.Lock()
	defer m.lkMu.Unlock()
	byKey := m.lastKnown[repo]
	for k := range byKey {
		if tree.HasPrefix(k, key) || tree.HasPrefix(key, k) {
			delete(byKey, k)
		}
	}
}

func (m *Manager) lastKnownValue(repo, key string) (any, bool) {
	m.lkMu.Lock()
	defer m.lkMu.Unlock()
	v, ok := m.lastKnown[repo][key]
	return tree.Clone(v), ok
}
