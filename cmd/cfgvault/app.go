package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dropDatabas3/cfgvault/internal/cache"
	"github.com/dropDatabas3/cfgvault/internal/config"
	"github.com/dropDatabas3/cfgvault/internal/events"
	"github.com/dropDatabas3/cfgvault/internal/observability/logger"
	"github.com/dropDatabas3/cfgvault/internal/source"
	"github.com/dropDatabas3/cfgvault/internal/store"
	"github.com/dropDatabas3/cfgvault/internal/store/factory"
	"github.com/dropDatabas3/cfgvault/internal/syncer"
	"github.com/dropDatabas3/cfgvault/internal/vcs"
)

// app es el grafo de dependencias armado a partir de la configuración.
// Todo se construye acá y se cierra en Close; no hay estado global.
type app struct {
	cfg *config.Config
	log *zap.Logger

	repos   []factory.Opened
	cache   cache.Client
	bus     *events.Bus
	journal *events.Journal
	rdb     *redis.Client

	sources *source.Manager
	vcs     *vcs.Controller
	sync    *syncer.Engine
}

func loadConfig(path string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	log := logger.New(logger.Config{
		Env:         cfg.App.Env,
		Level:       cfg.Log.Level,
		ServiceName: cfg.App.Name,
		Version:     version,
	})
	return cfg, log, nil
}

func build(ctx context.Context, cfg *config.Config, log *zap.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, log: log, bus: events.NewBus(), journal: events.NewJournal(0)}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	sink := events.Multi{a.bus, a.journal}
	if cfg.Events.RedisAddr != "" {
		a.rdb = redis.NewClient(&redis.Options{Addr: cfg.Events.RedisAddr})
		sink = append(sink, events.NewRedisPublisher(a.rdb, cfg.Events.RedisChannel))
	}

	if a.repos, err = factory.OpenAll(ctx, cfg.Repositories, log); err != nil {
		return nil, err
	}

	if a.cache, err = openCache(ctx, cfg); err != nil {
		return nil, err
	}

	strategy, err := source.ParseStrategy(cfg.Sources.Strategy)
	if err != nil {
		return nil, err
	}
	fallback, err := source.ParseFallback(cfg.Sources.Fallback)
	if err != nil {
		return nil, err
	}
	srcs := make([]source.Source, 0, len(a.repos))
	for _, o := range a.repos {
		srcs = append(srcs, source.Source{Repo: o.Repo, Priority: o.Config.Priority, ReadOnly: o.Config.ReadOnly})
	}
	a.sources = source.New(source.Options{
		Strategy: strategy,
		Fallback: fallback,
		CacheTTL: cfg.CacheTTL(),
		Cache:    a.cache,
		Events:   sink,
		Logger:   log,
	}, srcs...)

	a.vcs = vcs.New(vcs.Options{
		DefaultBranch: cfg.VCS.DefaultBranch,
		Protected:     cfg.VCS.Protected,
		Events:        sink,
		Logger:        log,
	})
	if cfg.VCS.StatePath != "" {
		if err = a.vcs.LoadFile(cfg.VCS.StatePath); err != nil {
			return nil, err
		}
	}

	if cfg.Sync.Local != "" && cfg.Sync.Remote != "" {
		if a.sync, err = a.buildSync(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func openCache(ctx context.Context, cfg *config.Config) (cache.Client, error) {
	c := cfg.Sources.Cache
	if c.Kind != "redis" {
		return cache.NewMemory("source", cfg.CacheTTL()), nil
	}
	return cache.New(ctx, cache.Config{
		Driver:   "redis",
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		Prefix:   c.Redis.Prefix,
	})
}

func (a *app) repo(name string) (store.Repository, error) {
	for _, o := range a.repos {
		if o.Config.Name == name {
			return o.Repo, nil
		}
	}
	return nil, fmt.Errorf("repository %q is not configured", name)
}

func (a *app) buildSync() (*syncer.Engine, error) {
	sc := a.cfg.Sync
	local, err := a.repo(sc.Local)
	if err != nil {
		return nil, err
	}
	remote, err := a.repo(sc.Remote)
	if err != nil {
		return nil, err
	}
	opts := syncer.Options{
		Local:      local,
		Remote:     remote,
		Namespaces: sc.Namespaces,
		Workers:    sc.Workers,
		Interval:   a.cfg.SyncInterval(),
		Feed:       syncer.Feeds{a.vcs, a.journal},
		Logger:     a.log,
	}
	if opts.Strategy, err = syncer.ParseStrategy(sc.Strategy); err != nil {
		return nil, err
	}
	if opts.Direction, err = syncer.ParseDirection(sc.Direction); err != nil {
		return nil, err
	}
	if opts.Resolution, err = syncer.ParseResolution(sc.Resolution); err != nil {
		return nil, err
	}
	return syncer.New(opts)
}

// saveState persiste el estado del controller si hay state_path.
func (a *app) saveState() error {
	if a.cfg.VCS.StatePath == "" {
		return nil
	}
	if err := a.vcs.SaveFile(a.cfg.VCS.StatePath); err != nil {
		return err
	}
	a.log.Info("vcs state saved", logger.String("path", a.cfg.VCS.StatePath), logger.Count(a.vcs.CommitCount()))
	return nil
}

func (a *app) Close() {
	if a.sync != nil {
		a.sync.Stop()
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Warn("cache close failed", logger.Err(err))
		}
	}
	factory.CloseAll(a.repos, a.log)
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	a.bus.Close()
	_ = a.log.Sync()
}

// watchEvents loguea los cambios publicados hasta que ctx termine.
func (a *app) watchEvents(ctx context.Context) {
	ch, cancel := a.bus.Subscribe(256)
	defer cancel()
	log := a.log.With(logger.Component("events"))
	for {
		select {
		case <-ctx.Done():
			if n := a.bus.Dropped(); n > 0 {
				log.Warn("events dropped", logger.Count(int(n)))
			}
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			log.Debug("config changed",
				logger.Key(e.FullKey()),
				logger.String("action", string(e.Action)),
				zap.Time("at", e.Timestamp.Truncate(time.Millisecond)),
			)
		}
	}
}
