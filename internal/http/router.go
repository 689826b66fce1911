// Package http expone el core por HTTP: lectura/escritura de configuración a
// través del source manager, búsqueda en el historial y control del sync.
package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dropDatabas3/cfgvault/internal/rate"
	"github.com/dropDatabas3/cfgvault/internal/store"
	"github.com/dropDatabas3/cfgvault/internal/syncer"
	"github.com/dropDatabas3/cfgvault/internal/vcs/commit"
	"github.com/dropDatabas3/cfgvault/internal/vcs/history"
)

// ConfigService es lo que el router usa del source manager.
type ConfigService interface {
	Get(ctx context.Context, key string) (any, bool, error)
	Set(ctx context.Context, key string, value any, repo string) error
	Delete(ctx context.Context, key string, repo string) error
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	HealthCheck(ctx context.Context) []store.Health
}

// HistoryService es lo que el router usa del controller.
type HistoryService interface {
	Search(q history.Query) ([]*commit.Commit, error)
	GetCommit(id string) (*commit.Commit, error)
}

// SyncService es lo que el router usa del sync engine.
type SyncService interface {
	Sync(ctx context.Context, ro syncer.RunOptions) (*syncer.Result, error)
	State() syncer.State
	LastResult() *syncer.Result
	Pending() []syncer.SyncConflict
}

// Deps agrupa las dependencias del router. History y Sync son opcionales:
// sin ellos las rutas correspondientes no se montan.
type Deps struct {
	Config  ConfigService
	History HistoryService
	Sync    SyncService

	// Limiter limita las escrituras (PUT/DELETE/POST); nil = sin límite.
	Limiter rate.Limiter

	// Registry recibe las métricas HTTP; Gatherer alimenta /metrics.
	Registry prometheus.Registerer
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// NewRouter arma el handler completo con middlewares.
func NewRouter(d Deps) (http.Handler, error) {
	m, err := newHTTPMetrics(d.Registry)
	if err != nil {
		return nil, err
	}
	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(WithRequestID, WithLogging(d.Logger), WithRecover, WithSecurityHeaders, m.middleware)

	h := &handlers{cfg: d.Config, hist: d.History, sync: d.Sync}
	limit := WithRateLimit(d.Limiter)
	r.Get("/healthz", h.health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/keys", h.listKeys)
		r.Route("/config/{namespace}", func(r chi.Router) {
			r.Get("/", h.getConfig)
			r.Get("/{key}", h.getConfig)
			r.With(limit).Put("/{key}", h.putConfig)
			r.With(limit).Delete("/{key}", h.deleteConfig)
		})
		if d.History != nil {
			r.Get("/history", h.searchHistory)
			r.Get("/commits/{id}", h.getCommit)
		}
		if d.Sync != nil {
			r.Get("/sync", h.syncStatus)
			r.With(limit).Post("/sync", h.runSync)
		}
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, ErrNotFound)
	})
	return r, nil
}
