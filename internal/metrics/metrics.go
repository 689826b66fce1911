package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Métricas Prometheus del core. Viven en un paquete aparte para evitar ciclos
// entre vcs, source, syncer y los adapters de store.

var (
	CommitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cfgvault_commits_total",
		Help: "Commits registrados por el orquestador",
	})

	MergesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cfgvault_merges_total",
		Help: "Merges ejecutados por estrategia y resultado",
	}, []string{"strategy", "outcome"})

	MergeConflictsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cfgvault_merge_conflicts_total",
		Help: "Conflictos detectados en merges de tres vías",
	}, []string{"type"})

	SyncRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cfgvault_sync_runs_total",
		Help: "Corridas de sync por estrategia y estado final",
	}, []string{"strategy", "status"})

	SyncDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cfgvault_sync_duration_ms",
		Help:    "Duración de un sync en milisegundos",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	})

	SyncConflictsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cfgvault_sync_conflicts_total",
		Help: "Conflictos de sync por resolución aplicada",
	}, []string{"resolution"})

	SourceCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cfgvault_source_cache_hits_total",
		Help: "Lecturas del source manager servidas desde cache",
	})

	SourceCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cfgvault_source_cache_misses_total",
		Help: "Lecturas del source manager que consultaron repositorios",
	})

	SourceErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cfgvault_source_errors_total",
		Help: "Errores por repositorio durante lecturas agregadas",
	}, []string{"repo"})

	RaftApplyLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "raft_apply_latency_ms",
		Help:    "Latencia de raft.Apply en milisegundos",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	RaftLeadershipChanges = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raft_leadership_changes_total",
		Help: "Cambios de rol a leader",
	})
)

// Register registra todas las métricas en reg (o en el default si es nil).
// Es idempotente: ignora AlreadyRegisteredError.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{
		CommitsTotal,
		MergesTotal,
		MergeConflictsTotal,
		SyncRunsTotal,
		SyncDuration,
		SyncConflictsTotal,
		SourceCacheHits,
		SourceCacheMisses,
		SourceErrorsTotal,
		RaftApplyLatency,
		RaftLeadershipChanges,
	} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
