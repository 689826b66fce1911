// Package logger construye loggers Zap y los propaga por contexto.
//
// # Design Decisions
//
//   - Sin singleton: New() retorna un *zap.Logger que se inyecta explícitamente
//     en cada componente (controller, source manager, sync engine).
//   - Context Scoping: una operación puede llevar su logger "scoped" con campos
//     adicionales (branch, commit_id, sync_id) sin crear un nuevo core.
//   - Environments: "dev" usa consola con colores, "prod" usa JSON.
//   - Levels: debug, info, warn, error (configurable via log.level).
//
// # Usage
//
//	log := logger.New(logger.Config{Env: cfg.Log.Env, Level: cfg.Log.Level})
//	defer log.Sync()
//
//	ctrl := vcs.New(vcs.Options{Logger: log.Named("vcs")})
//
// Con contexto:
//
//	logger.From(ctx).Info("sync completed", logger.SyncID(id), logger.Count(n))
package logger
