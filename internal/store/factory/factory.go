// Package factory construye backends a partir de la configuración.
// La selección es un switch explícito; no hay registro global de drivers.
package factory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/cfgvault/internal/cluster"
	"github.com/dropDatabas3/cfgvault/internal/config"
	"github.com/dropDatabas3/cfgvault/internal/observability/logger"
	"github.com/dropDatabas3/cfgvault/internal/store"
	"github.com/dropDatabas3/cfgvault/internal/store/adapters/fs"
	"github.com/dropDatabas3/cfgvault/internal/store/adapters/memory"
	"github.com/dropDatabas3/cfgvault/internal/store/adapters/mysql"
	"github.com/dropDatabas3/cfgvault/internal/store/adapters/pg"
	raftrepo "github.com/dropDatabas3/cfgvault/internal/store/adapters/raft"
	"github.com/dropDatabas3/cfgvault/internal/store/adapters/redis"
	"github.com/dropDatabas3/cfgvault/internal/util"
)

// Open construye el backend descripto por rc.
func Open(ctx context.Context, rc config.Repository, log *zap.Logger) (store.Repository, error) {
	log = logger.OrNop(log)
	d := strings.ToLower(rc.Driver)
	switch d {
	case "memory", "":
		return memory.New(rc.Name), nil

	case "fs", "file":
		return wrap(fs.New(rc.Name, rc.Path))

	case "redis":
		return wrap(redis.New(ctx, redis.Config{
			Name:     rc.Name,
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
			Prefix:   rc.Prefix,
		}))

	case "postgres", "pg", "postgresql":
		pc := pg.Config{Name: rc.Name, DSN: rc.DSN, MaxConns: int32(rc.MaxOpenConns), MinConns: int32(rc.MaxIdleConns)}
		if rc.ConnMaxLifetime != "" {
			dur, err := time.ParseDuration(rc.ConnMaxLifetime)
			if err != nil {
				return nil, fmt.Errorf("repository %q: conn_max_lifetime: %w", rc.Name, err)
			}
			pc.ConnMaxLifetime = dur
		}
		return wrap(pg.New(ctx, pc))

	case "mysql":
		return wrap(mysql.New(ctx, mysql.Config{
			Name:         rc.Name,
			DSN:          rc.DSN,
			MaxOpenConns: rc.MaxOpenConns,
			MaxIdleConns: rc.MaxIdleConns,
		}))

	case "raft":
		return wrap(raftrepo.Open(rc.Name, cluster.NodeOptions{
			NodeID:             rc.Raft.NodeID,
			RaftAddr:           rc.Raft.Addr,
			RaftDir:            rc.Raft.Dir,
			Peers:              rc.Raft.Peers,
			BootstrapPreferred: rc.Raft.Bootstrap,
			DisableBootstrap:   rc.Raft.DisableBootstrap,
			Logger:             log.With(logger.Repo(rc.Name)),
			RaftTLSEnable:      rc.Raft.TLSEnable,
			RaftTLSCertFile:    rc.Raft.TLSCertFile,
			RaftTLSKeyFile:     rc.Raft.TLSKeyFile,
			RaftTLSCAFile:      rc.Raft.TLSCAFile,
			RaftTLSServerName:  rc.Raft.TLSServerName,
		}))

	default:
		return nil, fmt.Errorf("unsupported driver: %s", rc.Driver)
	}
}

// wrap evita devolver un puntero nil tipado dentro de la interfaz.
func wrap(r store.Repository, err error) (store.Repository, error) {
	if err != nil {
		return nil, err
	}
	return r, nil
}

// target describe dónde apunta rc, sin secretos.
func target(rc config.Repository) string {
	switch strings.ToLower(rc.Driver) {
	case "fs", "file":
		return rc.Path
	case "redis":
		return rc.Addr
	case "postgres", "pg", "postgresql", "mysql":
		return util.MaskDSN(rc.DSN)
	case "raft":
		return rc.Raft.Addr
	}
	return "memory"
}

// Opened es un backend abierto junto con su configuración.
type Opened struct {
	Config config.Repository
	Repo   store.Repository
}

// OpenAll abre todos los backends en orden. Si uno falla, cierra los ya abiertos.
func OpenAll(ctx context.Context, rcs []config.Repository, log *zap.Logger) ([]Opened, error) {
	log = logger.OrNop(log)
	out := make([]Opened, 0, len(rcs))
	for _, rc := range rcs {
		r, err := Open(ctx, rc, log)
		if err != nil {
			CloseAll(out, log)
			return nil, fmt.Errorf("open repository %q: %w", rc.Name, err)
		}
		log.Info("repository opened", logger.Repo(rc.Name), logger.Driver(rc.Driver), logger.String("target", target(rc)))
		out = append(out, Opened{Config: rc, Repo: r})
	}
	return out, nil
}

// CloseAll cierra en orden inverso, logueando los errores.
func CloseAll(opened []Opened, log *zap.Logger) {
	log = logger.OrNop(log)
	for i := len(opened) - 1; i >= 0; i-- {
		if err := opened[i].Repo.Close(); err != nil {
			log.Warn("repository close failed", logger.Repo(opened[i].Config.Name), logger.Err(err))
		}
	}
}
