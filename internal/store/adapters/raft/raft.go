// Package raft implementa store.Repository sobre un cluster Raft.
//
// Las lecturas se sirven de la FSM local. Las escrituras se replican por el
// log y sólo el líder las acepta; en un follower retornan errs.ErrNotLeader.
package raft

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dropDatabas3/cfgvault/internal/cluster"
	"github.com/dropDatabas3/cfgvault/internal/domain/errs"
	"github.com/dropDatabas3/cfgvault/internal/store"
)

// Repo es un repositorio replicado.
type Repo struct {
	name string
	node *cluster.Node
	fsm  *cluster.FSM
}

var _ store.Repository = (*Repo)(nil)

// Open crea la FSM y el nodo a partir de opts (opts.FSM se ignora).
func Open(name string, opts cluster.NodeOptions) (*Repo, error) {
	fsm := cluster.NewFSM()
	opts.FSM = fsm
	node, err := cluster.NewNode(opts)
	if err != nil {
		return nil, fmt.Errorf("raft repo: %w", err)
	}
	return New(name, node, fsm), nil
}

func New(name string, node *cluster.Node, fsm *cluster.FSM) *Repo {
	if name == "" {
		name = "raft"
	}
	return &Repo{name: name, node: node, fsm: fsm}
}

// Node expone el nodo subyacente.
func (r *Repo) Node() *cluster.Node { return r.node }

func (r *Repo) Name() string { return r.name }

func (r *Repo) Get(_ context.Context, key string) (any, bool, error) {
	if err := store.CheckKey(key); err != nil {
		return nil, false, err
	}
	v, ok := r.fsm.Get(key)
	return v, ok, nil
}

func (r *Repo) Set(ctx context.Context, key string, value any) error {
	if err := store.CheckKey(key); err != nil {
		return err
	}
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("raft repo: encode %s: %w", key, err)
	}
	return r.apply(ctx, cluster.Mutation{Type: cluster.MutationSet, Key: key, Value: b})
}

func (r *Repo) Delete(ctx context.Context, key string) error {
	if err := store.CheckKey(key); err != nil {
		return err
	}
	return r.apply(ctx, cluster.Mutation{Type: cluster.MutationDelete, Key: key})
}

func (r *Repo) apply(ctx context.Context, m cluster.Mutation) error {
	if !r.node.IsLeader() {
		return fmt.Errorf("%s (leader=%q): %w", r.name, r.node.LeaderID(), errs.ErrNotLeader)
	}
	m.TsUnix = time.Now().Unix()
	_, err := r.node.Apply(ctx, m)
	return err
}

func (r *Repo) ListKeys(_ context.Context, prefix string) ([]string, error) {
	return r.fsm.ListKeys(prefix), nil
}

func (r *Repo) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := r.Get(ctx, key)
	return ok, err
}

// HealthCheck reporta degraded si no hay líder conocido.
func (r *Repo) HealthCheck(context.Context) store.Health {
	h := store.Health{Repo: r.name, Status: store.StatusHealthy}
	leader := r.node.LeaderID()
	if leader == "" {
		h.Status = store.StatusDegraded
		h.Error = "no known leader"
	}
	stats := r.node.Stats()
	h.Details = map[string]string{
		"driver":        "raft",
		"node_id":       r.node.NodeID(),
		"addr":          r.node.RaftAddr(),
		"state":         r.node.State(),
		"leader":        leader,
		"peers":         fmt.Sprint(r.node.Peers()),
		"term":          stats["term"],
		"commit_index":  stats["commit_index"],
		"applied_index": fmt.Sprint(r.fsm.AppliedIndex()),
	}
	return h
}

func (r *Repo) Close() error { return r.node.Close() }
