package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/cfgvault/internal/domain/errs"
	"github.com/dropDatabas3/cfgvault/internal/store"
	"github.com/dropDatabas3/cfgvault/internal/tree"
)

// run acumula el estado de una pasada. Los workers lo comparten bajo mu.
type run struct {
	e      *Engine
	ro     RunOptions
	res    *Result
	filter bool

	mu       sync.Mutex
	examined map[string]struct{}
}

func (r *run) addError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.res.Errors = append(r.res.Errors, err.Error())
}

func (r *run) examinedKeys() map[string]struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.examined
}

// process reparte las claves en un pool acotado. ABORT corta la pasada.
func (r *run) process(ctx context.Context, keys []string) error {
	r.examined = make(map[string]struct{}, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.e.opts.Workers)
	for _, k := range keys {
		k := k
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return r.syncKey(gctx, k)
		})
	}
	return g.Wait()
}

func (r *run) syncKey(ctx context.Context, key string) error {
	e := r.e
	sv, sok, err := e.remote.Get(ctx, key)
	if err != nil {
		r.addError(errs.WrapRepo(e.remote.Name(), "get "+key, err))
		return nil
	}
	cv, cok, err := e.local.Get(ctx, key)
	if err != nil {
		r.addError(errs.WrapRepo(e.local.Name(), "get "+key, err))
		return nil
	}
	ls, rs := sumOf(cv, cok), sumOf(sv, sok)

	if r.filter {
		if prev, ok := e.getSums(key); ok && prev.local == ls && prev.remote == rs {
			return nil
		}
	}
	r.mu.Lock()
	r.examined[key] = struct{}{}
	r.res.Examined++
	r.mu.Unlock()

	switch {
	case !sok && !cok:
		e.setSums(key, "", "")

	case sok && cok && tree.Equal(sv, cv):
		e.setSums(key, ls, rs)

	case sok && !cok:
		if r.ro.Direction.writesLocal() {
			if err := e.local.Set(ctx, key, sv); err != nil {
				r.addError(errs.WrapRepo(e.local.Name(), "set "+key, err))
				return nil
			}
			ls = rs
			r.mu.Lock()
			r.res.Pulled++
			r.mu.Unlock()
		}
		e.setSums(key, ls, rs)

	case cok && !sok:
		if r.ro.Direction.writesRemote() {
			if err := e.remote.Set(ctx, key, cv); err != nil {
				r.addError(errs.WrapRepo(e.remote.Name(), "set "+key, err))
				return nil
			}
			rs = ls
			r.mu.Lock()
			r.res.Pushed++
			r.mu.Unlock()
		}
		e.setSums(key, ls, rs)

	default:
		now := time.Now().UTC()
		c := SyncConflict{
			Key:             key,
			ServerValue:     sv,
			ClientValue:     cv,
			ServerTimestamp: now,
			ClientTimestamp: now,
			direction:       r.ro.Direction,
		}
		if r.ro.Resolution == Abort {
			return fmt.Errorf("sync conflict on %q: %w", key, errs.ErrAborted)
		}
		out, err := e.apply(ctx, c, r.ro.Resolution, nil, false)
		if err != nil {
			r.addError(err)
			return nil
		}
		if out.Resolved {
			l, rr := out.finalSums()
			e.setSums(key, l, rr)
		}
		r.mu.Lock()
		r.res.Conflicts = append(r.res.Conflicts, out)
		if out.wroteLocal {
			r.res.Pulled++
		}
		if out.wroteRemote {
			r.res.Pushed++
		}
		r.mu.Unlock()
	}
	return nil
}

func sumOf(v any, ok bool) string {
	if !ok {
		return ""
	}
	return store.Checksum(v)
}
