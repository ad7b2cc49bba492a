// Package runtime provides the named background-task pools the provider's
// watchdog and transport-facing components run on: separate, independently
// sized goroutine pools for transmit-side work, receive-side work, session
// acceptance, application callbacks, and general network I/O, so a stall in
// one never starves another.
package runtime

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tpaschalis/goshm/internal/constants"
)

// Pool names an individual worker pool.
type Pool int

const (
	TX Pool = iota
	RX
	Accept
	Application
	Net
	numPools
)

func (p Pool) String() string {
	switch p {
	case TX:
		return "tx"
	case RX:
		return "rx"
	case Accept:
		return "accept"
	case Application:
		return "application"
	case Net:
		return "net"
	default:
		return "unknown"
	}
}

// Config sets the worker count for each pool. A zero field falls back to
// constants.DefaultRuntimePoolWorkers.
type Config struct {
	Workers [numPools]int
}

// DefaultConfig mirrors the "five pools of two workers" default.
func DefaultConfig() Config {
	var c Config
	for i := range c.Workers {
		c.Workers[i] = constants.DefaultRuntimePoolWorkers
	}
	return c
}

type pool struct {
	group *errgroup.Group
	ctx   context.Context
}

// Runtime lazily starts a bounded goroutine pool per Pool on first Spawn,
// and shuts all of them down together on Close.
type Runtime struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	pools [numPools]*pool
}

// New creates a Runtime bound to a root context; canceling that context
// (or calling Close) stops every spawned task.
func New(ctx context.Context, cfg Config) *Runtime {
	ctx, cancel := context.WithCancel(ctx)
	return &Runtime{cfg: cfg, ctx: ctx, cancel: cancel}
}

func (r *Runtime) poolFor(p Pool) *pool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pools[p] == nil {
		// Each pool gets its own errgroup so one task's failure does not
		// cancel unrelated pools' tasks.
		r.pools[p] = &pool{}
	}
	return r.pools[p]
}

// Spawn runs fn on the named pool's errgroup, passing a context that is
// canceled when the Runtime is closed. fn's error is observed by Wait.
// Spawn blocks while the pool already runs its configured number of tasks.
func (r *Runtime) Spawn(p Pool, fn func(context.Context) error) {
	pl := r.poolFor(p)
	r.mu.Lock()
	if pl.group == nil {
		g, gctx := errgroup.WithContext(r.ctx)
		workers := r.cfg.Workers[p]
		if workers <= 0 {
			workers = constants.DefaultRuntimePoolWorkers
		}
		g.SetLimit(workers)
		pl.group = g
		pl.ctx = gctx
	}
	group := pl.group
	gctx := pl.ctx
	r.mu.Unlock()

	group.Go(func() error {
		return fn(gctx)
	})
}

// Wait blocks until every task spawned on the given pool has returned,
// and reports the first error among them, if any.
func (r *Runtime) Wait(p Pool) error {
	r.mu.Lock()
	pl := r.pools[p]
	r.mu.Unlock()
	if pl == nil || pl.group == nil {
		return nil
	}
	return pl.group.Wait()
}

// Close cancels every pool's context. It does not block for tasks to
// drain; call Wait per pool afterward if that's needed.
func (r *Runtime) Close() {
	r.cancel()
}
