// Package runner drives a tree at a fixed rate and keeps its blackboard
// persisted.
package runner

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/AaronLay10/SentientTree/internal/blackboard"
	"github.com/AaronLay10/SentientTree/internal/bt"
	"github.com/AaronLay10/SentientTree/internal/events"
	"github.com/AaronLay10/SentientTree/internal/metrics"
)

// DefaultTickRate is used when Options.TickRate is zero.
const DefaultTickRate = 100 * time.Millisecond

// ErrAbortQueueFull is returned by Abort while an earlier request is still
// pending.
var ErrAbortQueueFull = errors.New("runner: abort already pending")

type Options struct {
	TickRate time.Duration

	// Store persists the root blackboard under Scope. Backend labels save
	// metrics. A nil Store disables persistence.
	Store        blackboard.Store
	Backend      string
	Scope        string
	SaveInterval time.Duration

	// StopOnCompletion ends Run once the root reports Success or Failure.
	StopOnCompletion bool

	Log     *events.Log
	Metrics *metrics.Collector
	Logger  *zap.Logger
}

// Runner owns the goroutine that ticks a tree.
type Runner struct {
	tree   *bt.Tree
	opts   Options
	logger *zap.Logger

	aborts  chan string
	running atomic.Bool
}

func New(tree *bt.Tree, opts Options) *Runner {
	if opts.TickRate <= 0 {
		opts.TickRate = DefaultTickRate
	}
	if opts.Scope == "" {
		opts.Scope = tree.ID()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		tree:   tree,
		opts:   opts,
		logger: logger.With(zap.String("tree", tree.ID())),
		aborts: make(chan string, 1),
	}
}

// Tree returns the driven tree.
func (r *Runner) Tree() *bt.Tree { return r.tree }

// Running reports whether Run is ticking the tree.
func (r *Runner) Running() bool { return r.running.Load() }

// Abort asks the tick goroutine to interrupt the whole tree before its next
// tick. Safe from any goroutine.
func (r *Runner) Abort(reason string) error {
	select {
	case r.aborts <- reason:
		return nil
	default:
		return ErrAbortQueueFull
	}
}

// Run ticks the tree until ctx is done or, with StopOnCompletion, the root
// finishes. The tree is aborted and the blackboard saved before returning.
func (r *Runner) Run(ctx context.Context) error {
	r.running.Store(true)
	defer r.running.Store(false)

	hostname, _ := os.Hostname()
	r.emit("info", "system.startup", "runner starting", map[string]interface{}{
		"tree":      r.tree.ID(),
		"tick_rate": r.opts.TickRate.String(),
		"hostname":  hostname,
		"pid":       os.Getpid(),
	})

	ticker := time.NewTicker(r.opts.TickRate)
	defer ticker.Stop()

	var saves <-chan time.Time
	if r.opts.Store != nil && r.opts.SaveInterval > 0 {
		st := time.NewTicker(r.opts.SaveInterval)
		defer st.Stop()
		saves = st.C
	}

	reason := "context canceled"
	last := time.Now()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop

		case why := <-r.aborts:
			r.logger.Info("aborting tree", zap.String("reason", why))
			r.tree.Abort()

		case <-saves:
			// Periodic save failures are recorded and retried next interval.
			_ = r.Save(ctx)

		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			s := r.tree.Tick(dt)
			if s.Terminal() && r.opts.StopOnCompletion {
				reason = "tree " + s.String()
				break loop
			}
		}
	}

	r.tree.Abort()

	// The run context is usually canceled by now.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err := r.Save(saveCtx)

	r.emit("info", "system.shutdown", "runner stopped", map[string]interface{}{
		"tree":   r.tree.ID(),
		"ticks":  r.tree.TickCount(),
		"reason": reason,
	})
	return err
}

// Save writes the root blackboard to the store. It must be called from the
// goroutine that ticks the tree unless the blackboard is thread-safe.
func (r *Runner) Save(ctx context.Context) error {
	if r.opts.Store == nil {
		return nil
	}
	err := blackboard.Save(ctx, r.opts.Store, r.opts.Scope, r.tree.Blackboard())
	r.opts.Metrics.Save(r.opts.Backend, err)
	if err != nil {
		r.logger.Warn("blackboard save failed", zap.String("backend", r.opts.Backend), zap.Error(err))
		r.emit("error", "system.error", err.Error(), map[string]interface{}{
			"backend": r.opts.Backend,
			"scope":   r.opts.Scope,
		})
		return err
	}
	r.emit("info", "blackboard.saved", "", map[string]interface{}{
		"backend": r.opts.Backend,
		"scope":   r.opts.Scope,
		"keys":    len(r.tree.Blackboard().Keys()),
	})
	return nil
}

func (r *Runner) emit(level, name, msg string, fields map[string]interface{}) {
	emit(r.opts.Log, level, name, msg, fields)
}

func emit(log *events.Log, level, name, msg string, fields map[string]interface{}) {
	if log == nil {
		return
	}
	_, _ = log.Emit(level, name, msg, fields)
}

// Restore loads the snapshot saved for scope into bb. It runs before the
// tree is built so authored blackboard seeds do not replace restored values.
func Restore(ctx context.Context, store blackboard.Store, backend, scope string, bb *blackboard.Blackboard, log *events.Log) (int, error) {
	n, err := blackboard.Load(ctx, store, scope, bb)
	if err != nil {
		return 0, err
	}
	emit(log, "info", "blackboard.restored", "", map[string]interface{}{
		"backend": backend,
		"scope":   scope,
		"keys":    n,
	})
	return n, nil
}
