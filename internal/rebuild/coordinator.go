// Package rebuild runs full index rebuilds single-flight per user. A user
// moves Idle → Queued → Running → Idle; each busy state expires after its TTL
// so a lost launch or a crashed run cannot block rebuilds forever.
package rebuild

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// State of a user's rebuild cell.
type State int

const (
	Idle State = iota
	Queued
	Running
)

func (s State) String() string {
	switch s {
	case Queued:
		return "queued"
	case Running:
		return "running"
	default:
		return "idle"
	}
}

// ErrNotQueued is returned by Run when no rebuild was requested for the user.
var ErrNotQueued = errors.New("rebuild: not queued")

// Func performs the rebuild for one user.
type Func func(ctx context.Context, userID int64) error

// Coordinator owns the busy cells and the handles of launched tasks. Queued
// and running users live in separate unbounded caches, each with its own TTL;
// the cached value is the task that owns the cell.
type Coordinator struct {
	mu      sync.Mutex
	queued  *expirable.LRU[int64, *Task]
	running *expirable.LRU[int64, *Task]
	tasks   map[int64]*Task

	run        Func
	base       context.Context
	queuedTTL  time.Duration
	runningTTL time.Duration
	logger     *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTTL overrides the expiry of the queued and running states.
func WithTTL(queued, running time.Duration) Option {
	return func(c *Coordinator) {
		c.queuedTTL, c.runningTTL = queued, running
	}
}

// WithBaseContext sets the context rebuild tasks run under.
func WithBaseContext(ctx context.Context) Option {
	return func(c *Coordinator) { c.base = ctx }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// New creates a Coordinator. Any number of users can be busy at once.
func New(run Func, opts ...Option) *Coordinator {
	c := &Coordinator{
		tasks:      make(map[int64]*Task),
		run:        run,
		base:       context.Background(),
		queuedTTL:  time.Hour,
		runningTTL: 12 * time.Hour,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.queued = expirable.NewLRU[int64, *Task](0, nil, c.queuedTTL)
	c.running = expirable.NewLRU[int64, *Task](0, nil, c.runningTTL)
	return c
}

// state returns the user's state and the task owning it. Must be called
// with mu held.
func (c *Coordinator) state(userID int64) (State, *Task) {
	if t, ok := c.running.Peek(userID); ok {
		return Running, t
	}
	if t, ok := c.queued.Peek(userID); ok {
		return Queued, t
	}
	return Idle, nil
}

// RequestRebuild queues a rebuild and launches it in the background unless
// one is already queued or running for the user. It never waits for the
// rebuild and reports whether a launch happened.
func (c *Coordinator) RequestRebuild(userID int64) bool {
	c.mu.Lock()
	if st, _ := c.state(userID); st != Idle {
		c.mu.Unlock()
		c.logger.Debug("rebuild: already busy", slog.Int64("user", userID))
		return false
	}
	task := &Task{done: make(chan struct{})}
	c.queued.Add(userID, task)
	c.tasks[userID] = task
	c.mu.Unlock()

	go func() {
		task.finish(c.Run(c.base, userID))
	}()
	return true
}

// Run performs a queued rebuild. It only proceeds when the user is Queued,
// marks it Running, and clears the cell when the rebuild returns, whatever
// the outcome. A cell that expired and was taken over by a later rebuild is
// left to that rebuild.
func (c *Coordinator) Run(ctx context.Context, userID int64) error {
	c.mu.Lock()
	st, task := c.state(userID)
	if st != Queued {
		c.mu.Unlock()
		return ErrNotQueued
	}
	c.queued.Remove(userID)
	c.running.Add(userID, task)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if cur, ok := c.running.Peek(userID); ok && cur == task {
			c.running.Remove(userID)
		}
		c.mu.Unlock()
	}()

	start := time.Now()
	c.logger.Info("rebuild: started", slog.Int64("user", userID))
	if err := c.run(ctx, userID); err != nil {
		c.logger.Error("rebuild: failed", slog.Int64("user", userID), slog.String("error", err.Error()))
		return err
	}
	c.logger.Info("rebuild: finished", slog.Int64("user", userID),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// State returns the user's current state.
func (c *Coordinator) State(userID int64) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, _ := c.state(userID)
	return st
}

// Status reports whether a rebuild is queued or running for the user.
func (c *Coordinator) Status(userID int64) bool {
	return c.State(userID) != Idle
}

// Task returns the handle of the most recently launched rebuild, or nil.
func (c *Coordinator) Task(userID int64) *Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tasks[userID]
}

// Wait blocks until the most recently launched rebuild of the user ends and
// returns its error. It returns nil at once when nothing was launched.
func (c *Coordinator) Wait(ctx context.Context, userID int64) error {
	t := c.Task(userID)
	if t == nil {
		return nil
	}
	return t.Wait(ctx)
}

// Task is the handle of one launched rebuild.
type Task struct {
	done chan struct{}
	err  error
}

func (t *Task) finish(err error) {
	t.err = err
	close(t.done)
}

// Done is closed when the rebuild ends.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the rebuild ends or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
