package reactor

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	xerrors "StepScope/internal/errors"
	"StepScope/internal/observability/metrics"
	"StepScope/pkg/logger"
)

// Observer is told about every attained milestone, in order.
type Observer interface {
	MilestoneAttained(m Milestone)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(m Milestone)

// MilestoneAttained implements Observer.
func (f ObserverFunc) MilestoneAttained(m Milestone) { f(m) }

// TaskFailure reports the first task that failed or panicked.
type TaskFailure struct {
	Task   string
	Plugin string
	// LastMilestone is the highest milestone attained before the failure.
	LastMilestone Milestone
	Err           error
	coded         *xerrors.Error
}

func newTaskFailure(t *Task, last Milestone, cause error) *TaskFailure {
	opts := []xerrors.Option{
		xerrors.WithMetadata("task", t.Name),
		xerrors.WithMetadata("milestone", last.String()),
	}
	if t.Plugin != "" {
		opts = append(opts, xerrors.WithMetadata("plugin", t.Plugin))
	}
	return &TaskFailure{
		Task:          t.Name,
		Plugin:        t.Plugin,
		LastMilestone: last,
		Err:           cause,
		coded:         xerrors.Wrap(xerrors.CodeTaskFailure, cause, fmt.Sprintf("task %q failed", t.Name), opts...),
	}
}

func (e *TaskFailure) Error() string {
	return fmt.Sprintf("%s (last milestone: %s)", e.coded.Error(), e.LastMilestone)
}

// Unwrap exposes the coded error, which wraps the task's own error.
func (e *TaskFailure) Unwrap() error { return e.coded }

// Reactor runs a task graph with bounded concurrency, reporting milestones as
// they are attained. A Reactor runs one graph at a time.
type Reactor struct {
	workers    int
	skip       SkipStrategy
	privileges Privileges
	logger     *slog.Logger
	audit      *slog.Logger
	metrics    *metrics.Metrics

	mu       sync.Mutex
	states   map[string]TaskState
	attained atomic.Int32
}

// Option configures a Reactor.
type Option func(*Reactor)

// WithWorkers bounds how many tasks run at once. Non-positive values select
// runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(r *Reactor) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithSkipStrategy selects the tasks treated as satisfied without running.
func WithSkipStrategy(s SkipStrategy) Option {
	return func(r *Reactor) {
		if s != nil {
			r.skip = s
		}
	}
}

// WithPrivileges sets how task contexts are elevated.
func WithPrivileges(p Privileges) Option {
	return func(r *Reactor) {
		if p != nil {
			r.privileges = p
		}
	}
}

// WithLogger sets the reactor logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reactor) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithAuditLogger sets the logger receiving milestone and failure records.
func WithAuditLogger(l *slog.Logger) Option {
	return func(r *Reactor) {
		if l != nil {
			r.audit = l
		}
	}
}

// WithMetrics sets the collectors for task durations and milestones.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reactor) { r.metrics = m }
}

// New creates a reactor.
func New(opts ...Option) *Reactor {
	r := &Reactor{
		workers:    runtime.NumCPU(),
		skip:       SkipHostTasks,
		privileges: SystemPrivileges{},
		states:     make(map[string]TaskState),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger.Named("reactor")
	}
	if r.audit == nil {
		r.audit = logger.Audit()
	}
	return r
}

// Attained returns the highest milestone attained by the current or last run.
func (r *Reactor) Attained() Milestone { return Milestone(r.attained.Load()) }

// States returns a snapshot of every task's state.
func (r *Reactor) States() map[string]TaskState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.states)
}

func (r *Reactor) setState(name string, s TaskState) {
	r.mu.Lock()
	r.states[name] = s
	r.mu.Unlock()
}

type completion struct {
	task     *Task
	err      error
	duration time.Duration
}

// Run executes g. A task starts once the tasks it requires are done or
// skipped and its NotBefore milestone is attained. The first failing task
// stops dispatching; tasks already running finish before Run returns a
// *TaskFailure. Cancelling ctx also stops dispatching; running tasks are not
// interrupted.
func (r *Reactor) Run(ctx context.Context, g *Graph, obs Observer) error {
	if obs == nil {
		obs = ObserverFunc(func(Milestone) {})
	}

	r.mu.Lock()
	r.states = make(map[string]TaskState, len(g.tasks))
	for name := range g.tasks {
		r.states[name] = TaskPending
	}
	r.mu.Unlock()
	r.attained.Store(int32(MilestoneNone))

	indegree := maps.Clone(g.indegree)
	var ready []string
	for _, id := range g.order {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	release := func(id string) {
		for _, succ := range g.next[id] {
			indegree[succ]--
			if indegree[succ] == 0 {
				ready = append(ready, succ)
			}
		}
	}

	done := make(chan completion, len(g.tasks))
	var eg errgroup.Group
	eg.SetLimit(r.workers)

	var (
		failure  *TaskFailure
		stopErr  error
		inflight int
	)
	for {
		for len(ready) > 0 && failure == nil && stopErr == nil {
			id := ready[0]
			ready = ready[1:]

			if m, ok := g.milestoneOf(id); ok {
				r.attain(m, obs)
				release(id)
				continue
			}

			t := g.tasks[id]
			if err := ctx.Err(); err != nil {
				stopErr = err
				break
			}
			if r.skip.Skip(*t) {
				r.setState(t.Name, TaskSkipped)
				r.metrics.ObserveTask(t.Attains.String(), metrics.OutcomeSkipped, 0)
				r.logger.Debug("task skipped", slog.String("task", t.Name))
				release(id)
				continue
			}

			r.setState(t.Name, TaskRunnable)
			inflight++
			eg.Go(func() error {
				r.setState(t.Name, TaskRunning)
				start := time.Now()
				err := r.execute(ctx, t)
				done <- completion{task: t, err: err, duration: time.Since(start)}
				return nil
			})
		}

		if inflight == 0 {
			break
		}
		c := <-done
		inflight--

		if c.err != nil {
			r.setState(c.task.Name, TaskFailed)
			r.metrics.ObserveTask(c.task.Attains.String(), metrics.OutcomeFailed, c.duration)
			if failure == nil {
				failure = newTaskFailure(c.task, r.Attained(), c.err)
			} else {
				r.logger.Warn("further task failed while draining",
					slog.String("task", c.task.Name), slog.Any("error", c.err))
			}
			continue
		}
		r.setState(c.task.Name, TaskDone)
		r.metrics.ObserveTask(c.task.Attains.String(), metrics.OutcomeDone, c.duration)
		if failure == nil && stopErr == nil {
			release(c.task.Name)
		}
	}
	_ = eg.Wait()

	if failure != nil {
		r.logger.Error("initialization failed",
			slog.String("task", failure.Task),
			slog.String("plugin", failure.Plugin),
			slog.String("milestone", failure.LastMilestone.String()),
			slog.Any("error", failure.Err))
		r.audit.Error("initialization failed",
			slog.String("task", failure.Task),
			slog.String("last_milestone", failure.LastMilestone.String()),
			slog.String("error_code", string(xerrors.CodeTaskFailure)),
			slog.String("error", failure.Err.Error()))
		return failure
	}
	if stopErr != nil {
		r.logger.Warn("initialization cancelled", slog.String("milestone", r.Attained().String()))
		return stopErr
	}
	return nil
}

func (r *Reactor) attain(m Milestone, obs Observer) {
	r.attained.Store(int32(m))
	r.metrics.SetMilestone(int(m))
	r.logger.Info("milestone attained", slog.String("milestone", m.String()))
	r.audit.Info("milestone attained", slog.String("milestone", m.String()), slog.Int("ordinal", int(m)))
	obs.MilestoneAttained(m)
}

// execute runs one task with elevated privileges, turning panics into errors.
func (r *Reactor) execute(ctx context.Context, t *Task) (err error) {
	ctx, release := r.privileges.Acquire(ctx)
	defer release()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	log := r.logger.With(
		slog.String("task", t.Name),
		slog.String("plugin", t.Plugin),
		slog.String("milestone", t.Attains.String()),
	)
	ctx = withLogger(ctx, log)
	log.Debug("task started")
	if t.Run == nil {
		return nil
	}
	return t.Run(ctx)
}
