package harness

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"StepScope/internal/config"
	"StepScope/internal/delegate"
	xerrors "StepScope/internal/errors"
	"StepScope/internal/extension"
	"StepScope/internal/observability/alerting"
	"StepScope/internal/observability/metrics"
	"StepScope/internal/reactor"
	"StepScope/pkg/logger"
	"StepScope/pkg/plugin"
)

// Result is the outcome of one run. On failure it holds whatever was
// produced before the failing stage.
type Result struct {
	RunID         string
	Capability    extension.Capability
	Plugins       []*plugin.Plugin
	Failures      []*plugin.CatalogError
	Milestones    []reactor.Milestone
	LastMilestone reactor.Milestone
	Components    []extension.Component
	Listing       delegate.Listing
	// Strategy answers ownership and delegate queries about the run.
	Strategy *extension.Strategy
}

// Harness boots the extension subsystem described by a configuration and
// lists the components of one capability. Every Run starts from scratch.
type Harness struct {
	cfg        *config.Config
	logger     *slog.Logger
	audit      *slog.Logger
	metrics    *metrics.Metrics
	finder     extension.Finder
	skip       reactor.SkipStrategy
	privileges reactor.Privileges
	observers  []reactor.Observer
	tasks      []reactor.Task
	alerts     alerting.Dispatcher
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger sets the logger handed to every component.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// WithAuditLogger sets the logger receiving milestone records.
func WithAuditLogger(l *slog.Logger) Option {
	return func(h *Harness) { h.audit = l }
}

// WithMetrics sets the collectors. Without it a fresh set is created.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Harness) { h.metrics = m }
}

// WithFinder replaces the plugin scan behind component discovery.
func WithFinder(f extension.Finder) Option {
	return func(h *Harness) { h.finder = f }
}

// WithSkipStrategy overrides the configured skip behaviour.
func WithSkipStrategy(s reactor.SkipStrategy) Option {
	return func(h *Harness) { h.skip = s }
}

// WithPrivileges sets how init tasks are elevated.
func WithPrivileges(p reactor.Privileges) Option {
	return func(h *Harness) { h.privileges = p }
}

// WithObserver adds an observer notified of every attained milestone.
func WithObserver(o reactor.Observer) Option {
	return func(h *Harness) {
		if o != nil {
			h.observers = append(h.observers, o)
		}
	}
}

// WithTasks adds init tasks to the graph built from the plugins.
func WithTasks(tasks ...reactor.Task) Option {
	return func(h *Harness) { h.tasks = append(h.tasks, tasks...) }
}

// WithDispatcher reports run failures and excluded archives to d.
func WithDispatcher(d alerting.Dispatcher) Option {
	return func(h *Harness) { h.alerts = d }
}

// New validates cfg and returns a harness.
func New(cfg *config.Config, opts ...Option) (*Harness, error) {
	if cfg == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid configuration")
	}
	h := &Harness{cfg: cfg}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = logger.Named("harness")
	}
	if h.audit == nil {
		h.audit = logger.Audit()
	}
	if h.metrics == nil {
		h.metrics = metrics.New()
	}
	if h.skip == nil {
		h.skip = reactor.SkipNothing
		if cfg.Reactor.SkipsHostTasks() {
			h.skip = reactor.SkipHostTasks
		}
	}
	if h.privileges == nil {
		h.privileges = reactor.SystemPrivileges{}
	}
	return h, nil
}

// Metrics returns the collectors of the harness.
func (h *Harness) Metrics() *metrics.Metrics { return h.metrics }

// Run loads the catalog, brings it to the final milestone, discovers the
// configured capability and flattens composites into the listing.
func (h *Harness) Run(ctx context.Context) (*Result, error) {
	res := &Result{
		RunID:      uuid.NewString(),
		Capability: extension.Capability(h.cfg.Discovery.Capability),
	}
	log := h.logger.With(slog.String("run", res.RunID))
	defer h.exportMetrics(log)

	res, err := h.run(ctx, res, log)
	h.alert(ctx, log, res, err)
	return res, err
}

func (h *Harness) run(ctx context.Context, res *Result, log *slog.Logger) (*Result, error) {
	catalog, err := plugin.Load(ctx, h.cfg.Plugins.Dir,
		plugin.WithStrict(h.cfg.Plugins.IsStrict()),
		plugin.WithHostVersion(h.cfg.Host.Version),
		plugin.WithHostManifest(h.cfg.Plugins.HostManifest),
		plugin.WithLogger(log.With(slog.String("component", "catalog"))),
	)
	if err != nil {
		return res, err
	}
	res.Plugins = catalog.Plugins()
	res.Failures = catalog.Failures()
	defer h.recordPluginStates(res)

	strategyOpts := []extension.StrategyOption{
		extension.WithMetrics(h.metrics),
		extension.WithLogger(log.With(slog.String("component", "extension"))),
	}
	if h.finder != nil {
		strategyOpts = append(strategyOpts, extension.WithFinder(h.finder))
	}
	strategy := extension.NewStrategy(catalog, strategyOpts...)
	res.Strategy = strategy

	graph, err := reactor.NewBuilder(&lifecycle{catalog: catalog, strategy: strategy}).
		Build(res.Plugins, h.tasks...)
	if err != nil {
		return res, err
	}

	var mu sync.Mutex
	observer := reactor.ObserverFunc(func(m reactor.Milestone) {
		mu.Lock()
		res.Milestones = append(res.Milestones, m)
		mu.Unlock()
		for _, o := range h.observers {
			o.MilestoneAttained(m)
		}
	})
	r := reactor.New(
		reactor.WithWorkers(h.cfg.Reactor.Workers),
		reactor.WithSkipStrategy(h.skip),
		reactor.WithPrivileges(h.privileges),
		reactor.WithLogger(log.With(slog.String("component", "reactor"))),
		reactor.WithAuditLogger(h.audit.With(slog.String("run", res.RunID))),
		reactor.WithMetrics(h.metrics),
	)
	err = r.Run(ctx, graph, observer)
	res.LastMilestone = r.Attained()
	if err != nil {
		return res, err
	}

	components, err := strategy.FindComponents(ctx, res.Capability)
	if err != nil {
		return res, err
	}
	res.Components = components

	listing, err := delegate.NewResolver(strategy,
		delegate.WithMetrics(h.metrics),
		delegate.WithLogger(log.With(slog.String("component", "delegate"))),
	).Resolve(ctx, components)
	if err != nil {
		return res, err
	}
	res.Listing = listing
	log.Info("run completed",
		slog.Int("plugins", len(res.Plugins)),
		slog.Int("components", len(components)),
		slog.Int("entries", delegate.Count(listing)),
		slog.String("milestone", res.LastMilestone.String()))
	return res, nil
}

func (h *Harness) alert(ctx context.Context, log *slog.Logger, res *Result, runErr error) {
	if h.alerts == nil {
		return
	}
	var events []alerting.Event
	for _, f := range res.Failures {
		ev := alerting.EventFromError(res.RunID, f)
		ev.Severity = xerrors.SeverityWarning
		events = append(events, ev)
	}
	if runErr != nil {
		events = append(events, alerting.EventFromError(res.RunID, runErr))
	}
	for _, ev := range events {
		if err := h.alerts.Notify(ctx, ev); err != nil {
			log.Warn("alert delivery failed", slog.String("code", string(ev.Code)), slog.Any("error", err))
		}
	}
}

func (h *Harness) recordPluginStates(res *Result) {
	counts := make(map[plugin.State]int)
	for _, p := range res.Plugins {
		counts[p.State()]++
	}
	counts[plugin.StateFailed] += len(res.Failures)
	for _, s := range []plugin.State{plugin.StateRegistered, plugin.StateListed, plugin.StatePrepared, plugin.StateStarted, plugin.StateFailed} {
		h.metrics.SetPlugins(string(s), counts[s])
	}
}

func (h *Harness) exportMetrics(log *slog.Logger) {
	if err := h.metrics.WriteTextfile(h.cfg.Metrics.Textfile); err != nil {
		log.Warn("metrics export failed", slog.String("path", h.cfg.Metrics.Textfile), slog.Any("error", err))
	}
}
