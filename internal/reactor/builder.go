package reactor

import (
	"context"

	"StepScope/pkg/plugin"
)

// Lifecycle supplies the work done by the tasks of a built graph.
type Lifecycle interface {
	List(ctx context.Context, p *plugin.Plugin) error
	Prepare(ctx context.Context, p *plugin.Plugin) error
	Start(ctx context.Context, p *plugin.Plugin) error
	// Augment runs once every plugin has started.
	Augment(ctx context.Context) error
	// HostWork performs the host-application work attaining m.
	HostWork(ctx context.Context, m Milestone) error
}

// NopLifecycle does nothing in every phase.
type NopLifecycle struct{}

func (NopLifecycle) List(context.Context, *plugin.Plugin) error    { return nil }
func (NopLifecycle) Prepare(context.Context, *plugin.Plugin) error { return nil }
func (NopLifecycle) Start(context.Context, *plugin.Plugin) error   { return nil }
func (NopLifecycle) Augment(context.Context) error                 { return nil }
func (NopLifecycle) HostWork(context.Context, Milestone) error     { return nil }

// Task names of the host phases.
const (
	TaskAugment        = "Augmenting extensions"
	TaskLoadConfig     = "Loading global configuration"
	TaskAdaptConfig    = "Adapting system configuration"
	TaskLoadJobs       = "Loading jobs"
	TaskUpdateJobs     = "Updating job configuration"
	listingTaskPrefix  = "Listing plugin "
	prepareTaskPrefix  = "Preparing plugin "
	startingTaskPrefix = "Starting plugin "
)

// ListingTask, PreparingTask and StartingTask name the per-plugin tasks.
func ListingTask(plugin string) string   { return listingTaskPrefix + plugin }
func PreparingTask(plugin string) string { return prepareTaskPrefix + plugin }
func StartingTask(plugin string) string  { return startingTaskPrefix + plugin }

var hostPhases = []struct {
	name      string
	notBefore Milestone
	attains   Milestone
	host      bool
}{
	{TaskAugment, MilestonePluginsStarted, MilestoneExtensionsAugmented, false},
	{TaskLoadConfig, MilestoneExtensionsAugmented, MilestoneSystemConfigLoaded, true},
	{TaskAdaptConfig, MilestoneSystemConfigLoaded, MilestoneSystemConfigAdapted, true},
	{TaskLoadJobs, MilestoneSystemConfigAdapted, MilestoneJobsLoaded, true},
	{TaskUpdateJobs, MilestoneJobsLoaded, MilestoneJobConfigAdapted, true},
}

// Builder turns a set of plugins into the milestone task graph. Building
// performs no I/O; all work happens when the reactor runs the tasks.
type Builder struct {
	lifecycle Lifecycle
}

// NewBuilder returns a builder whose tasks call into l.
func NewBuilder(l Lifecycle) *Builder {
	if l == nil {
		l = NopLifecycle{}
	}
	return &Builder{lifecycle: l}
}

// Build creates the per-plugin and host tasks plus any extra tasks. A plugin
// starts only after every dependency it requires has started.
func (b *Builder) Build(plugins []*plugin.Plugin, extra ...Task) (*Graph, error) {
	tasks := make([]Task, 0, 3*len(plugins)+len(hostPhases)+len(extra))
	for _, p := range plugins {
		tasks = append(tasks, b.pluginTasks(p)...)
	}
	for _, phase := range hostPhases {
		tasks = append(tasks, b.hostTask(phase.name, phase.notBefore, phase.attains, phase.host))
	}
	tasks = append(tasks, extra...)
	return NewGraph(tasks)
}

func (b *Builder) pluginTasks(p *plugin.Plugin) []Task {
	starting := []string{PreparingTask(p.Name)}
	for _, dep := range p.Requires() {
		starting = append(starting, StartingTask(dep))
	}
	return []Task{
		{
			Name:        ListingTask(p.Name),
			DisplayName: "Listing " + p.DisplayName,
			Plugin:      p.Name,
			NotBefore:   MilestoneStarted,
			Attains:     MilestonePluginsListed,
			Run:         func(ctx context.Context) error { return b.lifecycle.List(ctx, p) },
		},
		{
			Name:        PreparingTask(p.Name),
			DisplayName: "Preparing " + p.DisplayName,
			Plugin:      p.Name,
			Requires:    []string{ListingTask(p.Name)},
			NotBefore:   MilestonePluginsListed,
			Attains:     MilestonePluginsPrepared,
			Run:         func(ctx context.Context) error { return b.lifecycle.Prepare(ctx, p) },
		},
		{
			Name:        StartingTask(p.Name),
			DisplayName: "Starting " + p.DisplayName,
			Plugin:      p.Name,
			Requires:    starting,
			NotBefore:   MilestonePluginsPrepared,
			Attains:     MilestonePluginsStarted,
			Run:         func(ctx context.Context) error { return b.lifecycle.Start(ctx, p) },
		},
	}
}

func (b *Builder) hostTask(name string, notBefore, attains Milestone, host bool) Task {
	t := Task{
		Name:      name,
		NotBefore: notBefore,
		Attains:   attains,
		Host:      host,
	}
	if name == TaskAugment {
		t.Run = b.lifecycle.Augment
	} else {
		t.Run = func(ctx context.Context) error { return b.lifecycle.HostWork(ctx, attains) }
	}
	return t
}
