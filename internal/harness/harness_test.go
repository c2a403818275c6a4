package harness

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StepScope/internal/config"
	"StepScope/internal/delegate"
	xerrors "StepScope/internal/errors"
	"StepScope/internal/extension"
	"StepScope/internal/observability/alerting"
	"StepScope/internal/reactor"
	"StepScope/pkg/logger"
	"StepScope/pkg/plugin"
)

// fixtureEntries is the flattened step count of testdata/plugins plus the
// host built-ins in testdata/core.yaml: 14 non-composite steps and 6
// resolvable members of the composites checkout, step and wrap.
const fixtureEntries = 20

func fixtureConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default(filepath.Join("testdata", "plugins"))
	cfg.Plugins.HostManifest = filepath.Join("testdata", "core.yaml")
	cfg.Reactor.Workers = 4
	return cfg
}

func newHarness(t *testing.T, cfg *config.Config, opts ...Option) *Harness {
	t.Helper()
	base := []Option{WithLogger(logger.Discard()), WithAuditLogger(logger.Discard())}
	h, err := New(cfg, append(base, opts...)...)
	require.NoError(t, err)
	return h
}

func TestRunListsFixture(t *testing.T) {
	res, err := newHarness(t, fixtureConfig(t)).Run(t.Context())
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.Len(t, res.Plugins, 7)
	assert.Empty(t, res.Failures)
	for _, p := range res.Plugins {
		assert.Equal(t, plugin.StateStarted, p.State(), p.Name)
	}

	assert.Equal(t, reactor.Milestones(), res.Milestones)
	assert.Equal(t, reactor.MilestoneCompleted, res.LastMilestone)
	assert.Equal(t, "Completed initialization", res.LastMilestone.String())

	assert.Equal(t, fixtureEntries, delegate.Count(res.Listing))
	assert.Equal(t, []string{
		"artifacts", "core", "credentials", "git", "scm-api",
		"workflow-basic-steps", "workflow-cps",
	}, res.Listing.Owners())
	assert.Equal(t, []string{"properties"}, entryNames(res.Listing["workflow-cps"][delegate.BucketSteps]))
	assert.Empty(t, res.Listing["workflow-cps"][delegate.BucketAdvanced])
}

func TestRunCountsNonCompositesAndResolvableMembers(t *testing.T) {
	res, err := newHarness(t, fixtureConfig(t)).Run(t.Context())
	require.NoError(t, err)
	require.Len(t, res.Components, 17)

	want := 0
	composites := 0
	for _, c := range res.Components {
		union, ok := delegate.Composite(c)
		if !ok {
			want++
			continue
		}
		composites++
		for _, member := range union.Members {
			if _, err := res.Strategy.Resolve(t.Context(), c, member); err == nil {
				want++
			}
		}
	}
	assert.Equal(t, 3, composites)
	assert.Equal(t, want, delegate.Count(res.Listing))
	assert.Equal(t, fixtureEntries, want)
}

func TestRunFlattensCompositeWithGitMember(t *testing.T) {
	res, err := newHarness(t, fixtureConfig(t)).Run(t.Context())
	require.NoError(t, err)

	var direct, delegated int
	for _, qd := range res.Listing["git"][delegate.BucketSteps] {
		require.Equal(t, "git", qd.Component.Name)
		if qd.Parent == nil {
			direct++
			continue
		}
		delegated++
		assert.Equal(t, "checkout", qd.Parent.Name)
		assert.Equal(t, extension.Capability("scm"), qd.Component.Capability)
	}
	assert.Equal(t, 1, direct)
	assert.Equal(t, 1, delegated)

	scm := res.Listing["scm-api"][delegate.BucketSteps]
	require.Len(t, scm, 1)
	assert.Equal(t, "nullScm", scm[0].Component.Name)

	core := res.Listing[delegate.CoreOwner]
	assert.Equal(t, []string{"echo", "sleep", "mail"}, entryNames(core[delegate.BucketSteps]))
	assert.Equal(t, []string{"legacy"}, entryNames(core[delegate.BucketAdvanced]))
}

func TestRunNeverListsAdvancedUnderSteps(t *testing.T) {
	res, err := newHarness(t, fixtureConfig(t)).Run(t.Context())
	require.NoError(t, err)

	for owner, buckets := range res.Listing {
		for _, qd := range buckets[delegate.BucketSteps] {
			assert.False(t, qd.Component.Advanced, "%s/%s", owner, qd.Component.Name)
			if qd.Parent != nil {
				assert.False(t, qd.Parent.Advanced, "%s/%s", owner, qd.Component.Name)
			}
		}
	}

	artifacts := res.Listing["artifacts"]
	assert.Equal(t, []string{"archiveArtifacts"}, entryNames(artifacts[delegate.BucketSteps]))
	assert.Equal(t, []string{"fingerprint", "timestamps"}, entryNames(artifacts[delegate.BucketAdvanced]))
}

func TestRunIsDeterministic(t *testing.T) {
	first, err := newHarness(t, fixtureConfig(t)).Run(t.Context())
	require.NoError(t, err)
	second, err := newHarness(t, fixtureConfig(t)).Run(t.Context())
	require.NoError(t, err)

	assert.Equal(t, first.Listing.Document(), second.Listing.Document())
	assert.Equal(t, componentKeys(first.Components), componentKeys(second.Components))
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestRunOwnerOfIsTotalOverPluginComponents(t *testing.T) {
	res, err := newHarness(t, fixtureConfig(t)).Run(t.Context())
	require.NoError(t, err)

	for _, c := range res.Components {
		owner, err := res.Strategy.OwnerOf(c)
		if c.Origin.IsHost() {
			var unattributed *extension.UnattributedComponentError
			assert.ErrorAs(t, err, &unattributed, c.Name)
			continue
		}
		require.NoError(t, err, c.Name)
		assert.Equal(t, c.Origin.Owner(), owner.Name)
	}
	for owner, buckets := range res.Listing {
		for _, entries := range buckets {
			for _, qd := range entries {
				if owner == delegate.CoreOwner {
					assert.True(t, qd.Component.Origin.IsHost())
					continue
				}
				p, err := res.Strategy.OwnerOf(qd.Component)
				require.NoError(t, err, qd.Component.Name)
				assert.Equal(t, owner, p.Name)
			}
		}
	}
}

func TestRunToleratesSkippedPluginPhases(t *testing.T) {
	skip := reactor.SkipFunc(func(task reactor.Task) bool {
		return task.Host || strings.HasPrefix(task.Name, reactor.ListingTask("")) ||
			strings.HasPrefix(task.Name, reactor.PreparingTask(""))
	})
	res, err := newHarness(t, fixtureConfig(t), WithSkipStrategy(skip)).Run(t.Context())
	require.NoError(t, err)

	for _, p := range res.Plugins {
		assert.Equal(t, plugin.StateStarted, p.State(), p.Name)
	}
	assert.Equal(t, reactor.MilestoneCompleted, res.LastMilestone)
	assert.Equal(t, fixtureEntries, delegate.Count(res.Listing), "scopes are linked when preparation is skipped")
}

func TestRunStopsAtFailingTask(t *testing.T) {
	boom := errors.New("cannot load configuration")
	var seen atomic.Int32
	h := newHarness(t, fixtureConfig(t),
		WithTasks(reactor.Task{
			Name:      "Loading broken configuration",
			NotBefore: reactor.MilestoneExtensionsAugmented,
			Attains:   reactor.MilestoneSystemConfigLoaded,
			Run:       func(context.Context) error { return boom },
		}),
		WithObserver(reactor.ObserverFunc(func(reactor.Milestone) { seen.Add(1) })),
	)

	res, err := h.Run(t.Context())
	var failure *reactor.TaskFailure
	require.ErrorAs(t, err, &failure)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "Loading broken configuration", failure.Task)
	assert.Equal(t, reactor.MilestoneExtensionsAugmented, failure.LastMilestone)

	require.NotNil(t, res)
	assert.Equal(t, reactor.MilestoneExtensionsAugmented, res.LastMilestone)
	assert.Len(t, res.Milestones, int(reactor.MilestoneExtensionsAugmented))
	assert.EqualValues(t, len(res.Milestones), seen.Load())
	assert.Nil(t, res.Listing)
}

func TestRunLenientCatalog(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "good", "name: good\nversion: 1.0\nextensions: [{capability: step, type: good.Step, name: good}]\n")
	writePlugin(t, dir, "needs-missing", "name: needs-missing\nversion: 1.0\ndependencies: [{name: absent}]\n")
	writePlugin(t, dir, "broken", "name: broken\n")

	cfg := config.Default(dir)
	_, err := newHarness(t, cfg).Run(t.Context())
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeCatalog, xerrors.CodeOf(err))

	lenient := false
	cfg.Plugins.Strict = &lenient
	alerts := &recordingDispatcher{}
	res, err := newHarness(t, cfg, WithDispatcher(alerts)).Run(t.Context())
	require.NoError(t, err)
	assert.Len(t, res.Failures, 2)
	assert.Equal(t, 1, delegate.Count(res.Listing))

	require.Len(t, alerts.events, 2)
	for _, ev := range alerts.events {
		assert.Equal(t, xerrors.CodeCatalog, ev.Code)
		assert.Equal(t, xerrors.SeverityWarning, ev.Severity)
		assert.Equal(t, res.RunID, ev.RunID)
	}
}

func TestRunDispatchesFailure(t *testing.T) {
	alerts := &recordingDispatcher{}
	h := newHarness(t, fixtureConfig(t), WithDispatcher(alerts), WithTasks(reactor.Task{
		Name:      "Failing early",
		NotBefore: reactor.MilestoneStarted,
		Attains:   reactor.MilestonePluginsListed,
		Run:       func(context.Context) error { return errors.New("boom") },
	}))
	_, err := h.Run(t.Context())
	require.Error(t, err)
	require.Len(t, alerts.events, 1)
	assert.Equal(t, xerrors.CodeTaskFailure, alerts.events[0].Code)
}

type recordingDispatcher struct {
	events []alerting.Event
}

func (d *recordingDispatcher) Notify(_ context.Context, ev alerting.Event) error {
	d.events = append(d.events, ev)
	return nil
}

func TestRunReportsCycles(t *testing.T) {
	dir := t.TempDir()
	writePlugin(t, dir, "a", "name: a\nversion: 1.0\ndependencies: [{name: b}]\n")
	writePlugin(t, dir, "b", "name: b\nversion: 1.0\ndependencies: [{name: a}]\n")

	res, err := newHarness(t, config.Default(dir)).Run(t.Context())
	var cyc *reactor.CyclicDependencyError
	require.ErrorAs(t, err, &cyc)
	assert.Empty(t, res.Milestones)
	assert.Equal(t, reactor.MilestoneNone, res.LastMilestone)
}

func TestRunWritesMetricsTextfile(t *testing.T) {
	cfg := fixtureConfig(t)
	cfg.Metrics.Textfile = filepath.Join(t.TempDir(), "stepscope.prom")
	_, err := newHarness(t, cfg).Run(t.Context())
	require.NoError(t, err)

	raw, err := os.ReadFile(cfg.Metrics.Textfile)
	require.NoError(t, err)
	text := string(raw)
	assert.Contains(t, text, `stepscope_catalog_plugins{state="started"} 7`)
	assert.Contains(t, text, "stepscope_reactor_milestone 10")
	assert.Contains(t, text, "stepscope_delegate_unresolved_total 1")
	assert.True(t, strings.Contains(text, `stepscope_registry_scans_total{capability="step"} 1`))
}

func TestRunWithFinderOverride(t *testing.T) {
	finder := extension.FinderFunc(func(context.Context, extension.Capability) ([]extension.Component, error) {
		return []extension.Component{{Name: "fake", Type: "fake.Step", Capability: "step", Shape: extension.Simple{}}}, nil
	})
	res, err := newHarness(t, fixtureConfig(t), WithFinder(finder)).Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{delegate.CoreOwner}, res.Listing.Owners())
	assert.Equal(t, 1, delegate.Count(res.Listing))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)

	cfg := config.Default("plugins")
	cfg.Reactor.Workers = -1
	_, err = New(cfg)
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}

func writePlugin(t *testing.T, dir, name, manifest string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, name), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name, plugin.ManifestFile), []byte(manifest), 0o644))
}

func entryNames(entries []delegate.QuasiDescriptor) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Component.Name
	}
	return out
}

func componentKeys(components []extension.Component) []string {
	out := make([]string, len(components))
	for i, c := range components {
		out[i] = c.Origin.Owner() + "/" + c.Type
	}
	return out
}
