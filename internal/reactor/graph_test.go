package reactor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "StepScope/internal/errors"
	"StepScope/pkg/logger"
	"StepScope/pkg/plugin"
)

func taskNames(tasks []Task) []string {
	names := make([]string, len(tasks))
	for i, t := range tasks {
		names[i] = t.Name
	}
	return names
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

func TestNewGraphOrdersByDependencies(t *testing.T) {
	g, err := NewGraph([]Task{
		{Name: "c", Requires: []string{"b"}, Attains: MilestonePluginsListed},
		{Name: "b", Requires: []string{"a"}, Attains: MilestonePluginsListed},
		{Name: "a", Attains: MilestonePluginsListed},
		{Name: "late", NotBefore: MilestonePluginsListed, Attains: MilestonePluginsStarted},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, g.Len())
	assert.Equal(t, []string{"a", "b", "c", "late"}, taskNames(g.Tasks()))

	late, ok := g.Task("late")
	require.True(t, ok)
	assert.Equal(t, MilestonePluginsListed, late.NotBefore)
}

func TestNewGraphDetectsCycles(t *testing.T) {
	tests := []struct {
		name  string
		tasks []Task
	}{
		{
			name: "two tasks",
			tasks: []Task{
				{Name: "a", Requires: []string{"b"}, Attains: MilestonePluginsListed},
				{Name: "b", Requires: []string{"a"}, Attains: MilestonePluginsListed},
			},
		},
		{
			name:  "self",
			tasks: []Task{{Name: "a", Requires: []string{"a"}, Attains: MilestonePluginsListed}},
		},
		{
			name: "through a milestone",
			tasks: []Task{
				{Name: "early", Requires: []string{"late"}, Attains: MilestonePluginsListed},
				{Name: "late", NotBefore: MilestonePluginsStarted, Attains: MilestoneExtensionsAugmented},
			},
		},
		{
			name:  "attains its own start milestone",
			tasks: []Task{{Name: "a", NotBefore: MilestonePluginsListed, Attains: MilestonePluginsListed}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGraph(tt.tasks)
			var cyc *CyclicDependencyError
			require.ErrorAs(t, err, &cyc)
			require.GreaterOrEqual(t, len(cyc.Cycle), 2)
			assert.Equal(t, cyc.Cycle[0], cyc.Cycle[len(cyc.Cycle)-1])
			assert.Equal(t, xerrors.CodeCyclicDependency, xerrors.CodeOf(err))
		})
	}
}

func TestNewGraphValidation(t *testing.T) {
	tests := []struct {
		name  string
		tasks []Task
		code  xerrors.Code
	}{
		{"unknown predecessor", []Task{{Name: "a", Requires: []string{"ghost"}, Attains: MilestonePluginsListed}}, xerrors.CodeInvalidArgument},
		{"duplicate", []Task{{Name: "a", Attains: MilestonePluginsListed}, {Name: "a", Attains: MilestonePluginsListed}}, xerrors.CodeConflict},
		{"no milestone", []Task{{Name: "a"}}, xerrors.CodeInvalidArgument},
		{"no name", []Task{{Attains: MilestonePluginsListed}}, xerrors.CodeInvalidArgument},
		{"reserved name", []Task{{Name: milestonePrefix + "x", Attains: MilestonePluginsListed}}, xerrors.CodeInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGraph(tt.tasks)
			require.Error(t, err)
			assert.Equal(t, tt.code, xerrors.CodeOf(err))
		})
	}
}

func loadPlugins(t *testing.T, manifests map[string]string) []*plugin.Plugin {
	t.Helper()
	dir := t.TempDir()
	for name, manifest := range manifests {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, name), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, name, plugin.ManifestFile), []byte(manifest), 0o644))
	}
	c, err := plugin.Load(t.Context(), dir, plugin.WithLogger(logger.Discard()))
	require.NoError(t, err)
	return c.Plugins()
}

func TestBuilderCreatesPluginAndHostTasks(t *testing.T) {
	plugins := loadPlugins(t, map[string]string{
		"git":         "name: git\nversion: 1.0\ndependencies: [{name: scm-api}, {name: credentials, optional: true}]\n",
		"scm-api":     "name: scm-api\nversion: 1.0\n",
		"credentials": "name: credentials\nversion: 1.0\n",
	})

	g, err := NewBuilder(nil).Build(plugins)
	require.NoError(t, err)
	assert.Equal(t, 3*3+5, g.Len())

	start, ok := g.Task(StartingTask("git"))
	require.True(t, ok)
	assert.ElementsMatch(t, []string{PreparingTask("git"), StartingTask("scm-api"), StartingTask("credentials")}, start.Requires)
	assert.Equal(t, MilestonePluginsPrepared, start.NotBefore)
	assert.Equal(t, MilestonePluginsStarted, start.Attains)

	names := taskNames(g.Tasks())
	assert.Less(t, indexOf(names, StartingTask("scm-api")), indexOf(names, StartingTask("git")))
	assert.Less(t, indexOf(names, StartingTask("git")), indexOf(names, TaskAugment))
	assert.Less(t, indexOf(names, TaskLoadJobs), indexOf(names, TaskUpdateJobs))

	augment, _ := g.Task(TaskAugment)
	assert.False(t, augment.Host)
	jobs, _ := g.Task(TaskLoadJobs)
	assert.True(t, jobs.Host)
}

func TestBuilderRejectsPluginCycles(t *testing.T) {
	plugins := loadPlugins(t, map[string]string{
		"a": "name: a\nversion: 1.0\ndependencies: [{name: b}]\n",
		"b": "name: b\nversion: 1.0\ndependencies: [{name: a}]\n",
	})
	_, err := NewBuilder(nil).Build(plugins)
	var cyc *CyclicDependencyError
	require.ErrorAs(t, err, &cyc)
	assert.Contains(t, cyc.Cycle, StartingTask("a"))
	assert.Contains(t, cyc.Cycle, StartingTask("b"))
}

func TestBuilderAcceptsExtraTasks(t *testing.T) {
	var ran bool
	g, err := NewBuilder(nil).Build(nil, Task{
		Name:      "Warm caches",
		NotBefore: MilestoneExtensionsAugmented,
		Attains:   MilestoneSystemConfigLoaded,
		Run:       func(context.Context) error { ran = true; return nil },
	})
	require.NoError(t, err)
	require.NoError(t, New(WithLogger(logger.Discard()), WithAuditLogger(logger.Discard())).Run(t.Context(), g, nil))
	assert.True(t, ran)
}
