package extension

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "StepScope/internal/errors"
	"StepScope/pkg/logger"
	"StepScope/pkg/plugin"
)

const hostManifest = `
extensions:
  - capability: step
    type: core.Echo
    name: echo
`

var manifests = map[string]string{
	"scm-api": `
name: scm-api
version: 2.6.5
extensions:
  - capability: scm
    type: scm.Git
    name: git
  - capability: step
    type: scm.Checkout
    name: checkout
`,
	"workflow": `
name: workflow
version: 1.0
dependencies: [{name: scm-api}]
extensions:
  - capability: step
    type: workflow.Node
    name: node
  - capability: step
    type: workflow.Archive
    name: archive
    advanced: true
  - capability: step
    type: workflow.Core
    name: step
    meta: true
    parameters:
      - name: delegate
        required: true
        oneOf: [scm.Git, workflow.Missing]
`,
	"stray": `
name: stray
version: 1.0
extensions:
  - capability: step
    type: stray.Step
    name: stray
`,
}

func newCatalog(t *testing.T, start ...string) *plugin.Catalog {
	t.Helper()
	dir := t.TempDir()
	for name, manifest := range manifests {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, name), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, name, plugin.ManifestFile), []byte(manifest), 0o644))
	}
	hostPath := filepath.Join(t.TempDir(), "core.yaml")
	require.NoError(t, os.WriteFile(hostPath, []byte(hostManifest), 0o644))

	c, err := plugin.Load(t.Context(), dir, plugin.WithHostManifest(hostPath), plugin.WithLogger(logger.Discard()))
	require.NoError(t, err)
	for _, name := range start {
		p, ok := c.Plugin(name)
		require.True(t, ok)
		require.NoError(t, c.Link(name))
		require.True(t, p.Transition(plugin.StateRegistered, plugin.StateStarted))
	}
	return c
}

func names(components []Component) []string {
	out := make([]string, len(components))
	for i, c := range components {
		out[i] = c.Name
	}
	return out
}

func TestStrategyIsNotReadyUntilSealed(t *testing.T) {
	s := NewStrategy(newCatalog(t, "scm-api", "workflow"), WithLogger(logger.Discard()))
	_, err := s.FindComponents(t.Context(), "step")
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeNotReady, xerrors.CodeOf(err))
	assert.False(t, s.Registry().Cached("step"))

	s.Seal()
	found, err := s.FindComponents(t.Context(), "step")
	require.NoError(t, err)
	assert.NotEmpty(t, found)
}

func TestStrategyOrdersHostThenPluginsByName(t *testing.T) {
	s := NewStrategy(newCatalog(t, "scm-api", "workflow"), WithLogger(logger.Discard()))
	s.Seal()

	found, err := s.FindComponents(t.Context(), "step")
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", "checkout", "node", "archive", "step"}, names(found), "stray has not started")

	again, err := s.FindComponents(t.Context(), "step")
	require.NoError(t, err)
	assert.Equal(t, found, again)

	meta, ok := found[4].Shape.(Meta)
	require.True(t, ok)
	require.Len(t, meta.Parameters, 1)
	assert.Equal(t, UnionType{Members: []string{"scm.Git", "workflow.Missing"}}, meta.Parameters[0].Type)
	assert.True(t, found[3].Advanced)
}

func TestStrategyOwnerOf(t *testing.T) {
	c := newCatalog(t, "scm-api", "workflow")
	s := NewStrategy(c, WithLogger(logger.Discard()))
	s.Seal()

	found, err := s.FindComponents(t.Context(), "step")
	require.NoError(t, err)

	for _, comp := range found[1:] {
		owner, err := s.OwnerOf(comp)
		require.NoError(t, err, comp.Name)
		assert.Equal(t, comp.Origin.Owner(), owner.Name)
	}

	_, err = s.OwnerOf(found[0])
	var unattributed *UnattributedComponentError
	require.ErrorAs(t, err, &unattributed)
	assert.Equal(t, "echo", unattributed.Component)
	assert.Equal(t, xerrors.CodeUnattributedComponent, xerrors.CodeOf(err))
}

func TestStrategyResolveThroughScopeChain(t *testing.T) {
	s := NewStrategy(newCatalog(t, "scm-api", "workflow"), WithLogger(logger.Discard()))
	s.Seal()

	found, err := s.FindComponents(t.Context(), "step")
	require.NoError(t, err)
	meta := found[4]

	git, err := s.Resolve(t.Context(), meta, "scm.Git")
	require.NoError(t, err)
	assert.Equal(t, "git", git.Name)
	assert.Equal(t, Capability("scm"), git.Capability)
	assert.Equal(t, "scm-api", git.Origin.Owner())

	owner, err := s.OwnerOf(git)
	require.NoError(t, err)
	assert.Equal(t, "scm-api", owner.Name)
	assert.Equal(t, 1, s.Registry().Scans("scm"))

	_, err = s.Resolve(t.Context(), meta, "workflow.Missing")
	var unresolved *UnresolvedDelegateError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, "workflow.Missing", unresolved.TypeID)
	assert.Equal(t, xerrors.CodeUnresolvedDelegate, xerrors.CodeOf(err))

	_, err = s.Resolve(t.Context(), found[0], "scm.Git")
	require.ErrorAs(t, err, &unresolved, "host scope does not see plugins")
}

func TestStrategyWithFinderOverride(t *testing.T) {
	finder := &countingFinder{}
	s := NewStrategy(newCatalog(t), WithFinder(finder), WithLogger(logger.Discard()))
	found, err := s.FindComponents(t.Context(), "step")
	require.NoError(t, err)
	assert.Len(t, found, 2)
	assert.EqualValues(t, 1, finder.calls.Load())
}
