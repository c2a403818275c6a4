package alerting

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "StepScope/internal/errors"
)

type recordingNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (n *recordingNotifier) Channel() Channel { return n.channel }

func (n *recordingNotifier) Notify(_ context.Context, ev Event) error {
	n.events = append(n.events, ev)
	return n.err
}

func TestEventFromError(t *testing.T) {
	err := xerrors.New(xerrors.CodeTaskFailure, "start failed", xerrors.WithMetadata("plugin", "git"))
	ev := EventFromError("run-1", err)
	assert.Equal(t, xerrors.CodeTaskFailure, ev.Code)
	assert.Equal(t, xerrors.SeverityOf(err), ev.Severity)
	assert.Equal(t, "run-1", ev.RunID)
	assert.Equal(t, map[string]string{"plugin": "git"}, ev.Metadata)
	assert.False(t, ev.OccurredAt.IsZero())

	plain := EventFromError("run-2", errors.New("plain"))
	assert.Equal(t, xerrors.CodeUnknown, plain.Code)
	assert.Nil(t, plain.Metadata)
}

func TestFanoutFiltersBySeverity(t *testing.T) {
	n := &recordingNotifier{channel: "test"}
	d := NewFanout(n, nil).WithMinSeverity(xerrors.SeverityWarning)

	require.NoError(t, d.Notify(t.Context(), Event{Severity: xerrors.SeverityInfo}))
	require.NoError(t, d.Notify(t.Context(), Event{Severity: xerrors.SeverityWarning}))
	require.NoError(t, d.Notify(t.Context(), Event{Severity: xerrors.SeverityCritical}))
	assert.Len(t, n.events, 2)
}

func TestFanoutJoinsErrors(t *testing.T) {
	boom := errors.New("unreachable")
	failing := &recordingNotifier{channel: "a", err: boom}
	ok := &recordingNotifier{channel: "b"}
	err := NewFanout(failing, ok).Notify(t.Context(), Event{Severity: xerrors.SeverityCritical})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "channel a")
	assert.Len(t, ok.events, 1)

	var nilDispatcher *FanoutDispatcher
	assert.NoError(t, nilDispatcher.Notify(t.Context(), Event{}))
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := &LogNotifier{Logger: slog.New(slog.NewTextHandler(&buf, nil))}
	require.NoError(t, n.Notify(t.Context(), Event{
		Code:     xerrors.CodeCatalog,
		Message:  "missing dependency scm-api",
		Severity: xerrors.SeverityWarning,
		RunID:    "r",
		Metadata: map[string]string{"plugin": "git"},
	}))
	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "code=CATALOG_ERROR")
	assert.Contains(t, out, "plugin=git")

	assert.NoError(t, (&LogNotifier{}).Notify(t.Context(), Event{}))
}
