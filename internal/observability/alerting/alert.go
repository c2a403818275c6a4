package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	xerrors "StepScope/internal/errors"
)

// Channel 表示通知渠道。
type Channel string

const (
	ChannelLog Channel = "log"
)

// Event 描述一次需要上报的运行结果。
type Event struct {
	Code       xerrors.Code
	Message    string
	Severity   xerrors.Severity
	RunID      string
	Metadata   map[string]string
	OccurredAt time.Time
}

// EventFromError 根据运行 runID 中出现的错误构造事件。
func EventFromError(runID string, err error) Event {
	ev := Event{
		Code:       xerrors.CodeOf(err),
		Message:    err.Error(),
		Severity:   xerrors.SeverityOf(err),
		RunID:      runID,
		OccurredAt: time.Now().UTC(),
	}
	if e, ok := xerrors.From(err); ok {
		ev.Metadata = e.Metadata()
	}
	return ev
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件投递到所有已注册渠道。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 将事件转发给多个通知器，低于最低严重程度的事件会被丢弃。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
	min       xerrors.Severity
}

// NewFanout 创建一个新的 FanoutDispatcher。同一渠道后注册的通知器会替换先注册的。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set, min: xerrors.SeverityInfo}
}

// WithMinSeverity 丢弃低于 sev 的事件。
func (d *FanoutDispatcher) WithMinSeverity(sev xerrors.Severity) *FanoutDispatcher {
	d.min = sev
	return d
}

// Notify 按渠道顺序将事件投递给每个通知器。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil || rank(event.Severity) < rank(d.min) {
		return nil
	}
	var errs []error
	for _, ch := range slices.Sorted(maps.Keys(d.notifiers)) {
		if err := d.notifiers[ch].Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", ch, err))
		}
	}
	return errors.Join(errs...)
}

func rank(sev xerrors.Severity) int {
	switch sev {
	case xerrors.SeverityCritical:
		return 2
	case xerrors.SeverityWarning:
		return 1
	default:
		return 0
	}
}

// LogNotifier 将事件写入日志器，通常是审计日志器。
type LogNotifier struct {
	Logger *slog.Logger
}

// Channel 返回日志渠道。
func (n *LogNotifier) Channel() Channel { return ChannelLog }

// Notify 按严重程度对应的级别记录事件。
func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Logger == nil {
		return nil
	}
	level := slog.LevelInfo
	switch event.Severity {
	case xerrors.SeverityCritical:
		level = slog.LevelError
	case xerrors.SeverityWarning:
		level = slog.LevelWarn
	}
	attrs := []slog.Attr{
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("run", event.RunID),
		slog.Time("occurred_at", event.OccurredAt),
	}
	for _, k := range slices.Sorted(maps.Keys(event.Metadata)) {
		attrs = append(attrs, slog.String(k, event.Metadata[k]))
	}
	n.Logger.LogAttrs(ctx, level, event.Message, attrs...)
	return nil
}
