package harness

import (
	"context"
	"fmt"
	"log/slog"

	xerrors "StepScope/internal/errors"
	"StepScope/internal/extension"
	"StepScope/internal/reactor"
	"StepScope/pkg/plugin"
)

// lifecycle advances plugins through their states and seals discovery once
// every plugin has started.
type lifecycle struct {
	catalog  *plugin.Catalog
	strategy *extension.Strategy
}

func (l *lifecycle) List(ctx context.Context, p *plugin.Plugin) error {
	if err := advance(p, plugin.StateListed); err != nil {
		return err
	}
	reactor.Logger(ctx).Debug("plugin listed", slog.String("version", p.Version.Original()), slog.String("archive", p.Archive))
	return nil
}

func (l *lifecycle) Prepare(ctx context.Context, p *plugin.Plugin) error {
	if err := l.catalog.Link(p.Name); err != nil {
		p.Fail()
		return err
	}
	if err := advance(p, plugin.StatePrepared); err != nil {
		return err
	}
	reactor.Logger(ctx).Debug("plugin prepared", slog.Any("requires", p.Requires()))
	return nil
}

func (l *lifecycle) Start(ctx context.Context, p *plugin.Plugin) error {
	if rank, ok := phase[p.State()]; ok && rank < phase[plugin.StatePrepared] {
		if err := l.catalog.Link(p.Name); err != nil {
			p.Fail()
			return err
		}
	}
	if err := advance(p, plugin.StateStarted); err != nil {
		return err
	}
	reactor.Logger(ctx).Debug("plugin started")
	return nil
}

func (l *lifecycle) Augment(ctx context.Context) error {
	l.strategy.Seal()
	reactor.Logger(ctx).Debug("extension discovery sealed")
	return nil
}

func (l *lifecycle) HostWork(ctx context.Context, m reactor.Milestone) error {
	reactor.Logger(ctx).Debug("host work has no effect outside the host", slog.String("attains", m.String()))
	return nil
}

// phase orders the states a plugin moves through. A skipped task leaves the
// plugin behind, so a later phase may advance it past the skipped ones.
var phase = map[plugin.State]int{
	plugin.StateRegistered: 1,
	plugin.StateListed:     2,
	plugin.StatePrepared:   3,
	plugin.StateStarted:    4,
}

func advance(p *plugin.Plugin, to plugin.State) error {
	for {
		from := p.State()
		if rank, ok := phase[from]; !ok || rank >= phase[to] {
			p.Fail()
			return xerrors.New(xerrors.CodeConflict,
				fmt.Sprintf("plugin %s is %s, cannot move to %s", p.Name, from, to),
				xerrors.WithMetadata("plugin", p.Name))
		}
		if p.Transition(from, to) {
			return nil
		}
	}
}
