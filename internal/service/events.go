package service

import (
	"context"
	"log/slog"

	"github.com/evetabi/surebet/internal/domain"
)

// Publisher delivers committed facts to collaborators. Publishing happens
// after the transaction commits, so failures are logged and never undo state.
type Publisher interface {
	Publish(ctx context.Context, evt domain.Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, evt domain.Event) error

func (f PublisherFunc) Publish(ctx context.Context, evt domain.Event) error { return f(ctx, evt) }

// FanOut sends every event to all publishers, logging individual failures.
type FanOut struct {
	publishers []Publisher
	log        *slog.Logger
}

// NewFanOut builds a FanOut over the non-nil publishers.
func NewFanOut(publishers ...Publisher) *FanOut {
	f := &FanOut{log: slog.Default().With("component", "events")}
	for _, p := range publishers {
		if p != nil {
			f.publishers = append(f.publishers, p)
		}
	}
	return f
}

// Publish implements Publisher. It always returns nil.
func (f *FanOut) Publish(ctx context.Context, evt domain.Event) error {
	if f == nil {
		return nil
	}
	for _, p := range f.publishers {
		if err := p.Publish(ctx, evt); err != nil {
			f.log.Warn("publish failed", "type", evt.Type, "key", evt.Key(), "error", err)
		}
	}
	return nil
}

func publish(ctx context.Context, p Publisher, evt domain.Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, evt); err != nil {
		slog.Warn("publish failed", "type", evt.Type, "error", err)
	}
}
