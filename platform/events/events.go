// Package events translates operating system and remote notifications into
// resource events delivered to an Observer.
package events

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Event kinds.
const (
	KindMemoryWarning = "memory_warning"
	KindBackground    = "background"
)

// Observer reacts to resource events.
type Observer interface {
	OnMemoryWarning(ctx context.Context)
	OnEnteredBackground(ctx context.Context)
}

// Source delivers events to an Observer until ctx is cancelled.
type Source interface {
	Run(ctx context.Context, obs Observer) error
}

// Dispatch delivers an event of kind to obs. Unknown kinds are ignored and
// reported as false.
func Dispatch(ctx context.Context, obs Observer, kind string) bool {
	switch kind {
	case KindMemoryWarning:
		obs.OnMemoryWarning(ctx)
	case KindBackground:
		obs.OnEnteredBackground(ctx)
	default:
		return false
	}
	return true
}

// RunAll runs every source until ctx is cancelled or one of them fails.
// A failing source cancels the others.
func RunAll(ctx context.Context, obs Observer, sources ...Source) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, src := range sources {
		g.Go(func() error {
			return src.Run(ctx, obs)
		})
	}
	return g.Wait()
}

// Option configures a source.
type Option func(*sourceOptions)

type sourceOptions struct {
	logger *slog.Logger
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *sourceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(component string, opts []Option) sourceOptions {
	o := sourceOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With("component", component)
	return o
}
