//go:build unix

package events

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// SignalSource maps process signals onto events. By default SIGUSR1 is a
// memory warning and SIGUSR2 a background transition.
type SignalSource struct {
	warning    os.Signal
	background os.Signal
	logger     *slog.Logger

	ready     chan struct{}
	readyOnce sync.Once
}

// NewSignalSource creates a SignalSource on SIGUSR1 and SIGUSR2.
func NewSignalSource(opts ...Option) *SignalSource {
	return NewSignalSourceFor(syscall.SIGUSR1, syscall.SIGUSR2, opts...)
}

// NewSignalSourceFor creates a SignalSource on custom signals.
func NewSignalSourceFor(warning, background os.Signal, opts ...Option) *SignalSource {
	o := buildOptions("signal-source", opts)
	return &SignalSource{
		warning:    warning,
		background: background,
		logger:     o.logger,
		ready:      make(chan struct{}),
	}
}

// Ready is closed once signal delivery is registered.
func (s *SignalSource) Ready() <-chan struct{} {
	return s.ready
}

// Run blocks until ctx is cancelled.
func (s *SignalSource) Run(ctx context.Context, obs Observer) error {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, s.warning, s.background)
	defer signal.Stop(ch)
	s.readyOnce.Do(func() { close(s.ready) })

	s.logger.Debug("Listening for resource signals", "warning", s.warning, "background", s.background)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-ch:
			switch sig {
			case s.warning:
				s.logger.Info("Memory warning signal received", "signal", sig)
				obs.OnMemoryWarning(ctx)
			case s.background:
				s.logger.Info("Background signal received", "signal", sig)
				obs.OnEnteredBackground(ctx)
			}
		}
	}
}
