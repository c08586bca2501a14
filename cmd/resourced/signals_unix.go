//go:build unix

package main

import (
	"log/slog"

	"github.com/c360/resourcekit/config"
	"github.com/c360/resourcekit/platform/events"
)

func signalSources(cfg config.EventsConfig, logger *slog.Logger) []events.Source {
	if !cfg.Signals {
		return nil
	}
	return []events.Source{events.NewSignalSource(events.WithLogger(logger))}
}
