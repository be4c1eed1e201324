package main

import (
	"log/slog"

	"loom/internal/config"
	"loom/internal/daemon"
	"loom/internal/store"
	"loom/internal/watchdog"
)

func bootstrap(cfg *config.Config, st *store.Store, logger *slog.Logger) (*daemon.Daemon, error) {
	wd, err := watchdog.New(cfg, st, logger)
	if err != nil {
		return nil, err
	}
	return daemon.New(cfg, st, logger, wd)
}
