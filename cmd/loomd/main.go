package main

import (
	"context"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"loom/internal/config"
	"loom/internal/logging"
	"loom/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open store", slog.Any("error", err))
		return
	}

	d, err := bootstrap(cfg, st, logger)
	if err != nil {
		logger.Error("create daemon", slog.Any("error", err))
		_ = st.Close()
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", slog.Any("error", err))
		return
	}

	<-ctx.Done()
	logger.Info("loomd shutting down")
}
