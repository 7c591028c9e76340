// Package main - точка входа фонового воркера ASCEND: напоминания о серии,
// прогрев кеша квестов и доставка уведомлений о новом ранге.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ascend-app/ascend/config"
	"github.com/ascend-app/ascend/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := app.NewLogger(cfg)
	defer func() { _ = log.Sync() }()

	worker, err := app.NewWorker(ctx, cfg, log, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := worker.Close(); err != nil {
			log.Errorf("close resources: %v", err)
		}
	}()

	return worker.Run(ctx)
}
