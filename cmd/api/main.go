// Package main - точка входа HTTP API и Telegram-бота ASCEND.
//
// Процесс обслуживает mini app (/api/*), принимает апдейты бота (long polling
// или webhook) и публикует доменные события для воркера.
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

	api, err := app.NewAPI(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := api.Close(); err != nil {
			log.Errorf("close resources: %v", err)
		}
	}()

	return api.Run(ctx)
}
