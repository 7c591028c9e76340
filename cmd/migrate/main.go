// Package main применяет миграции схемы к хранилищу из STORE_DRIVER.
//
//	migrate -direction up
//	migrate -direction down
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/ascend-app/ascend/config"
	"github.com/ascend-app/ascend/internal/app"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up or down")
	flag.Parse()

	if err := run(context.Background(), *direction); err != nil {
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, direction string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := app.NewLogger(cfg)
	defer func() { _ = log.Sync() }()

	return app.Migrate(ctx, cfg, direction, log)
}
