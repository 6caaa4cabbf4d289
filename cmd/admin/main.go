package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/BarkinBalci/event-ingestion-service/internal/config"
	"github.com/BarkinBalci/event-ingestion-service/internal/logger"
	"github.com/BarkinBalci/event-ingestion-service/internal/repository/postgres"
)

const commandTimeout = time.Minute

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		printUsage()
		return
	}

	cfg, err := config.LoadAdmin()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	baseLog, err := logger.New(cfg.Service.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	log := logger.Named(baseLog, "admin")
	defer func() {
		_ = baseLog.Sync()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	pool, err := postgres.Connect(ctx, &cfg.Postgres, log)
	if err != nil {
		log.Error("Failed to connect to PostgreSQL", zap.Error(err))
		os.Exit(1)
	}
	defer pool.Close()

	if err := run(ctx, cmd, args, pool, log); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd string, args []string, pool *pgxpool.Pool, log *zap.Logger) error {
	repo := postgres.NewRepository(pool)

	switch cmd {
	case "migrate":
		return commandMigrate(ctx, args, postgres.NewMigrator(pool, log), os.Stdout)
	case "create-client":
		return commandCreateClient(ctx, args, repo, os.Stdout)
	case "activate":
		return commandSetActive(ctx, "activate", args, repo, true, os.Stdout)
	case "deactivate":
		return commandSetActive(ctx, "deactivate", args, repo, false, os.Stdout)
	case "list":
		return commandList(ctx, repo, os.Stdout)
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: admin <command> [flags]

commands:
  migrate up|down|version   manage the registry schema (down accepts -target)
  create-client             register a client (-name, -rate-limit) and print its API key
  activate -id <id>         allow a client to submit events
  deactivate -id <id>       reject a client's events with 403
  list                      list registered clients`)
}
