package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	migrationsDir    = "migrations"
	migrationTimeout = time.Minute
)

// Migrator applies the embedded registry and audit migrations with goose.
type Migrator struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// NewMigrator returns a migrator bound to pool.
func NewMigrator(pool *pgxpool.Pool, log *zap.Logger) *Migrator {
	return &Migrator{pool: pool, log: log}
}

// Up applies all pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	return m.run(ctx, func(ctx context.Context, db *sql.DB) error {
		m.log.Info("Applying migrations")
		if err := goose.UpContext(ctx, db, migrationsDir); err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		m.log.Info("Migrations applied")
		return nil
	})
}

// Down rolls back the latest migration, or down to target when target > 0.
func (m *Migrator) Down(ctx context.Context, target int64) error {
	return m.run(ctx, func(ctx context.Context, db *sql.DB) error {
		if target > 0 {
			m.log.Info("Rolling back migrations", zap.Int64("target", target))
			if err := goose.DownToContext(ctx, db, migrationsDir, target); err != nil {
				return fmt.Errorf("failed to roll back to version %d: %w", target, err)
			}
			return nil
		}

		m.log.Info("Rolling back latest migration")
		if err := goose.DownContext(ctx, db, migrationsDir); err != nil {
			return fmt.Errorf("failed to roll back latest migration: %w", err)
		}
		return nil
	})
}

// Version returns the currently applied schema version.
func (m *Migrator) Version(ctx context.Context) (int64, error) {
	var version int64
	err := m.run(ctx, func(ctx context.Context, db *sql.DB) error {
		v, err := goose.GetDBVersionContext(ctx, db)
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}
		version = v
		return nil
	})
	return version, err
}

func (m *Migrator) run(ctx context.Context, fn func(context.Context, *sql.DB) error) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to configure goose: %w", err)
	}

	db := stdlib.OpenDBFromPool(m.pool)
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, migrationTimeout)
	defer cancel()

	return fn(ctx, db)
}
