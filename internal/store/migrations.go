package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// migration is one numbered schema step. Steps are applied in order and
// recorded in the migrations table so each runs once.
type migration struct {
	num       int
	operation string
	stmts     []string
}

var migrations = []migration{
	{1, "create catalog tables", []string{
		`CREATE TABLE IF NOT EXISTS available_models (
			uid TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			conn_type TEXT NOT NULL,
			created_at TEXT NOT NULL,
			last_updated TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS conn_type_params (
			uid TEXT NOT NULL REFERENCES available_models(uid) ON DELETE CASCADE,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (uid, key)
		)`,
		`CREATE TABLE IF NOT EXISTS model_params (
			uid TEXT NOT NULL REFERENCES available_models(uid) ON DELETE CASCADE,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (uid, key)
		)`,
	}},
	{2, "index models by connection type", []string{
		`CREATE INDEX IF NOT EXISTS idx_available_models_conn_type ON available_models(conn_type)`,
	}},
}

// CurrentSchemaVersion is the number of the last known migration.
var CurrentSchemaVersion = migrations[len(migrations)-1].num

// MigrationResult reports what Migrate did.
type MigrationResult struct {
	FromVersion   int
	ToVersion     int
	MigrationsRun int
	Duration      time.Duration
}

func migrate(ctx context.Context, db *sql.DB, log *zap.Logger) (MigrationResult, error) {
	start := time.Now()
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS migrations (
		num INTEGER PRIMARY KEY,
		operation TEXT NOT NULL,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return MigrationResult{}, fmt.Errorf("create migrations table: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(num), 0) FROM migrations`).Scan(&current); err != nil {
		return MigrationResult{}, fmt.Errorf("read schema version: %w", err)
	}
	res := MigrationResult{FromVersion: current, ToVersion: current}

	for _, m := range migrations {
		if m.num <= current {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return res, err
		}
		log.Info("migration applied", zap.Int("num", m.num), zap.String("operation", m.operation))
		res.ToVersion = m.num
		res.MigrationsRun++
	}
	res.Duration = time.Since(start)
	return res, nil
}

func applyMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration %d: begin: %w", m.num, err)
	}
	defer tx.Rollback()
	for _, stmt := range m.stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.num, m.operation, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO migrations (num, operation, applied_at) VALUES (?, ?, ?)`,
		m.num, m.operation, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("migration %d: record: %w", m.num, err)
	}
	return tx.Commit()
}
