package database

import (
	"context"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	return db, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS alerts (
		id                TEXT PRIMARY KEY,
		category          TEXT NOT NULL,
		severity          TEXT NOT NULL,
		status            TEXT NOT NULL,
		device_or_tank_id TEXT NOT NULL,
		facility_id       TEXT NOT NULL,
		zone              TEXT NOT NULL DEFAULT '',
		first_seen_at     TIMESTAMPTZ NOT NULL,
		last_seen_at      TIMESTAMPTZ NOT NULL,
		acknowledged_by   TEXT NOT NULL DEFAULT '',
		acknowledged_at   TIMESTAMPTZ,
		resolved_by       TEXT NOT NULL DEFAULT '',
		resolved_at       TIMESTAMPTZ,
		notes             JSONB NOT NULL DEFAULT '[]',
		readings_snapshot JSONB NOT NULL DEFAULT '{}',
		actions           JSONB NOT NULL DEFAULT '[]'
	)`,
	`CREATE INDEX IF NOT EXISTS alerts_facility_first_seen ON alerts (facility_id, first_seen_at)`,
	`CREATE TABLE IF NOT EXISTS water_tanks (
		tank_id                       TEXT PRIMARY KEY,
		facility_id                   TEXT NOT NULL,
		zone                          TEXT NOT NULL DEFAULT '',
		current_level_pct             DOUBLE PRECISION NOT NULL,
		status                        TEXT NOT NULL,
		capacity_liters               DOUBLE PRECISION NOT NULL DEFAULT 0,
		municipality_name             TEXT NOT NULL DEFAULT '',
		municipality_phone            TEXT NOT NULL DEFAULT '',
		municipality_email            TEXT NOT NULL DEFAULT '',
		municipality_last_notified_at TIMESTAMPTZ,
		sprinklers_disabled           BOOLEAN NOT NULL DEFAULT FALSE,
		affected_device_ids           JSONB NOT NULL DEFAULT '[]',
		updated_at                    TIMESTAMPTZ NOT NULL
	)`,
}

// Migrate creates the tables the alert and tank repositories write to.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
