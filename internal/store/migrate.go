package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	migrate "github.com/rubenv/sql-migrate"
)

const migrationTable = "schema_migrations"

// migrations is the ordered schema history. Each step is applied once and
// tracked in schema_migrations.
var migrations = &migrate.MemoryMigrationSource{
	Migrations: []*migrate.Migration{
		{
			Id: "0001_services",
			Up: []string{
				`CREATE TABLE IF NOT EXISTS services (
					id              TEXT PRIMARY KEY,
					name            TEXT NOT NULL,
					kind            TEXT NOT NULL,
					base_url        TEXT NOT NULL,
					status          TEXT NOT NULL DEFAULT 'unknown',
					auto_start      INTEGER NOT NULL DEFAULT 0,
					last_checked_at DATETIME,
					last_latency_ms INTEGER,
					updated_at      DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE TABLE IF NOT EXISTS probe_results (
					id          INTEGER PRIMARY KEY AUTOINCREMENT,
					service_id  TEXT NOT NULL REFERENCES services(id) ON DELETE CASCADE,
					status      TEXT NOT NULL,
					latency_ms  INTEGER NOT NULL DEFAULT 0,
					error_kind  TEXT,
					message     TEXT,
					checked_at  DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX IF NOT EXISTS idx_probe_results_service ON probe_results(service_id, checked_at)`,
			},
			Down: []string{
				`DROP TABLE IF EXISTS probe_results`,
				`DROP TABLE IF EXISTS services`,
			},
		},
		{
			Id: "0002_history",
			Up: []string{
				`CREATE TABLE IF NOT EXISTS conversations (
					id          TEXT PRIMARY KEY,
					title       TEXT,
					model       TEXT,
					created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE TABLE IF NOT EXISTS messages (
					id              TEXT PRIMARY KEY,
					conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
					role            TEXT NOT NULL,
					content         TEXT,
					model           TEXT DEFAULT '',
					attachments     TEXT,
					created_at      DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX IF NOT EXISTS idx_messages_conv ON messages(conversation_id, created_at)`,
			},
			Down: []string{
				`DROP TABLE IF EXISTS messages`,
				`DROP TABLE IF EXISTS conversations`,
			},
		},
	},
}

// RunMigrations applies every pending migration.
func RunMigrations(db *sql.DB, logger *slog.Logger) error {
	migrate.SetTable(migrationTable)
	n, err := migrate.Exec(db, "sqlite3", migrations, migrate.Up)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	if n > 0 {
		logger.Info("database migrated", "applied", n)
	}
	return nil
}

// SchemaVersion returns the id of the last applied migration, or "" for a
// fresh database.
func SchemaVersion(db *sql.DB) (string, error) {
	migrate.SetTable(migrationTable)
	records, err := migrate.GetMigrationRecords(db, "sqlite3")
	if err != nil {
		return "", fmt.Errorf("read migration records: %w", err)
	}
	if len(records) == 0 {
		return "", nil
	}
	return records[len(records)-1].Id, nil
}
