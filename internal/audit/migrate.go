package audit

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// schemaVersion is the version a fully migrated database reports.
const schemaVersion = 3

type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations are applied in order, each exactly once, tracked in schema_version.
var migrations = []migration{
	{
		Version:     1,
		Description: "command_runs",
		SQL: `
		CREATE TABLE IF NOT EXISTS command_runs (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			batch_id    TEXT NOT NULL,
			command     TEXT NOT NULL,
			args        TEXT,
			redirect    TEXT,
			outcome     TEXT NOT NULL,
			report      TEXT,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_command_runs_batch ON command_runs(batch_id);
		CREATE INDEX IF NOT EXISTS idx_command_runs_time ON command_runs(created_at);
		`,
	},
	{
		Version:     2,
		Description: "exchanges",
		SQL: `
		CREATE TABLE IF NOT EXISTS exchanges (
			id          TEXT PRIMARY KEY,
			provider    TEXT,
			prompt      TEXT,
			response    TEXT,
			tool_call   TEXT,
			latency_ms  INTEGER DEFAULT 0,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_exchanges_time ON exchanges(created_at);
		`,
	},
	{
		Version:     3,
		Description: "exchange token usage",
		SQL: `
		ALTER TABLE exchanges ADD COLUMN prompt_tokens INTEGER DEFAULT 0;
		ALTER TABLE exchanges ADD COLUMN completion_tokens INTEGER DEFAULT 0;
		`,
	},
}

// runMigrations applies every migration newer than the recorded version.
func runMigrations(db *sql.DB, logger *slog.Logger) error {
	if err := ensureVersionTable(db); err != nil {
		return err
	}

	current, err := getSchemaVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logger.Debug("applying migration", "version", m.Version, "description", m.Description)

		if err := applyMigration(db, m); err != nil {
			// A column added by hand or by an interrupted upgrade makes the
			// batch fail; retry statement by statement, skipping duplicates.
			logger.Warn("migration failed, retrying per statement", "version", m.Version, "err", err)
			if err := applyMigrationStatements(db, m, logger); err != nil {
				return err
			}
		}
	}
	return nil
}

func ensureVersionTable(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}
	return nil
}

func applyMigration(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration v%d: %w", m.Version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
		m.Version, m.Description,
	); err != nil {
		return fmt.Errorf("record migration v%d: %w", m.Version, err)
	}
	return tx.Commit()
}

func applyMigrationStatements(db *sql.DB, m migration, logger *slog.Logger) error {
	for _, stmt := range splitSQL(m.SQL) {
		if _, err := db.Exec(stmt); err != nil {
			msg := strings.ToLower(err.Error())
			if strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists") {
				logger.Debug("migration statement already applied", "stmt", truncate(stmt, 60))
				continue
			}
			return fmt.Errorf("migration v%d statement failed: %w\nSQL: %s", m.Version, err, truncate(stmt, 200))
		}
	}
	if _, err := db.Exec(
		"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
		m.Version, m.Description,
	); err != nil {
		return fmt.Errorf("record migration v%d: %w", m.Version, err)
	}
	return nil
}

// getSchemaVersion returns 0 for a database that was never migrated.
func getSchemaVersion(db *sql.DB) (int, error) {
	var exists int
	if err := db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&exists); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}
	var v int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return v, nil
}

// splitSQL splits a multi-statement script on semicolons. Statements in
// migrations never contain a semicolon inside a literal.
func splitSQL(script string) []string {
	var out []string
	for _, s := range strings.Split(script, ";") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
