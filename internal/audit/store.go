// Package audit keeps a SQLite history of executed commands and model exchanges.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"cmdagent/internal/domain"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.AuditStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ domain.AuditStore = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if logger == nil {
		logger = slog.Default()
	}
	store := &SQLiteStore{db: db, logger: logger}

	if err := runMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) RecordCommand(ctx context.Context, rec domain.CommandRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	args, err := json.Marshal(rec.Args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO command_runs (batch_id, command, args, redirect, outcome, report, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.BatchID, rec.Command, string(args), rec.Redirect, rec.Outcome, rec.Report, rec.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) RecordExchange(ctx context.Context, rec domain.ExchangeRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO exchanges (id, provider, prompt, response, tool_call, latency_ms, prompt_tokens, completion_tokens, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Provider, rec.Prompt, rec.Response, rec.ToolCall, rec.LatencyMs,
		rec.PromptTokens, rec.CompletionTokens, rec.CreatedAt,
	)
	return err
}

// RecentCommands returns the last limit commands, oldest first.
func (s *SQLiteStore) RecentCommands(ctx context.Context, limit int) ([]domain.CommandRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, batch_id, command, args, redirect, outcome, report, created_at
		 FROM command_runs ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []domain.CommandRecord
	for rows.Next() {
		var r domain.CommandRecord
		var args, redirect, report sql.NullString
		if err := rows.Scan(&r.ID, &r.BatchID, &r.Command, &args, &redirect, &r.Outcome, &report, &r.CreatedAt); err != nil {
			return nil, err
		}
		if args.Valid && args.String != "" {
			if err := json.Unmarshal([]byte(args.String), &r.Args); err != nil {
				s.logger.Warn("corrupt args in audit log", "id", r.ID, "err", err)
			}
		}
		r.Redirect = redirect.String
		r.Report = report.String
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	return recs, nil
}

// RecentExchanges returns the last limit exchanges, oldest first.
func (s *SQLiteStore) RecentExchanges(ctx context.Context, limit int) ([]domain.ExchangeRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, provider, prompt, response, tool_call, latency_ms, prompt_tokens, completion_tokens, created_at
		 FROM exchanges ORDER BY rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []domain.ExchangeRecord
	for rows.Next() {
		var r domain.ExchangeRecord
		var provider, prompt, response, toolCall sql.NullString
		if err := rows.Scan(&r.ID, &provider, &prompt, &response, &toolCall, &r.LatencyMs, &r.PromptTokens, &r.CompletionTokens, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Provider = provider.String
		r.Prompt = prompt.String
		r.Response = response.String
		r.ToolCall = toolCall.String
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	return recs, nil
}

// Prune deletes history older than retention. It returns the number of rows removed.
func (s *SQLiteStore) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	var total int64
	for _, table := range []string{"command_runs", "exchanges"} {
		res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE created_at < ?`, cutoff)
		if err != nil {
			return total, fmt.Errorf("prune %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if total > 0 {
		s.logger.Info("pruned audit history", "rows", total, "cutoff", cutoff)
	}
	return total, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
