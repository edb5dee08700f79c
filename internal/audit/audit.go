// Package audit records quote lifecycle events in audit_logs.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Actions recorded by the pricing service.
const (
	ActionQuoteCalculated = "quote.calculated"
	ActionQuotesSwept     = "quotes.swept"
	EntityQuote           = "quote"
)

// ErrIncomplete rejects entries without action, entity or entity id.
var ErrIncomplete = errors.New("audit: entry requires action, entity and entity_id")

// Entry represents a record stored in audit_logs.
type Entry struct {
	TenantID string
	Actor    string
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

func (e Entry) validate() error {
	if e.Action == "" || e.Entity == "" || e.EntityID == "" {
		return ErrIncomplete
	}
	return nil
}

// Recorder persists audit entries.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// Execer is satisfied by pgxpool.Pool, pgx.Conn and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresLogger writes entries into audit_logs.
type PostgresLogger struct {
	db Execer
}

// NewPostgresLogger returns a logger bound to db.
func NewPostgresLogger(db Execer) *PostgresLogger {
	return &PostgresLogger{db: db}
}

const insertEntry = `INSERT INTO audit_logs (tenant_id, actor, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))
ON CONFLICT (action, entity, entity_id) DO NOTHING`

// Record persists the entry. Replays of the same action on the same entity are
// ignored.
func (l *PostgresLogger) Record(ctx context.Context, entry Entry) error {
	if l == nil || l.db == nil {
		return errors.New("audit: logger not initialised")
	}
	if err := entry.validate(); err != nil {
		return err
	}
	meta, err := json.Marshal(entry.Meta)
	if err != nil {
		return err
	}
	var at *time.Time
	if !entry.At.IsZero() {
		t := entry.At.UTC()
		at = &t
	}
	_, err = l.db.Exec(ctx, insertEntry, entry.TenantID, entry.Actor, entry.Action, entry.Entity, entry.EntityID, meta, at)
	return err
}

// SlogLogger writes entries to a structured logger when no database is configured.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger returns a logger bound to logger, or slog.Default when nil.
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLogger{logger: logger}
}

// Record logs the entry at Info.
func (l *SlogLogger) Record(ctx context.Context, entry Entry) error {
	if err := entry.validate(); err != nil {
		return err
	}
	l.logger.InfoContext(ctx, "audit",
		slog.String("tenant_id", entry.TenantID),
		slog.String("actor", entry.Actor),
		slog.String("action", entry.Action),
		slog.String("entity", entry.Entity),
		slog.String("entity_id", entry.EntityID),
		slog.Any("meta", entry.Meta),
		slog.Time("at", entry.At))
	return nil
}
