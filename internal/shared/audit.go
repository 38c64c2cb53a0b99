package shared

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	ActorID  int64          `json:"actor_id"`
	Action   string         `json:"action"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entity_id"`
	Meta     map[string]any `json:"meta,omitempty"`
	At       time.Time      `json:"at"`
}

// Validate checks the mandatory fields.
func (l AuditLog) Validate() error {
	if l.Action == "" || l.Entity == "" || l.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	return nil
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.pool == nil {
		return errors.New("audit logger not initialised")
	}
	if err := log.Validate(); err != nil {
		return err
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	var at any
	if !log.At.IsZero() {
		at = log.At
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`, log.ActorID, log.Action, log.Entity, log.EntityID, metaJSON, at)
	return err
}

// AuditBuffer keeps audit records in memory for single process deployments and tests.
type AuditBuffer struct {
	mu      sync.Mutex
	entries []AuditLog
	limit   int
}

// NewAuditBuffer keeps at most limit entries, dropping the oldest.
func NewAuditBuffer(limit int) *AuditBuffer {
	if limit <= 0 {
		limit = 1000
	}
	return &AuditBuffer{limit: limit}
}

// Record appends the entry.
func (b *AuditBuffer) Record(_ context.Context, log AuditLog) error {
	if err := log.Validate(); err != nil {
		return err
	}
	if log.At.IsZero() {
		log.At = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, log)
	if over := len(b.entries) - b.limit; over > 0 {
		b.entries = append([]AuditLog(nil), b.entries[over:]...)
	}
	return nil
}

// Entries returns a copy of the buffered records.
func (b *AuditBuffer) Entries() []AuditLog {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]AuditLog, len(b.entries))
	copy(out, b.entries)
	return out
}
