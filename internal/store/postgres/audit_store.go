package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/iouledger/internal/domain"
)

const defaultRecentLimit = 50

// AuditStore is the PostgreSQL event log. Each row keeps the indexed columns
// next to the whole event as JSONB.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates an AuditStore on pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends ev. A zero At is stamped with the current time.
func (s *AuditStore) Log(ctx context.Context, ev domain.TxEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	detail, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("postgres: marshal %s event: %w", ev.Event, err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_log (event, node, protocol, tx_id, detail, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)`,
		ev.Event, ev.Node, ev.Protocol, ev.TxID, detail, ev.At)
	if err != nil {
		return fmt.Errorf("postgres: log %s event: %w", ev.Event, err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (s *AuditStore) Recent(ctx context.Context, limit int) ([]domain.TxEvent, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT detail FROM audit_log ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent events: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.TxEvent, error) {
		var raw []byte
		var ev domain.TxEvent
		if err := row.Scan(&raw); err != nil {
			return ev, err
		}
		return ev, json.Unmarshal(raw, &ev)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: recent events: %w", err)
	}
	return events, nil
}

// Compile-time interface check.
var _ domain.EventLog = (*AuditStore)(nil)
