package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/iouledger/internal/domain"
)

// Vault implements domain.Vault using PostgreSQL. Each state row carries the
// columns Criteria filters on; the full state is kept as JSONB.
type Vault struct {
	pool *pgxpool.Pool
}

// NewVault creates a new Vault backed by the given connection pool.
func NewVault(pool *pgxpool.Pool) *Vault {
	return &Vault{pool: pool}
}

// Query returns unconsumed states matching c in commit order.
func (v *Vault) Query(ctx context.Context, c domain.Criteria) ([]domain.StateAndRef, error) {
	query := `SELECT tx_id, output_index, body FROM states WHERE consumed_by IS NULL`
	args := []any{}
	argIdx := 1

	add := func(clause string, arg any) {
		query += fmt.Sprintf(" AND "+clause, argIdx)
		args = append(args, arg)
		argIdx++
	}
	if c.Kind != "" {
		add("kind = $%d", string(c.Kind))
	}
	if c.LinearID != "" {
		add("linear_id = $%d", c.LinearID)
	}
	if c.Owner != (common.Address{}) {
		add("owner = $%d", c.Owner.Hex())
	}
	if c.Currency != "" {
		add("currency = $%d", c.Currency)
	}
	if c.Participant != (common.Address{}) {
		add("$%d = ANY(participants)", c.Participant.Hex())
	}
	query += " ORDER BY seq"

	rows, err := v.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query states: %w", err)
	}
	defer rows.Close()

	var out []domain.StateAndRef
	for rows.Next() {
		var (
			txID string
			idx  int
			body []byte
		)
		if err := rows.Scan(&txID, &idx, &body); err != nil {
			return nil, fmt.Errorf("postgres: scan state: %w", err)
		}
		var s domain.State
		if err := json.Unmarshal(body, &s); err != nil {
			return nil, fmt.Errorf("postgres: decode state %s(%d): %w", txID, idx, err)
		}
		out = append(out, domain.StateAndRef{
			State: s,
			Ref:   domain.StateRef{TxID: common.HexToHash(txID), Index: idx},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate states: %w", err)
	}
	return out, nil
}

// Record stores stx, marks its inputs consumed and inserts its outputs in one
// database transaction. A transaction that is already recorded is left alone.
func (v *Vault) Record(ctx context.Context, stx domain.SignedTransaction) error {
	if got := stx.Tx.ID(); got != stx.ID {
		return fmt.Errorf("postgres: record %s: id does not match contents %s", stx.ID.Hex(), got.Hex())
	}
	body, err := json.Marshal(stx)
	if err != nil {
		return fmt.Errorf("postgres: marshal transaction %s: %w", stx.ID.Hex(), err)
	}

	tx, err := v.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin record %s: %w", stx.ID.Hex(), err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id := stx.ID.Hex()
	tag, err := tx.Exec(ctx,
		`INSERT INTO transactions (id, body) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		id, body,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert transaction %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	for _, ref := range stx.Tx.Inputs {
		if _, err := tx.Exec(ctx,
			`UPDATE states SET consumed_by = $1 WHERE tx_id = $2 AND output_index = $3 AND consumed_by IS NULL`,
			id, ref.TxID.Hex(), ref.Index,
		); err != nil {
			return fmt.Errorf("postgres: consume %s: %w", ref, err)
		}
	}

	const insertState = `
		INSERT INTO states (tx_id, output_index, kind, linear_id, owner, participants, currency, body)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	for i, s := range stx.Tx.Outputs {
		stateJSON, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("postgres: marshal state %d: %w", i, err)
		}
		var linearID, owner *string
		if s.IOU != nil {
			linearID = &s.IOU.LinearID
		}
		if s.Cash != nil {
			o := s.Cash.Owner.Address.Hex()
			owner = &o
		}
		parts := s.Participants()
		participants := make([]string, len(parts))
		for j, p := range parts {
			participants[j] = p.Address.Hex()
		}
		if _, err := tx.Exec(ctx, insertState,
			id, i, string(s.Kind()), linearID, owner, participants, domain.StateCurrency(s), stateJSON,
		); err != nil {
			return fmt.Errorf("postgres: insert state %s(%d): %w", id, i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit record %s: %w", id, err)
	}
	return nil
}

// Transaction returns a recorded transaction or domain.ErrNotFound.
func (v *Vault) Transaction(ctx context.Context, id domain.TxID) (domain.SignedTransaction, error) {
	var body []byte
	err := v.pool.QueryRow(ctx, `SELECT body FROM transactions WHERE id = $1`, id.Hex()).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SignedTransaction{}, fmt.Errorf("postgres: transaction %s: %w", id.Hex(), domain.ErrNotFound)
		}
		return domain.SignedTransaction{}, fmt.Errorf("postgres: get transaction %s: %w", id.Hex(), err)
	}
	var stx domain.SignedTransaction
	if err := json.Unmarshal(body, &stx); err != nil {
		return domain.SignedTransaction{}, fmt.Errorf("postgres: decode transaction %s: %w", id.Hex(), err)
	}
	return stx, nil
}

// Compile-time interface check.
var _ domain.Vault = (*Vault)(nil)
