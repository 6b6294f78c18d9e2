// Package vault keeps a node's committed transactions and the states they
// produced in process memory.
package vault

import (
	"context"
	"fmt"
	"sync"

	"github.com/alanyoungcy/iouledger/internal/domain"
)

type entry struct {
	state    domain.StateAndRef
	consumed bool
}

// Memory implements domain.Vault. States are returned in commit order.
type Memory struct {
	mu     sync.RWMutex
	txs    map[domain.TxID]domain.SignedTransaction
	states []entry
	index  map[domain.StateRef]int
}

// NewMemory creates an empty vault.
func NewMemory() *Memory {
	return &Memory{
		txs:   make(map[domain.TxID]domain.SignedTransaction),
		index: make(map[domain.StateRef]int),
	}
}

// Query returns unconsumed states matching c.
func (v *Memory) Query(_ context.Context, c domain.Criteria) ([]domain.StateAndRef, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var out []domain.StateAndRef
	for _, e := range v.states {
		if !e.consumed && c.Matches(e.state.State) {
			out = append(out, e.state)
		}
	}
	return out, nil
}

// Record consumes the transaction's inputs and adds its outputs. Inputs this
// vault never saw are ignored; recording the same id twice is a no-op.
func (v *Memory) Record(_ context.Context, stx domain.SignedTransaction) error {
	if got := stx.Tx.ID(); got != stx.ID {
		return fmt.Errorf("vault: record %s: id does not match contents %s", stx.ID.Hex(), got.Hex())
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.txs[stx.ID]; ok {
		return nil
	}
	for _, ref := range stx.Tx.Inputs {
		if i, ok := v.index[ref]; ok {
			v.states[i].consumed = true
		}
	}
	for i, s := range stx.Tx.Outputs {
		ref := stx.Tx.OutRef(i)
		v.index[ref] = len(v.states)
		v.states = append(v.states, entry{state: domain.StateAndRef{State: s, Ref: ref}})
	}
	v.txs[stx.ID] = stx
	return nil
}

// Transaction returns a recorded transaction.
func (v *Memory) Transaction(_ context.Context, id domain.TxID) (domain.SignedTransaction, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	stx, ok := v.txs[id]
	if !ok {
		return domain.SignedTransaction{}, fmt.Errorf("vault: transaction %s: %w", id.Hex(), domain.ErrNotFound)
	}
	return stx, nil
}

// Compile-time interface check.
var _ domain.Vault = (*Memory)(nil)
