package notary

import (
	"context"
	"sync"

	"github.com/alanyoungcy/iouledger/internal/domain"
)

// MemoryUniqueness implements domain.UniquenessProvider in process.
type MemoryUniqueness struct {
	mu    sync.Mutex
	spent map[domain.StateRef]domain.TxID
}

// NewMemoryUniqueness creates an empty provider.
func NewMemoryUniqueness() *MemoryUniqueness {
	return &MemoryUniqueness{spent: make(map[domain.StateRef]domain.TxID)}
}

// Commit marks refs as consumed by txID, or returns a *domain.ConflictError
// for the first ref already consumed by another transaction.
func (m *MemoryUniqueness) Commit(_ context.Context, txID domain.TxID, refs []domain.StateRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ref := range refs {
		if by, ok := m.spent[ref]; ok && by != txID {
			return &domain.ConflictError{Ref: ref, ConsumedBy: by}
		}
	}
	for _, ref := range refs {
		m.spent[ref] = txID
	}
	return nil
}

// Compile-time interface check.
var _ domain.UniquenessProvider = (*MemoryUniqueness)(nil)
