package escrow

import (
	"context"
	"errors"
	"sync"
	"time"
)

type memoryRepository struct {
	mu           sync.RWMutex
	transactions map[string]Transaction
	logs         map[string][]LogEntry
}

// NewMemoryRepository constructs an in-memory repository, used when no
// database is configured and in tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		transactions: make(map[string]Transaction),
		logs:         make(map[string][]LogEntry),
	}
}

func (r *memoryRepository) Create(_ context.Context, tx Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.transactions[tx.ID]; exists {
		return errors.New("escrow transaction exists")
	}
	r.transactions[tx.ID] = tx
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tx, ok := r.transactions[id]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	return tx, nil
}

func (r *memoryRepository) UpdateStatus(_ context.Context, id string, from, to Status, update Update) (Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, ok := r.transactions[id]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	if tx.Status != from {
		return Transaction{}, ErrStatusConflict
	}

	tx.Status = to
	tx.UpdatedAt = time.Now().UTC()
	if update.Fee != nil {
		tx.Fee = *update.Fee
	}
	if update.TotalAmount != nil {
		tx.TotalAmount = *update.TotalAmount
	}
	if update.ProviderTransactionID != nil {
		tx.ProviderTransactionID = *update.ProviderTransactionID
	}
	if update.DeliveryProofSignature != nil {
		tx.DeliveryProofSignature = *update.DeliveryProofSignature
	}

	r.transactions[id] = tx
	return tx, nil
}

func (r *memoryRepository) AppendLog(_ context.Context, entry LogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	r.logs[entry.TransactionID] = append(r.logs[entry.TransactionID], entry)
	return nil
}

func (r *memoryRepository) Logs(_ context.Context, transactionID string) ([]LogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.logs[transactionID]
	out := make([]LogEntry, len(entries))
	copy(out, entries)
	return out, nil
}
