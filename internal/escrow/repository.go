package escrow

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound indicates no transaction exists with the given id.
	ErrNotFound = errors.New("escrow transaction not found")
	// ErrStatusConflict indicates the transaction was not in the status
	// the caller expected; the transition is rejected without change.
	ErrStatusConflict = errors.New("escrow transaction status conflict")
)

// Update carries the optional fields a transition may set alongside the
// status change. Nil fields are left untouched.
type Update struct {
	Fee                    *decimal.Decimal
	TotalAmount            *decimal.Decimal
	ProviderTransactionID  *string
	DeliveryProofSignature *string
}

// Repository persists escrow transactions and their append-only log.
// UpdateStatus is conditional on the expected current status so that
// concurrent transitions on the same transaction cannot both succeed.
type Repository interface {
	Create(ctx context.Context, tx Transaction) error
	Get(ctx context.Context, id string) (Transaction, error)
	UpdateStatus(ctx context.Context, id string, from, to Status, update Update) (Transaction, error)
	AppendLog(ctx context.Context, entry LogEntry) error
	Logs(ctx context.Context, transactionID string) ([]LogEntry, error)
}
