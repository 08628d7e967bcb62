package bank

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Record kinds, one per money movement class.
const (
	KindTransfer      = "transfer"
	KindCashIn        = "cash_in"
	KindCashOut       = "cash_out"
	KindEscrowRelease = "escrow_release"
)

// Record statuses.
const (
	StatusCompleted = "completed"
	StatusPending   = "pending"
	StatusFailed    = "failed"
)

// Balance is the committed balance snapshot for one account.
type Balance struct {
	AccountID string
	Balance   decimal.Decimal
	Currency  string
}

// TransferInput identifies a money movement. Exactly one of
// DestinationPhone or DestinationRIB must be set.
type TransferInput struct {
	Source           string
	Amount           decimal.Decimal
	DestinationPhone string
	DestinationRIB   string
}

// Destination returns whichever destination identifier was supplied.
func (in TransferInput) Destination() string {
	if in.DestinationPhone != "" {
		return in.DestinationPhone
	}
	return in.DestinationRIB
}

// Quote is the fee breakdown for a prospective transfer. Computing a
// quote never mutates balances.
type Quote struct {
	Amount       decimal.Decimal
	Fee          decimal.Decimal
	TotalWithFee decimal.Decimal
}

// CashInput identifies a single-account credit or debit.
type CashInput struct {
	AccountID string
	Amount    decimal.Decimal
	Method    string
}

// Record is the immutable receipt of one completed money movement. A
// failed attempt produces an error, never a record.
type Record struct {
	TransactionID string
	Reference     string
	Kind          string
	Source        string
	Destination   string
	Amount        decimal.Decimal
	Fee           decimal.Decimal
	Total         decimal.Decimal
	Status        string
	Timestamp     time.Time
	Metadata      map[string]string
}

// ReleaseInput identifies an escrow release: funds held on behalf of the
// buyer move to the seller, referencing the original escrow transfer.
type ReleaseInput struct {
	BuyerID               string
	SellerID              string
	Amount                decimal.Decimal
	OriginalTransactionID string
}

// Release is the outcome of an escrow release. The balance fields are
// informational post-reads; nil means the read failed and the balance is
// unknown, never zero.
type Release struct {
	TransactionID string
	Reference     string
	BuyerBalance  *decimal.Decimal
	SellerBalance *decimal.Decimal
}

// Provider is the capability interface over a banking backend. The two
// implementations (simulated ledger, remote bank API) are interchangeable
// and selected once at startup.
type Provider interface {
	GetBalance(ctx context.Context, accountID string) (Balance, error)
	SimulateTransfer(ctx context.Context, in TransferInput) (Quote, error)
	ExecuteTransfer(ctx context.Context, in TransferInput) (Record, error)
	CashIn(ctx context.Context, in CashInput) (Record, error)
	CashOut(ctx context.Context, in CashInput) (Record, error)
	ReleaseEscrow(ctx context.Context, in ReleaseInput) (Release, error)
}

func validateTransfer(in TransferInput) error {
	if in.Source == "" {
		return NewError(KindValidation, "source account id is required")
	}
	if !in.Amount.IsPositive() {
		return NewError(KindValidation, "amount must be positive")
	}
	if in.DestinationPhone == "" && in.DestinationRIB == "" {
		return NewError(KindValidation, "a destination phone or RIB is required")
	}
	return nil
}

func validateCash(in CashInput) error {
	if in.AccountID == "" {
		return NewError(KindValidation, "account id is required")
	}
	if !in.Amount.IsPositive() {
		return NewError(KindValidation, "amount must be positive")
	}
	return nil
}

func validateRelease(in ReleaseInput) error {
	if in.BuyerID == "" || in.SellerID == "" {
		return NewError(KindValidation, "buyer and seller account ids are required")
	}
	if !in.Amount.IsPositive() {
		return NewError(KindValidation, "amount must be positive")
	}
	return nil
}
