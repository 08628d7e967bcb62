package escrow

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle stage of an escrow transaction. A transaction
// only moves forward through the sequence, or sideways to FAILED.
type Status string

const (
	StatusInitiated    Status = "INITIATED"
	StatusFeeSimulated Status = "FEE_SIMULATED"
	StatusEscrowed     Status = "ESCROWED"
	StatusShipped      Status = "SHIPPED"
	StatusDelivered    Status = "DELIVERED"
	StatusSettled      Status = "SETTLED"
	StatusFailed       Status = "FAILED"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusSettled || s == StatusFailed
}

// Transaction is the business-level order/payment object. It is created
// when a buyer commits to a quantity and retained forever as audit trail.
type Transaction struct {
	ID          string          `json:"id"`
	BuyerID     string          `json:"buyer_id"`
	SellerID    string          `json:"seller_id"`
	ProductID   string          `json:"product_id"`
	Quantity    int             `json:"quantity"`
	Amount      decimal.Decimal `json:"amount"`
	Fee         decimal.Decimal `json:"fee"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Status      Status          `json:"status"`
	// ProviderTransactionID references the banking provider record that
	// moved the funds into escrow.
	ProviderTransactionID  string    `json:"provider_transaction_id,omitempty"`
	DeliveryProofSignature string    `json:"delivery_proof_signature,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// LogEntry is one line of the append-only transaction log. Every
// transition attempt writes one, failed attempts included.
type LogEntry struct {
	TransactionID string            `json:"transaction_id"`
	Status        Status            `json:"status"`
	Message       string            `json:"message"`
	Context       map[string]string `json:"context,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}
