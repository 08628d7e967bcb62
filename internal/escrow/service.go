package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atlas-pay/atlas_pay/internal/bank"
	"github.com/atlas-pay/atlas_pay/internal/deliveryproof"
	"github.com/atlas-pay/atlas_pay/internal/logging"
	"github.com/atlas-pay/atlas_pay/internal/money"
	"github.com/atlas-pay/atlas_pay/internal/notification"
)

var (
	// ErrNotSeller indicates the caller is not the transaction's seller.
	ErrNotSeller = errors.New("only the seller can mark shipment")
	// ErrProofRejected indicates the presented delivery proof failed verification.
	ErrProofRejected = errors.New("delivery proof rejected")
	// ErrProofUnavailable indicates a proof cannot be issued in the current status.
	ErrProofUnavailable = errors.New("delivery proof only available for shipped orders")
)

// ProofVerifier issues and checks delivery proofs.
type ProofVerifier interface {
	Issue(transactionID string) (deliveryproof.Token, error)
	Verify(token deliveryproof.Token, transactionID string) error
}

// TransitionObserver counts completed state transitions. Implementations
// must never block.
type TransitionObserver interface {
	EscrowTransition(to string)
}

// Service drives escrow transactions through their lifecycle. Transitions
// for a given transaction are serialised: a per-transaction lock guards
// the provider call and the conditional status update together.
type Service struct {
	repo     Repository
	provider bank.Provider
	proofs   ProofVerifier
	notifier notification.Notifier
	logger   *slog.Logger
	observer TransitionObserver

	holdingAccount string

	locks sync.Map // transaction id -> *sync.Mutex
}

// NewService constructs the orchestrator.
func NewService(repo Repository, provider bank.Provider, proofs ProofVerifier, notifier notification.Notifier, holdingAccount string, logger *slog.Logger, observer TransitionObserver) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{
		repo:           repo,
		provider:       provider,
		proofs:         proofs,
		notifier:       notifier,
		logger:         logger,
		observer:       observer,
		holdingAccount: holdingAccount,
	}
}

// InitiateInput captures a buyer committing to a quantity of a product.
type InitiateInput struct {
	BuyerID   string
	SellerID  string
	ProductID string
	Quantity  int
	Amount    decimal.Decimal
}

// Initiate creates the transaction at INITIATED.
func (s *Service) Initiate(ctx context.Context, in InitiateInput) (Transaction, error) {
	if in.BuyerID == "" || in.SellerID == "" {
		return Transaction{}, errors.New("buyer and seller ids are required")
	}
	if in.Quantity <= 0 {
		return Transaction{}, errors.New("quantity must be positive")
	}
	if !in.Amount.IsPositive() {
		return Transaction{}, errors.New("amount must be positive")
	}

	now := time.Now().UTC()
	tx := Transaction{
		ID:        uuid.NewString(),
		BuyerID:   in.BuyerID,
		SellerID:  in.SellerID,
		ProductID: in.ProductID,
		Quantity:  in.Quantity,
		Amount:    money.Round(in.Amount),
		Status:    StatusInitiated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, tx); err != nil {
		return Transaction{}, err
	}
	s.appendLog(ctx, tx.ID, StatusInitiated, "escrow transaction created", map[string]string{
		"buyer_id":   in.BuyerID,
		"seller_id":  in.SellerID,
		"product_id": in.ProductID,
	})
	s.observe(StatusInitiated)
	return tx, nil
}

// SimulateFee quotes the transfer fee and moves the transaction to
// FEE_SIMULATED. No funds move.
func (s *Service) SimulateFee(ctx context.Context, id string) (Transaction, error) {
	unlock := s.lock(id)
	defer unlock()

	tx, err := s.repo.Get(ctx, id)
	if err != nil {
		return Transaction{}, err
	}
	if tx.Status != StatusInitiated {
		s.appendLog(ctx, id, tx.Status, "fee simulation rejected: wrong status", nil)
		return Transaction{}, ErrStatusConflict
	}

	quote, err := s.provider.SimulateTransfer(ctx, bank.TransferInput{
		Source:         tx.BuyerID,
		Amount:         tx.Amount,
		DestinationRIB: s.holdingAccount,
	})
	if err != nil {
		return Transaction{}, s.providerFailure(ctx, tx, "simulate fee", err)
	}

	updated, err := s.repo.UpdateStatus(ctx, id, StatusInitiated, StatusFeeSimulated, Update{
		Fee:         &quote.Fee,
		TotalAmount: &quote.TotalWithFee,
	})
	if err != nil {
		return Transaction{}, err
	}
	s.appendLog(ctx, id, StatusFeeSimulated, "transfer fee quoted", map[string]string{
		"fee":   quote.Fee.String(),
		"total": quote.TotalWithFee.String(),
	})
	s.observe(StatusFeeSimulated)
	return updated, nil
}

// Fund executes the buyer-to-holding transfer and moves the transaction
// to ESCROWED. The persisted status only advances after the provider call
// returns success.
func (s *Service) Fund(ctx context.Context, id string) (Transaction, error) {
	unlock := s.lock(id)
	defer unlock()

	tx, err := s.repo.Get(ctx, id)
	if err != nil {
		return Transaction{}, err
	}
	if tx.Status != StatusFeeSimulated {
		s.appendLog(ctx, id, tx.Status, "funding rejected: wrong status", nil)
		return Transaction{}, ErrStatusConflict
	}

	rec, err := s.provider.ExecuteTransfer(ctx, bank.TransferInput{
		Source:         tx.BuyerID,
		Amount:         tx.Amount,
		DestinationRIB: s.holdingAccount,
	})
	if err != nil {
		return Transaction{}, s.providerFailure(ctx, tx, "fund escrow", err)
	}

	updated, err := s.repo.UpdateStatus(ctx, id, StatusFeeSimulated, StatusEscrowed, Update{
		Fee:                   &rec.Fee,
		TotalAmount:           &rec.Total,
		ProviderTransactionID: &rec.TransactionID,
	})
	if err != nil {
		return Transaction{}, err
	}
	s.appendLog(ctx, id, StatusEscrowed, "funds escrowed", map[string]string{
		"provider_transaction_id": rec.TransactionID,
		"reference":               rec.Reference,
	})
	s.observe(StatusEscrowed)
	return updated, nil
}

// MarkShipped records the seller handing over the goods. Only the
// transaction's seller may perform this transition.
func (s *Service) MarkShipped(ctx context.Context, id, sellerID string) (Transaction, error) {
	unlock := s.lock(id)
	defer unlock()

	tx, err := s.repo.Get(ctx, id)
	if err != nil {
		return Transaction{}, err
	}
	if tx.SellerID != sellerID {
		s.appendLog(ctx, id, tx.Status, "shipment rejected: caller is not the seller", map[string]string{"caller": sellerID})
		return Transaction{}, ErrNotSeller
	}
	if tx.Status != StatusEscrowed {
		s.appendLog(ctx, id, tx.Status, "shipment rejected: wrong status", nil)
		return Transaction{}, ErrStatusConflict
	}

	updated, err := s.repo.UpdateStatus(ctx, id, StatusEscrowed, StatusShipped, Update{})
	if err != nil {
		return Transaction{}, err
	}
	s.appendLog(ctx, id, StatusShipped, "seller marked order shipped", nil)
	s.observe(StatusShipped)
	s.notify(ctx, notification.Message{
		Kind:        notification.KindOrderShipped,
		Destination: tx.BuyerID,
		Body:        fmt.Sprintf("Order %s for product %s has shipped", tx.ID, tx.ProductID),
	})
	return updated, nil
}

// IssueProof returns a delivery proof for a shipped order. Issuing is not
// a transition; the token travels to the buyer out of band.
func (s *Service) IssueProof(ctx context.Context, id string) (deliveryproof.Token, error) {
	tx, err := s.repo.Get(ctx, id)
	if err != nil {
		return deliveryproof.Token{}, err
	}
	if tx.Status != StatusShipped {
		return deliveryproof.Token{}, ErrProofUnavailable
	}
	return s.proofs.Issue(tx.ID)
}

// ConfirmDelivery verifies the buyer's delivery proof and moves the
// transaction to DELIVERED. Any proof defect rejects the transition with
// no state change.
func (s *Service) ConfirmDelivery(ctx context.Context, id string, token deliveryproof.Token) (Transaction, error) {
	unlock := s.lock(id)
	defer unlock()

	tx, err := s.repo.Get(ctx, id)
	if err != nil {
		return Transaction{}, err
	}
	if tx.Status != StatusShipped {
		s.appendLog(ctx, id, tx.Status, "delivery confirmation rejected: wrong status", nil)
		return Transaction{}, ErrStatusConflict
	}

	if err := s.proofs.Verify(token, tx.ID); err != nil {
		s.appendLog(ctx, id, tx.Status, "delivery proof rejected", map[string]string{"reason": err.Error()})
		return Transaction{}, fmt.Errorf("%w: %w", ErrProofRejected, err)
	}

	updated, err := s.repo.UpdateStatus(ctx, id, StatusShipped, StatusDelivered, Update{
		DeliveryProofSignature: &token.Signature,
	})
	if err != nil {
		return Transaction{}, err
	}
	s.appendLog(ctx, id, StatusDelivered, "delivery proof accepted", nil)
	s.observe(StatusDelivered)
	return updated, nil
}

// Settle releases the held funds to the seller and moves the transaction
// to SETTLED. The persisted status only advances after the provider call
// returns success.
func (s *Service) Settle(ctx context.Context, id string) (Transaction, error) {
	unlock := s.lock(id)
	defer unlock()

	tx, err := s.repo.Get(ctx, id)
	if err != nil {
		return Transaction{}, err
	}
	if tx.Status != StatusDelivered {
		s.appendLog(ctx, id, tx.Status, "settlement rejected: wrong status", nil)
		return Transaction{}, ErrStatusConflict
	}

	release, err := s.provider.ReleaseEscrow(ctx, bank.ReleaseInput{
		BuyerID:               tx.BuyerID,
		SellerID:              tx.SellerID,
		Amount:                tx.Amount,
		OriginalTransactionID: tx.ProviderTransactionID,
	})
	if err != nil {
		return Transaction{}, s.providerFailure(ctx, tx, "release escrow", err)
	}

	updated, err := s.repo.UpdateStatus(ctx, id, StatusDelivered, StatusSettled, Update{})
	if err != nil {
		return Transaction{}, err
	}
	logCtx := map[string]string{
		"release_transaction_id": release.TransactionID,
		"reference":              release.Reference,
	}
	if release.SellerBalance != nil {
		logCtx["seller_balance"] = release.SellerBalance.String()
	}
	s.appendLog(ctx, id, StatusSettled, "escrow released to seller", logCtx)
	s.observe(StatusSettled)
	s.notify(ctx, notification.Message{
		Kind:        notification.KindEscrowSettled,
		Destination: tx.SellerID,
		Body:        fmt.Sprintf("Escrow for order %s settled: %s released", tx.ID, tx.Amount),
	})
	return updated, nil
}

// Get returns a transaction by id.
func (s *Service) Get(ctx context.Context, id string) (Transaction, error) {
	return s.repo.Get(ctx, id)
}

// Logs returns the audit log for a transaction, oldest first.
func (s *Service) Logs(ctx context.Context, id string) ([]LogEntry, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.Logs(ctx, id)
}

// providerFailure classifies a provider error. Terminal failures move the
// transaction to FAILED; transient ones leave it unchanged so the caller
// can retry the transition.
func (s *Service) providerFailure(ctx context.Context, tx Transaction, op string, err error) error {
	if bank.Terminal(err) {
		if _, updateErr := s.repo.UpdateStatus(ctx, tx.ID, tx.Status, StatusFailed, Update{}); updateErr != nil {
			s.logger.Error("failed to mark escrow transaction failed", "transaction_id", tx.ID, "error", updateErr)
		}
		s.appendLog(ctx, tx.ID, StatusFailed, fmt.Sprintf("%s failed terminally", op), map[string]string{"error": err.Error()})
		s.observe(StatusFailed)
		return err
	}
	s.appendLog(ctx, tx.ID, tx.Status, fmt.Sprintf("%s failed, transaction unchanged", op), map[string]string{"error": err.Error()})
	return err
}

// lock serialises transitions per transaction id.
func (s *Service) lock(id string) func() {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// appendLog writes to the transaction log; log persistence problems are
// reported but never fail the transition itself.
func (s *Service) appendLog(ctx context.Context, id string, status Status, message string, logCtx map[string]string) {
	entry := LogEntry{
		TransactionID: id,
		Status:        status,
		Message:       message,
		Context:       logCtx,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.repo.AppendLog(ctx, entry); err != nil {
		s.logger.Error("append transaction log", "transaction_id", id, "error", err)
	}
}

func (s *Service) notify(ctx context.Context, msg notification.Message) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.logger.Warn("notification failed", "kind", msg.Kind, "error", err)
	}
}

func (s *Service) observe(to Status) {
	if s.observer != nil {
		s.observer.EscrowTransition(string(to))
	}
}
