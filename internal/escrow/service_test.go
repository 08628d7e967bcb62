package escrow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-pay/atlas_pay/internal/bank"
	"github.com/atlas-pay/atlas_pay/internal/deliveryproof"
	"github.com/atlas-pay/atlas_pay/internal/logging"
	"github.com/atlas-pay/atlas_pay/internal/notification"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	return decimal.RequireFromString(s)
}

func newSimProvider(t *testing.T) *bank.SimulatedProvider {
	t.Helper()
	cfg := bank.DefaultSimulatedConfig()
	cfg.MinLatency = 0
	cfg.MaxLatency = 0
	cfg.FailureRate = 0
	return bank.NewSimulatedProvider(cfg)
}

func newTestService(t *testing.T, provider bank.Provider, holding string) (*Service, Repository, *deliveryproof.Signer) {
	t.Helper()
	repo := NewMemoryRepository()
	signer, err := deliveryproof.New([]byte("test-secret"), time.Hour)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	svc := NewService(repo, provider, signer, notification.NewLoggerNotifier(logging.Discard()), holding, logging.Discard(), nil)
	return svc, repo, signer
}

func TestFullLifecycle(t *testing.T) {
	provider := newSimProvider(t)
	svc, _, _ := newTestService(t, provider, provider.HoldingAccount())
	ctx := context.Background()

	// Scenario C: 750 between fresh accounts seeded at 1000.
	tx, err := svc.Initiate(ctx, InitiateInput{
		BuyerID:   "buyer",
		SellerID:  "seller",
		ProductID: "argan-oil-5l",
		Quantity:  2,
		Amount:    dec(t, "750"),
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if tx.Status != StatusInitiated {
		t.Fatalf("expected INITIATED, got %s", tx.Status)
	}

	tx, err = svc.SimulateFee(ctx, tx.ID)
	if err != nil {
		t.Fatalf("simulate fee: %v", err)
	}
	if tx.Status != StatusFeeSimulated || !tx.Fee.Equal(dec(t, "15")) || !tx.TotalAmount.Equal(dec(t, "765")) {
		t.Fatalf("unexpected quote: %+v", tx)
	}

	tx, err = svc.Fund(ctx, tx.ID)
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
	if tx.Status != StatusEscrowed || tx.ProviderTransactionID == "" {
		t.Fatalf("unexpected escrow state: %+v", tx)
	}
	buyer, _ := provider.GetBalance(ctx, "buyer")
	if !buyer.Balance.Equal(dec(t, "235")) {
		t.Fatalf("expected buyer 235 after escrow, got %s", buyer.Balance)
	}

	tx, err = svc.MarkShipped(ctx, tx.ID, "seller")
	if err != nil {
		t.Fatalf("ship: %v", err)
	}

	token, err := svc.IssueProof(ctx, tx.ID)
	if err != nil {
		t.Fatalf("issue proof: %v", err)
	}
	tx, err = svc.ConfirmDelivery(ctx, tx.ID, token)
	if err != nil {
		t.Fatalf("confirm delivery: %v", err)
	}
	if tx.Status != StatusDelivered || tx.DeliveryProofSignature == "" {
		t.Fatalf("unexpected delivered state: %+v", tx)
	}

	tx, err = svc.Settle(ctx, tx.ID)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if tx.Status != StatusSettled {
		t.Fatalf("expected SETTLED, got %s", tx.Status)
	}

	seller, _ := provider.GetBalance(ctx, "seller")
	if !seller.Balance.Equal(dec(t, "1750")) {
		t.Fatalf("expected seller 1750 after settlement, got %s", seller.Balance)
	}
	fees, _ := provider.GetBalance(ctx, "holding:fees")
	if !fees.Balance.Equal(dec(t, "15")) {
		t.Fatalf("expected fee account 15, got %s", fees.Balance)
	}

	logs, err := svc.Logs(ctx, tx.ID)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	want := []Status{StatusInitiated, StatusFeeSimulated, StatusEscrowed, StatusShipped, StatusDelivered, StatusSettled}
	if len(logs) != len(want) {
		t.Fatalf("expected %d log entries, got %d: %+v", len(want), len(logs), logs)
	}
	for i, entry := range logs {
		if entry.Status != want[i] {
			t.Fatalf("log %d: expected %s, got %s", i, want[i], entry.Status)
		}
	}
}

func TestShipRequiresSeller(t *testing.T) {
	provider := newSimProvider(t)
	svc, _, _ := newTestService(t, provider, provider.HoldingAccount())
	ctx := context.Background()

	tx := mustEscrow(t, svc, ctx)

	if _, err := svc.MarkShipped(ctx, tx.ID, "someone-else"); !errors.Is(err, ErrNotSeller) {
		t.Fatalf("expected ErrNotSeller, got %v", err)
	}

	got, _ := svc.Get(ctx, tx.ID)
	if got.Status != StatusEscrowed {
		t.Fatalf("status changed on rejected ship: %s", got.Status)
	}
}

func TestDoubleShipRejected(t *testing.T) {
	provider := newSimProvider(t)
	svc, _, _ := newTestService(t, provider, provider.HoldingAccount())
	ctx := context.Background()

	tx := mustEscrow(t, svc, ctx)

	if _, err := svc.MarkShipped(ctx, tx.ID, "seller"); err != nil {
		t.Fatalf("first ship: %v", err)
	}
	if _, err := svc.MarkShipped(ctx, tx.ID, "seller"); !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected status conflict on second ship, got %v", err)
	}
}

func TestConfirmRejectsForeignProof(t *testing.T) {
	provider := newSimProvider(t)
	svc, _, signer := newTestService(t, provider, provider.HoldingAccount())
	ctx := context.Background()

	tx := mustEscrow(t, svc, ctx)
	if _, err := svc.MarkShipped(ctx, tx.ID, "seller"); err != nil {
		t.Fatalf("ship: %v", err)
	}

	// Scenario D: proof signed for another transaction is rejected with
	// no state change.
	foreign, _ := signer.Issue("some-other-transaction")
	if _, err := svc.ConfirmDelivery(ctx, tx.ID, foreign); !errors.Is(err, ErrProofRejected) {
		t.Fatalf("expected proof rejection, got %v", err)
	}

	got, _ := svc.Get(ctx, tx.ID)
	if got.Status != StatusShipped {
		t.Fatalf("status changed on rejected proof: %s", got.Status)
	}
}

func TestConfirmTwiceRejected(t *testing.T) {
	provider := newSimProvider(t)
	svc, _, _ := newTestService(t, provider, provider.HoldingAccount())
	ctx := context.Background()

	tx := mustEscrow(t, svc, ctx)
	if _, err := svc.MarkShipped(ctx, tx.ID, "seller"); err != nil {
		t.Fatalf("ship: %v", err)
	}
	token, err := svc.IssueProof(ctx, tx.ID)
	if err != nil {
		t.Fatalf("issue proof: %v", err)
	}
	if _, err := svc.ConfirmDelivery(ctx, tx.ID, token); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	// Replaying the same valid proof hits the status guard.
	if _, err := svc.ConfirmDelivery(ctx, tx.ID, token); !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected status conflict on replay, got %v", err)
	}
}

func TestProofOnlyIssuedWhenShipped(t *testing.T) {
	provider := newSimProvider(t)
	svc, _, _ := newTestService(t, provider, provider.HoldingAccount())
	ctx := context.Background()

	tx := mustEscrow(t, svc, ctx)
	if _, err := svc.IssueProof(ctx, tx.ID); !errors.Is(err, ErrProofUnavailable) {
		t.Fatalf("expected proof unavailable, got %v", err)
	}
}

// failingProvider wraps the simulated provider and fails selected calls.
type failingProvider struct {
	bank.Provider
	executeErr error
	releaseErr error
}

func (p *failingProvider) ExecuteTransfer(ctx context.Context, in bank.TransferInput) (bank.Record, error) {
	if p.executeErr != nil {
		return bank.Record{}, p.executeErr
	}
	return p.Provider.ExecuteTransfer(ctx, in)
}

func (p *failingProvider) ReleaseEscrow(ctx context.Context, in bank.ReleaseInput) (bank.Release, error) {
	if p.releaseErr != nil {
		return bank.Release{}, p.releaseErr
	}
	return p.Provider.ReleaseEscrow(ctx, in)
}

func TestTransientFailureLeavesStatus(t *testing.T) {
	sim := newSimProvider(t)
	provider := &failingProvider{Provider: sim}
	svc, _, _ := newTestService(t, provider, sim.HoldingAccount())
	ctx := context.Background()

	tx, _ := svc.Initiate(ctx, InitiateInput{BuyerID: "buyer", SellerID: "seller", ProductID: "p", Quantity: 1, Amount: dec(t, "100")})
	if _, err := svc.SimulateFee(ctx, tx.ID); err != nil {
		t.Fatalf("simulate: %v", err)
	}

	provider.executeErr = bank.NewError(bank.KindServiceUnavailable, "outage")
	if _, err := svc.Fund(ctx, tx.ID); !bank.IsKind(err, bank.KindServiceUnavailable) {
		t.Fatalf("expected service unavailable, got %v", err)
	}

	got, _ := svc.Get(ctx, tx.ID)
	if got.Status != StatusFeeSimulated {
		t.Fatalf("transient failure must leave status, got %s", got.Status)
	}

	// The transition is safe to retry once the provider recovers.
	provider.executeErr = nil
	if _, err := svc.Fund(ctx, tx.ID); err != nil {
		t.Fatalf("retry after transient failure: %v", err)
	}
}

func TestTerminalFailureMovesToFailed(t *testing.T) {
	sim := newSimProvider(t)
	provider := &failingProvider{Provider: sim}
	svc, _, _ := newTestService(t, provider, sim.HoldingAccount())
	ctx := context.Background()

	tx, _ := svc.Initiate(ctx, InitiateInput{BuyerID: "buyer", SellerID: "seller", ProductID: "p", Quantity: 1, Amount: dec(t, "100")})
	if _, err := svc.SimulateFee(ctx, tx.ID); err != nil {
		t.Fatalf("simulate: %v", err)
	}

	provider.executeErr = bank.NewError(bank.KindInvalidCredentials, "api key revoked")
	if _, err := svc.Fund(ctx, tx.ID); !bank.IsKind(err, bank.KindInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}

	got, _ := svc.Get(ctx, tx.ID)
	if got.Status != StatusFailed {
		t.Fatalf("terminal failure must move to FAILED, got %s", got.Status)
	}

	logs, _ := svc.Logs(ctx, tx.ID)
	last := logs[len(logs)-1]
	if last.Status != StatusFailed || last.Context["error"] == "" {
		t.Fatalf("expected failure cause in log, got %+v", last)
	}
}

func TestInsufficientBalanceLeavesStatus(t *testing.T) {
	cfg := bank.DefaultSimulatedConfig()
	cfg.MinLatency = 0
	cfg.MaxLatency = 0
	cfg.FailureRate = 0
	cfg.SeedBalance = dec(t, "50")
	provider := bank.NewSimulatedProvider(cfg)
	svc, _, _ := newTestService(t, provider, provider.HoldingAccount())
	ctx := context.Background()

	tx, _ := svc.Initiate(ctx, InitiateInput{BuyerID: "buyer", SellerID: "seller", ProductID: "p", Quantity: 1, Amount: dec(t, "100")})
	_, err := svc.SimulateFee(ctx, tx.ID)
	if !bank.IsKind(err, bank.KindInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}

	// Recoverable: the buyer can fund the wallet and retry.
	got, _ := svc.Get(ctx, tx.ID)
	if got.Status != StatusInitiated {
		t.Fatalf("insufficient balance must leave status, got %s", got.Status)
	}
}

func TestMemoryRepositoryStatusCAS(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	tx := Transaction{ID: "t1", BuyerID: "b", SellerID: "s", Status: StatusEscrowed, Amount: dec(t, "10")}
	if err := repo.Create(ctx, tx); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := repo.UpdateStatus(ctx, "t1", StatusEscrowed, StatusShipped, Update{}); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if _, err := repo.UpdateStatus(ctx, "t1", StatusEscrowed, StatusShipped, Update{}); !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected status conflict, got %v", err)
	}
	if _, err := repo.UpdateStatus(ctx, "missing", StatusEscrowed, StatusShipped, Update{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

// mustEscrow walks a fresh transaction to ESCROWED.
func mustEscrow(t *testing.T, svc *Service, ctx context.Context) Transaction {
	t.Helper()
	tx, err := svc.Initiate(ctx, InitiateInput{BuyerID: "buyer", SellerID: "seller", ProductID: "p", Quantity: 1, Amount: dec(t, "100")})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if _, err := svc.SimulateFee(ctx, tx.ID); err != nil {
		t.Fatalf("simulate: %v", err)
	}
	tx, err = svc.Fund(ctx, tx.ID)
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
	return tx
}
