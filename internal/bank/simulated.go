package bank

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atlas-pay/atlas_pay/internal/money"
)

// Wallet is one account in the simulated ledger.
type Wallet struct {
	AccountID      string
	Balance        decimal.Decimal
	Currency       string
	CreatedAt      time.Time
	LastUpdatedAt  time.Time
	OperationCount int
}

// SimulatedConfig tunes the simulated provider.
type SimulatedConfig struct {
	// SeedBalance is credited to accounts on first reference.
	SeedBalance decimal.Decimal
	Currency    string
	// Latency window applied before every response.
	MinLatency time.Duration
	MaxLatency time.Duration
	// FailureRate in [0,1] is the probability of a synthesized outage.
	FailureRate float64
	Fees        money.FeePolicy
	// HoldingAccount parks escrowed funds; FeeAccount collects fees.
	HoldingAccount string
	FeeAccount     string
}

// DefaultSimulatedConfig mirrors the production defaults with latency and
// failure injection enabled.
func DefaultSimulatedConfig() SimulatedConfig {
	return SimulatedConfig{
		SeedBalance:    decimal.NewFromInt(1000),
		Currency:       money.DefaultCurrency,
		MinLatency:     50 * time.Millisecond,
		MaxLatency:     300 * time.Millisecond,
		FailureRate:    0.05,
		Fees:           money.DefaultFeePolicy(),
		HoldingAccount: "holding:escrow",
		FeeAccount:     "holding:fees",
	}
}

// SimulatedProvider owns an in-memory wallet ledger and emulates an
// unreliable upstream with artificial latency and a fixed outage
// probability. Instance-scoped so tests can run isolated copies in
// parallel.
type SimulatedProvider struct {
	cfg SimulatedConfig

	mu      sync.RWMutex
	wallets map[string]*Wallet
	records map[string]Record

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewSimulatedProvider constructs a provider with its own ledger.
func NewSimulatedProvider(cfg SimulatedConfig) *SimulatedProvider {
	if cfg.Currency == "" {
		cfg.Currency = money.DefaultCurrency
	}
	if cfg.HoldingAccount == "" {
		cfg.HoldingAccount = "holding:escrow"
	}
	if cfg.FeeAccount == "" {
		cfg.FeeAccount = "holding:fees"
	}
	return &SimulatedProvider{
		cfg:     cfg,
		wallets: make(map[string]*Wallet),
		records: make(map[string]Record),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// HoldingAccount returns the account parking escrowed funds.
func (p *SimulatedProvider) HoldingAccount() string {
	return p.cfg.HoldingAccount
}

// prelude emulates network latency and transient outages before every
// operation, mutating or not.
func (p *SimulatedProvider) prelude(ctx context.Context) error {
	if delay := p.latency(); delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return WrapError(KindNetwork, "simulated call cancelled", ctx.Err())
		case <-timer.C:
		}
	}
	if p.cfg.FailureRate > 0 && p.roll() < p.cfg.FailureRate {
		return NewError(KindServiceUnavailable, "simulated provider outage")
	}
	return nil
}

func (p *SimulatedProvider) latency() time.Duration {
	if p.cfg.MaxLatency <= 0 {
		return 0
	}
	span := p.cfg.MaxLatency - p.cfg.MinLatency
	if span <= 0 {
		return p.cfg.MinLatency
	}
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return p.cfg.MinLatency + time.Duration(p.rng.Int63n(int64(span)))
}

func (p *SimulatedProvider) roll() float64 {
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return p.rng.Float64()
}

// walletLocked returns the wallet for the account, creating it with the
// seed balance on first reference. Caller holds p.mu.
func (p *SimulatedProvider) walletLocked(accountID string) *Wallet {
	w, ok := p.wallets[accountID]
	if !ok {
		now := time.Now().UTC()
		seed := p.cfg.SeedBalance
		if strings.HasPrefix(accountID, "holding:") {
			seed = decimal.Zero
		}
		w = &Wallet{
			AccountID:     accountID,
			Balance:       money.Round(seed),
			Currency:      p.cfg.Currency,
			CreatedAt:     now,
			LastUpdatedAt: now,
		}
		p.wallets[accountID] = w
	}
	return w
}

func (p *SimulatedProvider) touchLocked(w *Wallet) {
	w.OperationCount++
	w.LastUpdatedAt = time.Now().UTC()
}

func (p *SimulatedProvider) storeRecordLocked(rec Record) {
	p.records[rec.TransactionID] = rec
}

func newReference(prefix string) string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return fmt.Sprintf("%s-%s", prefix, id[:12])
}

// GetBalance returns the committed balance for the account.
func (p *SimulatedProvider) GetBalance(ctx context.Context, accountID string) (Balance, error) {
	if accountID == "" {
		return Balance{}, NewError(KindValidation, "account id is required")
	}
	if err := p.prelude(ctx); err != nil {
		return Balance{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	w := p.walletLocked(accountID)
	return Balance{AccountID: accountID, Balance: w.Balance, Currency: w.Currency}, nil
}

// SimulateTransfer quotes the fee for a transfer without moving funds.
func (p *SimulatedProvider) SimulateTransfer(ctx context.Context, in TransferInput) (Quote, error) {
	if err := validateTransfer(in); err != nil {
		return Quote{}, err
	}
	if err := p.prelude(ctx); err != nil {
		return Quote{}, err
	}

	fee := p.cfg.Fees.Fee(in.Amount)
	total := money.Round(in.Amount.Add(fee))

	p.mu.Lock()
	defer p.mu.Unlock()
	source := p.walletLocked(in.Source)
	if source.Balance.LessThan(total) {
		return Quote{}, InsufficientBalanceError(source.Balance, total)
	}
	return Quote{Amount: money.Round(in.Amount), Fee: fee, TotalWithFee: total}, nil
}

// ExecuteTransfer debits the source by amount+fee, credits the
// destination with the amount and books the fee against the fee account.
// The mutation is atomic: either all three balances move or none do.
func (p *SimulatedProvider) ExecuteTransfer(ctx context.Context, in TransferInput) (Record, error) {
	if err := validateTransfer(in); err != nil {
		return Record{}, err
	}
	if err := p.prelude(ctx); err != nil {
		return Record{}, err
	}

	fee := p.cfg.Fees.Fee(in.Amount)
	total := money.Round(in.Amount.Add(fee))
	destination := in.Destination()

	p.mu.Lock()
	defer p.mu.Unlock()

	source := p.walletLocked(in.Source)
	dest := p.walletLocked(destination)
	feeWallet := p.walletLocked(p.cfg.FeeAccount)

	if source.Balance.LessThan(total) {
		return Record{}, InsufficientBalanceError(source.Balance, total)
	}

	source.Balance = money.Round(source.Balance.Sub(total))
	dest.Balance = money.Round(dest.Balance.Add(money.Round(in.Amount)))
	feeWallet.Balance = money.Round(feeWallet.Balance.Add(fee))
	p.touchLocked(source)
	p.touchLocked(dest)
	p.touchLocked(feeWallet)

	rec := Record{
		TransactionID: uuid.NewString(),
		Reference:     newReference("TRF"),
		Kind:          KindTransfer,
		Source:        in.Source,
		Destination:   destination,
		Amount:        money.Round(in.Amount),
		Fee:           fee,
		Total:         total,
		Status:        StatusCompleted,
		Timestamp:     time.Now().UTC(),
	}
	p.storeRecordLocked(rec)
	return rec, nil
}

// CashIn credits a single account.
func (p *SimulatedProvider) CashIn(ctx context.Context, in CashInput) (Record, error) {
	if err := validateCash(in); err != nil {
		return Record{}, err
	}
	if err := p.prelude(ctx); err != nil {
		return Record{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	w := p.walletLocked(in.AccountID)
	w.Balance = money.Round(w.Balance.Add(money.Round(in.Amount)))
	p.touchLocked(w)

	rec := Record{
		TransactionID: uuid.NewString(),
		Reference:     newReference("CIN"),
		Kind:          KindCashIn,
		Source:        in.AccountID,
		Amount:        money.Round(in.Amount),
		Fee:           decimal.Zero,
		Total:         money.Round(in.Amount),
		Status:        StatusCompleted,
		Timestamp:     time.Now().UTC(),
		Metadata:      map[string]string{"method": in.Method},
	}
	p.storeRecordLocked(rec)
	return rec, nil
}

// CashOut debits a single account, failing when funds do not cover the amount.
func (p *SimulatedProvider) CashOut(ctx context.Context, in CashInput) (Record, error) {
	if err := validateCash(in); err != nil {
		return Record{}, err
	}
	if err := p.prelude(ctx); err != nil {
		return Record{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	w := p.walletLocked(in.AccountID)
	amount := money.Round(in.Amount)
	if w.Balance.LessThan(amount) {
		return Record{}, InsufficientBalanceError(w.Balance, amount)
	}
	w.Balance = money.Round(w.Balance.Sub(amount))
	p.touchLocked(w)

	rec := Record{
		TransactionID: uuid.NewString(),
		Reference:     newReference("OUT"),
		Kind:          KindCashOut,
		Source:        in.AccountID,
		Amount:        amount,
		Fee:           decimal.Zero,
		Total:         amount,
		Status:        StatusCompleted,
		Timestamp:     time.Now().UTC(),
		Metadata:      map[string]string{"method": in.Method},
	}
	p.storeRecordLocked(rec)
	return rec, nil
}

// ReleaseEscrow moves previously escrowed funds from the holding account
// to the seller. The holding balance is re-verified at release time; the
// buyer balance in the response is an informational read.
func (p *SimulatedProvider) ReleaseEscrow(ctx context.Context, in ReleaseInput) (Release, error) {
	if err := validateRelease(in); err != nil {
		return Release{}, err
	}
	if err := p.prelude(ctx); err != nil {
		return Release{}, err
	}

	amount := money.Round(in.Amount)

	p.mu.Lock()
	defer p.mu.Unlock()

	holding := p.walletLocked(p.cfg.HoldingAccount)
	seller := p.walletLocked(in.SellerID)
	buyer := p.walletLocked(in.BuyerID)

	if holding.Balance.LessThan(amount) {
		return Release{}, InsufficientBalanceError(holding.Balance, amount)
	}

	holding.Balance = money.Round(holding.Balance.Sub(amount))
	seller.Balance = money.Round(seller.Balance.Add(amount))
	p.touchLocked(holding)
	p.touchLocked(seller)

	rec := Record{
		TransactionID: uuid.NewString(),
		Reference:     newReference("REL"),
		Kind:          KindEscrowRelease,
		Source:        p.cfg.HoldingAccount,
		Destination:   in.SellerID,
		Amount:        amount,
		Fee:           decimal.Zero,
		Total:         amount,
		Status:        StatusCompleted,
		Timestamp:     time.Now().UTC(),
		Metadata:      map[string]string{"original_transaction_id": in.OriginalTransactionID},
	}
	p.storeRecordLocked(rec)

	buyerBalance := buyer.Balance
	sellerBalance := seller.Balance
	return Release{
		TransactionID: rec.TransactionID,
		Reference:     rec.Reference,
		BuyerBalance:  &buyerBalance,
		SellerBalance: &sellerBalance,
	}, nil
}

// Wallets lists a snapshot of every wallet. Debug hook for tests and
// inspection endpoints, not part of the production contract.
func (p *SimulatedProvider) Wallets() []Wallet {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Wallet, 0, len(p.wallets))
	for _, w := range p.wallets {
		out = append(out, *w)
	}
	return out
}

// Records lists a snapshot of every transaction record. Debug hook.
func (p *SimulatedProvider) Records() []Record {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Record, 0, len(p.records))
	for _, rec := range p.records {
		out = append(out, rec)
	}
	return out
}

// Reset drops every wallet and record. Debug hook.
func (p *SimulatedProvider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.wallets = make(map[string]*Wallet)
	p.records = make(map[string]Record)
}
