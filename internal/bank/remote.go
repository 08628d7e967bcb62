package bank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atlas-pay/atlas_pay/internal/logging"
	"github.com/atlas-pay/atlas_pay/internal/money"
)

// CallObserver receives remote call and retry outcomes. Implementations
// must be cheap and non-blocking; observation never fails a call.
type CallObserver interface {
	BankCall(op, outcome string)
	BankRetry(result string)
}

// RemoteConfig tunes the remote provider.
type RemoteConfig struct {
	BaseURL string
	APIKey  string
	// Timeout bounds a single HTTP call.
	Timeout time.Duration
	// Retries is the number of retries after the first attempt.
	Retries int
	// RetryDelay is the base of the exponential backoff.
	RetryDelay time.Duration
	// HoldingContract is the upstream contract holding escrowed funds.
	HoldingContract string
	Fees            money.FeePolicy
}

// RemoteProvider forwards every operation to the bank's HTTP API with
// bounded retries and error-taxonomy translation. It is the only place
// raw transport failures become provider errors.
type RemoteProvider struct {
	cfg      RemoteConfig
	client   *http.Client
	logger   *slog.Logger
	observer CallObserver
}

// NewRemoteProvider builds a provider over the configured upstream.
func NewRemoteProvider(cfg RemoteConfig, logger *slog.Logger, observer CallObserver) *RemoteProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &RemoteProvider{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
		observer: observer,
	}
}

const maxLoggedBody = 512

// transferRequest is the upstream wire shape for money movements.
type transferRequest struct {
	ContractID       string          `json:"ContractId"`
	Amount           decimal.Decimal `json:"Amount"`
	DestinationPhone string          `json:"destinationPhone,omitempty"`
	RIB              string          `json:"RIB,omitempty"`
	Method           string          `json:"Method,omitempty"`
}

// transferResponse tolerates PascalCase and camelCase field naming:
// encoding/json matches keys case-insensitively.
type transferResponse struct {
	TransactionID string `json:"transactionId"`
	Reference     string `json:"reference"`
	Status        string `json:"status"`
}

// balanceEnvelope is the upstream balance shape; the first array element
// is authoritative.
type balanceEnvelope struct {
	Result struct {
		Balance []struct {
			Value string `json:"value"`
		} `json:"balance"`
	} `json:"result"`
}

type errorEnvelope struct {
	Error struct {
		Code      string          `json:"code"`
		Message   string          `json:"message"`
		Available decimal.Decimal `json:"available"`
		Required  decimal.Decimal `json:"required"`
	} `json:"error"`
}

// GetBalance reads the committed balance for an account contract.
func (p *RemoteProvider) GetBalance(ctx context.Context, accountID string) (Balance, error) {
	if accountID == "" {
		return Balance{}, NewError(KindValidation, "account id is required")
	}

	var env balanceEnvelope
	err := p.withRetry(ctx, "get_balance", func() error {
		return p.do(ctx, http.MethodPost, "/api/accounts/balance", transferRequest{ContractID: accountID}, &env)
	})
	if err != nil {
		return Balance{}, err
	}

	if len(env.Result.Balance) == 0 {
		return Balance{}, NewError(KindInvalidResponse, "balance array empty in upstream response")
	}
	value, err := decimal.NewFromString(env.Result.Balance[0].Value)
	if err != nil {
		return Balance{}, WrapError(KindInvalidResponse, "balance value is not a number", err)
	}
	return Balance{AccountID: accountID, Balance: money.Round(value), Currency: money.DefaultCurrency}, nil
}

// SimulateTransfer quotes the fee locally and verifies the source
// balance upstream. No funds move.
func (p *RemoteProvider) SimulateTransfer(ctx context.Context, in TransferInput) (Quote, error) {
	if err := validateTransfer(in); err != nil {
		return Quote{}, err
	}

	fee := p.cfg.Fees.Fee(in.Amount)
	total := money.Round(in.Amount.Add(fee))

	balance, err := p.GetBalance(ctx, in.Source)
	if err != nil {
		return Quote{}, err
	}
	if balance.Balance.LessThan(total) {
		return Quote{}, InsufficientBalanceError(balance.Balance, total)
	}
	return Quote{Amount: money.Round(in.Amount), Fee: fee, TotalWithFee: total}, nil
}

// ExecuteTransfer performs the movement upstream and assembles the
// transaction record from the upstream receipt.
func (p *RemoteProvider) ExecuteTransfer(ctx context.Context, in TransferInput) (Record, error) {
	if err := validateTransfer(in); err != nil {
		return Record{}, err
	}

	req := transferRequest{
		ContractID:       in.Source,
		Amount:           money.Round(in.Amount),
		DestinationPhone: in.DestinationPhone,
		RIB:              in.DestinationRIB,
	}

	var resp transferResponse
	err := p.withRetry(ctx, "execute_transfer", func() error {
		return p.do(ctx, http.MethodPost, "/api/transfers/execute", req, &resp)
	})
	if err != nil {
		return Record{}, err
	}
	if resp.TransactionID == "" {
		return Record{}, NewError(KindInvalidResponse, "transaction id missing from upstream response")
	}

	fee := p.cfg.Fees.Fee(in.Amount)
	return Record{
		TransactionID: resp.TransactionID,
		Reference:     orReference(resp.Reference),
		Kind:          KindTransfer,
		Source:        in.Source,
		Destination:   in.Destination(),
		Amount:        money.Round(in.Amount),
		Fee:           fee,
		Total:         money.Round(in.Amount.Add(fee)),
		Status:        orStatus(resp.Status),
		Timestamp:     time.Now().UTC(),
	}, nil
}

// CashIn credits the account upstream.
func (p *RemoteProvider) CashIn(ctx context.Context, in CashInput) (Record, error) {
	return p.cash(ctx, in, "cash_in", "/api/cash/in", KindCashIn)
}

// CashOut debits the account upstream.
func (p *RemoteProvider) CashOut(ctx context.Context, in CashInput) (Record, error) {
	return p.cash(ctx, in, "cash_out", "/api/cash/out", KindCashOut)
}

func (p *RemoteProvider) cash(ctx context.Context, in CashInput, op, path, kind string) (Record, error) {
	if err := validateCash(in); err != nil {
		return Record{}, err
	}

	req := transferRequest{ContractID: in.AccountID, Amount: money.Round(in.Amount), Method: in.Method}
	var resp transferResponse
	err := p.withRetry(ctx, op, func() error {
		return p.do(ctx, http.MethodPost, path, req, &resp)
	})
	if err != nil {
		return Record{}, err
	}
	if resp.TransactionID == "" {
		return Record{}, NewError(KindInvalidResponse, "transaction id missing from upstream response")
	}

	return Record{
		TransactionID: resp.TransactionID,
		Reference:     orReference(resp.Reference),
		Kind:          kind,
		Source:        in.AccountID,
		Amount:        money.Round(in.Amount),
		Fee:           decimal.Zero,
		Total:         money.Round(in.Amount),
		Status:        orStatus(resp.Status),
		Timestamp:     time.Now().UTC(),
		Metadata:      map[string]string{"method": in.Method},
	}, nil
}

// ReleaseEscrow composes a pre-check balance read, the release transfer
// from the holding contract to the seller, and two informational
// post-reads. The upstream has no atomic release call: once the transfer
// succeeds the release is reported as successful even when the post-reads
// fail. Balances may be stale, never invented.
func (p *RemoteProvider) ReleaseEscrow(ctx context.Context, in ReleaseInput) (Release, error) {
	if err := validateRelease(in); err != nil {
		return Release{}, err
	}

	source := p.cfg.HoldingContract
	if source == "" {
		source = in.BuyerID
	}

	amount := money.Round(in.Amount)
	pre, err := p.GetBalance(ctx, source)
	if err != nil {
		return Release{}, err
	}
	if pre.Balance.LessThan(amount) {
		return Release{}, InsufficientBalanceError(pre.Balance, amount)
	}

	req := transferRequest{ContractID: source, Amount: amount, RIB: in.SellerID}
	var resp transferResponse
	err = p.withRetry(ctx, "release_escrow", func() error {
		return p.do(ctx, http.MethodPost, "/api/transfers/execute", req, &resp)
	})
	if err != nil {
		return Release{}, err
	}
	if resp.TransactionID == "" {
		return Release{}, NewError(KindInvalidResponse, "transaction id missing from upstream response")
	}

	release := Release{TransactionID: resp.TransactionID, Reference: orReference(resp.Reference)}

	if buyer, err := p.GetBalance(ctx, in.BuyerID); err == nil {
		release.BuyerBalance = &buyer.Balance
	} else {
		p.logger.Warn("post-release buyer balance read failed", "error", err)
	}
	if seller, err := p.GetBalance(ctx, in.SellerID); err == nil {
		release.SellerBalance = &seller.Balance
	} else {
		p.logger.Warn("post-release seller balance read failed", "error", err)
	}

	return release, nil
}

// withRetry runs fn up to Retries+1 times, backing off exponentially
// between attempts. Only transient failures are retried; the backoff
// sleep aborts when the caller's context is cancelled.
func (p *RemoteProvider) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= p.cfg.Retries; attempt++ {
		if attempt > 0 {
			delay := p.cfg.RetryDelay << uint(attempt-1)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return WrapError(KindNetwork, "retry abandoned", ctx.Err())
			case <-timer.C:
			}
			p.observeRetry("attempted")
		}

		err = fn()
		if err == nil {
			p.observeCall(op, "success")
			if attempt > 0 {
				p.observeRetry("recovered")
			}
			return nil
		}
		if !Retryable(err) {
			p.observeCall(op, "failed")
			return err
		}
		p.observeCall(op, "retryable")
		p.logger.Warn("bank call failed, will retry",
			"op", op,
			"attempt", attempt+1,
			"max_attempts", p.cfg.Retries+1,
			"error", err,
		)
	}
	p.observeRetry("exhausted")
	return err
}

// do executes one HTTP exchange and translates the outcome into the
// provider error taxonomy. Every call and result is logged; logging never
// blocks or fails the call.
func (p *RemoteProvider) do(ctx context.Context, method, path string, body, target any) error {
	url := p.cfg.BaseURL + path

	payload, err := json.Marshal(body)
	if err != nil {
		return WrapError(KindValidation, "encode request body", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return WrapError(KindValidation, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Api-Key", p.cfg.APIKey)
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := p.client.Do(req)
	if err != nil {
		p.logCall(method, path, 0, nil)
		return WrapError(KindNetwork, "no response from upstream", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	p.logCall(method, path, resp.StatusCode, respBody)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if target == nil {
			return nil
		}
		if err := json.Unmarshal(respBody, target); err != nil {
			return WrapError(KindInvalidResponse, "decode upstream response", err)
		}
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		e := NewError(KindInvalidCredentials, "upstream rejected credentials")
		e.StatusCode = resp.StatusCode
		return e
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		e := NewError(KindServiceUnavailable, fmt.Sprintf("upstream returned %d", resp.StatusCode))
		e.StatusCode = resp.StatusCode
		return e
	default:
		return p.translateClientError(resp.StatusCode, respBody)
	}
}

// translateClientError maps a 4xx payload onto the taxonomy. An
// INSUFFICIENT_BALANCE code carries the available/required amounts;
// everything else is a validation failure.
func (p *RemoteProvider) translateClientError(status int, body []byte) error {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Code != "" {
		if env.Error.Code == "INSUFFICIENT_BALANCE" {
			e := InsufficientBalanceError(env.Error.Available, env.Error.Required)
			e.StatusCode = status
			return e
		}
		e := NewError(KindValidation, env.Error.Message)
		e.StatusCode = status
		return e
	}
	e := NewError(KindValidation, fmt.Sprintf("upstream rejected request with %d", status))
	e.StatusCode = status
	return e
}

func (p *RemoteProvider) logCall(method, path string, status int, body []byte) {
	truncated := body
	if len(truncated) > maxLoggedBody {
		truncated = truncated[:maxLoggedBody]
	}
	p.logger.Info("bank api call",
		"method", method,
		"path", path,
		"status", status,
		"body", string(truncated),
	)
}

func (p *RemoteProvider) observeCall(op, outcome string) {
	if p.observer != nil {
		p.observer.BankCall(op, outcome)
	}
}

func (p *RemoteProvider) observeRetry(result string) {
	if p.observer != nil {
		p.observer.BankRetry(result)
	}
}

func orReference(ref string) string {
	if ref != "" {
		return ref
	}
	return newReference("TRF")
}

func orStatus(status string) string {
	if status != "" {
		return status
	}
	return StatusCompleted
}
