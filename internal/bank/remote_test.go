package bank

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/atlas-pay/atlas_pay/internal/logging"
	"github.com/atlas-pay/atlas_pay/internal/money"
)

func newRemote(t *testing.T, baseURL string) *RemoteProvider {
	t.Helper()
	return NewRemoteProvider(RemoteConfig{
		BaseURL:         baseURL,
		APIKey:          "test-key",
		Timeout:         2 * time.Second,
		Retries:         3,
		RetryDelay:      time.Millisecond,
		HoldingContract: "holding-contract",
		Fees:            money.DefaultFeePolicy(),
	}, logging.Discard(), nil)
}

func TestRemoteGetBalanceParsesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Api-Key"); got != "test-key" {
			t.Errorf("missing api key header, got %q", got)
		}
		w.Write([]byte(`{"result":{"balance":[{"value":"1234.56"},{"value":"0"}]}}`))
	}))
	defer srv.Close()

	p := newRemote(t, srv.URL)
	bal, err := p.GetBalance(context.Background(), "acct")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if !bal.Balance.Equal(dec(t, "1234.56")) {
		t.Fatalf("expected 1234.56, got %s", bal.Balance)
	}
}

func TestRemoteGetBalanceEmptyArrayIsInvalidResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"balance":[]}}`))
	}))
	defer srv.Close()

	p := newRemote(t, srv.URL)
	if _, err := p.GetBalance(context.Background(), "acct"); !IsKind(err, KindInvalidResponse) {
		t.Fatalf("expected invalid response, got %v", err)
	}
}

func TestRemoteGetBalanceBadValueIsInvalidResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"balance":[{"value":"not-a-number"}]}}`))
	}))
	defer srv.Close()

	p := newRemote(t, srv.URL)
	if _, err := p.GetBalance(context.Background(), "acct"); !IsKind(err, KindInvalidResponse) {
		t.Fatalf("expected invalid response, got %v", err)
	}
}

func TestRemoteExecuteTransferToleratesPascalCase(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"TransactionId":"tx-42","Reference":"REF-42","Status":"completed"}`))
	}))
	defer srv.Close()

	p := newRemote(t, srv.URL)
	rec, err := p.ExecuteTransfer(context.Background(), TransferInput{Source: "c1", Amount: dec(t, "500"), DestinationPhone: "+212600000001"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if rec.TransactionID != "tx-42" || rec.Reference != "REF-42" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if !rec.Fee.Equal(dec(t, "10")) || !rec.Total.Equal(dec(t, "510")) {
		t.Fatalf("unexpected fee math: %+v", rec)
	}
}

func TestRemoteRetryBoundOnServiceUnavailable(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := newRemote(t, srv.URL)
	_, err := p.ExecuteTransfer(context.Background(), TransferInput{Source: "c1", Amount: dec(t, "10"), DestinationRIB: "rib"})
	if !IsKind(err, KindServiceUnavailable) {
		t.Fatalf("expected service unavailable, got %v", err)
	}
	// retries=3 means exactly 4 attempts.
	if got := atomic.LoadInt32(&calls); got != 4 {
		t.Fatalf("expected 4 attempts, got %d", got)
	}
}

func TestRemoteInvalidCredentialsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := newRemote(t, srv.URL)
	_, err := p.ExecuteTransfer(context.Background(), TransferInput{Source: "c1", Amount: dec(t, "10"), DestinationRIB: "rib"})
	if !IsKind(err, KindInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
}

func TestRemoteInsufficientBalanceFromErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":"INSUFFICIENT_BALANCE","message":"not enough funds","available":"100","required":"510"}}`))
	}))
	defer srv.Close()

	p := newRemote(t, srv.URL)
	_, err := p.ExecuteTransfer(context.Background(), TransferInput{Source: "c1", Amount: dec(t, "500"), DestinationRIB: "rib"})
	be, ok := AsError(err)
	if !ok || be.Kind != KindInsufficientBalance {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if !be.Available.Equal(dec(t, "100")) || !be.Required.Equal(dec(t, "510")) {
		t.Fatalf("unexpected shortfall: %+v", be)
	}
}

func TestRemoteNetworkErrorRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening

	p := newRemote(t, srv.URL)
	_, err := p.GetBalance(context.Background(), "acct")
	if !IsKind(err, KindNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestRemoteBackoffCancellable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewRemoteProvider(RemoteConfig{
		BaseURL:    srv.URL,
		APIKey:     "k",
		Retries:    5,
		RetryDelay: time.Minute,
		Fees:       money.DefaultFeePolicy(),
	}, logging.Discard(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.GetBalance(ctx, "acct")
	if err == nil {
		t.Fatal("expected error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("backoff did not honour cancellation, took %s", elapsed)
	}
}

func TestRemoteReleaseEscrowPostReadFailureNonFatal(t *testing.T) {
	var balanceCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/accounts/balance":
			n := atomic.AddInt32(&balanceCalls, 1)
			if n == 1 {
				// pre-check read succeeds
				w.Write([]byte(`{"result":{"balance":[{"value":"1000"}]}}`))
				return
			}
			// post-reads fail
			w.WriteHeader(http.StatusInternalServerError)
		case "/api/transfers/execute":
			w.Write([]byte(`{"transactionId":"rel-1","reference":"REL-1","status":"completed"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	p := newRemote(t, srv.URL)
	release, err := p.ReleaseEscrow(context.Background(), ReleaseInput{
		BuyerID:               "buyer",
		SellerID:              "seller",
		Amount:                dec(t, "750"),
		OriginalTransactionID: "orig-1",
	})
	if err != nil {
		t.Fatalf("release must succeed once the transfer commits: %v", err)
	}
	if release.TransactionID != "rel-1" {
		t.Fatalf("unexpected release: %+v", release)
	}
	if release.BuyerBalance != nil || release.SellerBalance != nil {
		t.Fatalf("stale reads must be reported unknown, not invented: %+v", release)
	}
}

func TestRemoteReleaseEscrowPreCheckShortfall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"balance":[{"value":"10"}]}}`))
	}))
	defer srv.Close()

	p := newRemote(t, srv.URL)
	_, err := p.ReleaseEscrow(context.Background(), ReleaseInput{BuyerID: "b", SellerID: "s", Amount: dec(t, "750")})
	if !IsKind(err, KindInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
}
