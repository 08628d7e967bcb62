package deliveryproof

import (
	"errors"
	"testing"
	"time"
)

func newSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := New([]byte("test-secret"), time.Hour)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	return s
}

func TestIssueAndVerify(t *testing.T) {
	s := newSigner(t)

	token, err := s.Issue("T1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := s.Verify(token, "T1"); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyRejectsOtherTransaction(t *testing.T) {
	s := newSigner(t)

	token, _ := s.Issue("T1")
	if err := s.Verify(token, "T2"); !errors.Is(err, ErrTransactionMismatch) {
		t.Fatalf("expected transaction mismatch, got %v", err)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	s := newSigner(t)

	token, _ := s.Issue("T1")

	forged := token
	forged.TransactionID = "T2"
	if err := s.Verify(forged, "T2"); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected signature mismatch, got %v", err)
	}

	broken := token
	broken.Signature = token.Signature[:len(token.Signature)-2] + "xx"
	if err := s.Verify(broken, "T1"); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected signature mismatch, got %v", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	s := newSigner(t)

	issued := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.WithClock(func() time.Time { return issued })
	token, _ := s.Issue("T1")

	s.WithClock(func() time.Time { return issued.Add(2 * time.Hour) })
	if err := s.Verify(token, "T1"); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected expired, got %v", err)
	}

	// Just inside the window is still valid.
	s.WithClock(func() time.Time { return issued.Add(time.Hour) })
	if err := s.Verify(token, "T1"); err != nil {
		t.Fatalf("expected valid token at expiry boundary, got %v", err)
	}
}

func TestVerifyRejectsStretchedIssuedAt(t *testing.T) {
	s := newSigner(t)

	issued := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.WithClock(func() time.Time { return issued })
	token, _ := s.Issue("T1")

	// Pushing issued_at forward to extend the window breaks the signature.
	stretched := token
	stretched.IssuedAt = token.IssuedAt.Add(time.Hour)
	if err := s.Verify(stretched, "T1"); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected signature mismatch, got %v", err)
	}
}

func TestSignerRequiresSecret(t *testing.T) {
	if _, err := New(nil, time.Hour); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
