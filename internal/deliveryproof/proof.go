// Package deliveryproof issues and checks the signed, time-bound token a
// buyer presents to confirm delivery. The token is transmitted out of
// band (typically as a scannable code) and returned verbatim.
package deliveryproof

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSignatureMismatch indicates the token was tampered with or was
	// signed with a different secret.
	ErrSignatureMismatch = errors.New("delivery proof signature mismatch")
	// ErrTransactionMismatch indicates the token was issued for a
	// different transaction.
	ErrTransactionMismatch = errors.New("delivery proof bound to another transaction")
	// ErrExpired indicates the token is past its expiry.
	ErrExpired = errors.New("delivery proof expired")
)

var b64 = base64.RawURLEncoding

// DefaultTTL is how long an issued proof stays valid.
const DefaultTTL = 24 * time.Hour

// Token is the compact delivery proof payload.
type Token struct {
	TransactionID string    `json:"transaction_id"`
	Signature     string    `json:"signature"`
	IssuedAt      time.Time `json:"issued_at"`
}

// Signer issues and verifies delivery proofs with a process-wide secret.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// New builds a signer. A zero ttl falls back to DefaultTTL.
func New(secret []byte, ttl time.Duration) (*Signer, error) {
	if len(secret) == 0 {
		return nil, errors.New("delivery proof secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Signer{secret: secret, ttl: ttl, now: time.Now}, nil
}

// WithClock overrides the time source. Test hook.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	s.now = now
	return s
}

// Issue signs a proof for the transaction, valid from now until now+ttl.
func (s *Signer) Issue(transactionID string) (Token, error) {
	if transactionID == "" {
		return Token{}, errors.New("transaction id is required")
	}
	issuedAt := s.now().UTC().Truncate(time.Second)
	expiry := issuedAt.Add(s.ttl)
	return Token{
		TransactionID: transactionID,
		Signature:     s.sign(transactionID, issuedAt, expiry),
		IssuedAt:      issuedAt,
	}, nil
}

// Verify accepts the token iff the recomputed signature matches exactly,
// the embedded transaction id equals the one under confirmation, and the
// token has not expired. Any failure rejects the token as a whole.
func (s *Signer) Verify(token Token, transactionID string) error {
	issuedAt := token.IssuedAt.UTC().Truncate(time.Second)
	expiry := issuedAt.Add(s.ttl)

	expected := s.sign(token.TransactionID, issuedAt, expiry)
	if !hmac.Equal([]byte(expected), []byte(token.Signature)) {
		return ErrSignatureMismatch
	}
	if token.TransactionID != transactionID {
		return ErrTransactionMismatch
	}
	if s.now().After(expiry) {
		return ErrExpired
	}
	return nil
}

// sign computes the keyed hash over the canonical field encoding. The
// expiry participates in the signature so a client cannot stretch the
// validity window.
func (s *Signer) sign(transactionID string, issuedAt, expiry time.Time) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s|%d|%d", transactionID, issuedAt.Unix(), expiry.Unix())
	return b64.EncodeToString(mac.Sum(nil))
}
