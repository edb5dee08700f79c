package pricing

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// ErrSigningKey reports an unusable signing key.
var ErrSigningKey = errors.New("pricing: signing key must be at most 64 bytes")

// Signer computes keyed BLAKE2b-256 quote signatures.
type Signer struct {
	key []byte
}

// NewSigner validates the key. An empty key yields a nil signer.
func NewSigner(key []byte) (*Signer, error) {
	if len(key) == 0 {
		return nil, nil
	}
	if len(key) > blake2b.Size {
		return nil, ErrSigningKey
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Signer{key: k}, nil
}

func canonical(q Quote) string {
	return strings.Join([]string{
		q.ID.String(),
		q.TenantID,
		q.Inputs.SKU,
		q.Inputs.Qty.String(),
		q.Inputs.CustomerID,
		q.TotalNet.StringFixed(2),
		q.TotalGross.StringFixed(2),
		q.Currency,
		q.CalculatedAt.UTC().Format(time.RFC3339Nano),
		q.ExpiresAt.UTC().Format(time.RFC3339Nano),
	}, "|")
}

// Sign returns the hex encoded signature of the quote.
func (s *Signer) Sign(q Quote) (string, error) {
	h, err := blake2b.New256(s.key)
	if err != nil {
		return "", err
	}
	h.Write([]byte(canonical(q)))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify recomputes the signature and compares it in constant time.
func (s *Signer) Verify(q Quote) bool {
	if s == nil || q.Signature == "" {
		return false
	}
	want, err := s.Sign(q)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(q.Signature)) == 1
}
