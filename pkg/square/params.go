package square

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	sq "github.com/square/square-go-sdk"

	pkgerrors "github.com/angelmondragon/paylifecycle/pkg/errors"
)

// Square rejects requests whose fields exceed these lengths.
const (
	maxIdempotencyKeyLen = 45
	maxReferenceIDLen    = 40
	maxNoteLen           = 500
	defaultCurrency      = "USD"
)

// PaymentCreateParams encapsulates the inputs for a Square payment.
type PaymentCreateParams struct {
	AmountCents    int64
	Currency       string
	LocationID     string
	CustomerID     string
	SourceID       string
	IdempotencyKey string
	Note           string
	ReferenceID    string
	// Autocomplete false only authorizes the card; the payment stays APPROVED until captured.
	Autocomplete *bool
}

// Validate reports the first field Square would refuse.
func (p PaymentCreateParams) Validate() error {
	if p.AmountCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "square amount must be positive")
	}
	if strings.TrimSpace(p.SourceID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "square source id is required")
	}
	if code := normalizeCurrency(p.Currency); len(code) != 3 {
		return pkgerrors.New(pkgerrors.CodeValidation, "square currency must be a 3-letter ISO code").
			WithDetails(map[string]any{"currency": p.Currency})
	}
	if n := utf8.RuneCountInString(strings.TrimSpace(p.ReferenceID)); n > maxReferenceIDLen {
		return pkgerrors.New(pkgerrors.CodeValidation, "square reference id too long").
			WithDetails(map[string]any{"length": n, "max": maxReferenceIDLen})
	}
	return nil
}

func (p PaymentCreateParams) toSquareRequest(idempotencyKey string) *sq.CreatePaymentRequest {
	req := &sq.CreatePaymentRequest{
		IdempotencyKey: idempotencyKey,
		LocationID:     optional(p.LocationID),
		CustomerID:     optional(p.CustomerID),
		SourceID:       strings.TrimSpace(p.SourceID),
		Autocomplete:   p.Autocomplete,
		ReferenceID:    optional(p.ReferenceID),
		AmountMoney:    money(p.AmountCents, p.Currency),
	}
	if note := strings.TrimSpace(p.Note); note != "" {
		note = clip(note, maxNoteLen)
		req.Note = &note
	}
	return req
}

// fitIdempotencyKey keeps caller keys stable while honoring Square's length
// cap: an oversized key is replaced by a digest of itself.
func fitIdempotencyKey(key string) string {
	if len(key) <= maxIdempotencyKeyLen {
		return key
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:maxIdempotencyKeyLen]
}

func optional(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func normalizeCurrency(code string) string {
	trimmed := strings.ToUpper(strings.TrimSpace(code))
	if trimmed == "" {
		return defaultCurrency
	}
	return trimmed
}

func money(amount int64, currency string) *sq.Money {
	if amount <= 0 {
		return nil
	}
	c := sq.Currency(normalizeCurrency(currency))
	return &sq.Money{Amount: &amount, Currency: &c}
}

func clip(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
