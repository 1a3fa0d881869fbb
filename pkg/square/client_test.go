package square

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"unicode/utf8"

	sq "github.com/square/square-go-sdk"
	sqcore "github.com/square/square-go-sdk/core"

	"github.com/angelmondragon/paylifecycle/pkg/config"
	pkgerrors "github.com/angelmondragon/paylifecycle/pkg/errors"
	"github.com/angelmondragon/paylifecycle/pkg/logger"
)

func TestNewClientValidatesConfig(t *testing.T) {
	ctx := context.Background()
	if _, err := NewClient(ctx, config.SquareConfig{AccessToken: "tok", LocationID: "loc"}, nil); !errors.Is(err, errLoggerRequired) {
		t.Fatalf("expected logger error, got %v", err)
	}
	if _, err := NewClient(ctx, config.SquareConfig{LocationID: "loc"}, logger.Nop()); !errors.Is(err, errAccessTokenRequired) {
		t.Fatalf("expected token error, got %v", err)
	}
	if _, err := NewClient(ctx, config.SquareConfig{AccessToken: "tok"}, logger.Nop()); !errors.Is(err, errLocationIDRequired) {
		t.Fatalf("expected location error, got %v", err)
	}
	if _, err := NewClient(ctx, config.SquareConfig{Env: "staging", AccessToken: "tok", LocationID: "loc"}, logger.Nop()); !errors.Is(err, errInvalidSquareEnv) {
		t.Fatalf("expected env error, got %v", err)
	}
	client, err := NewClient(ctx, config.SquareConfig{AccessToken: "tok", LocationID: "loc"}, logger.Nop())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if client.Environment() != sandboxEnv || client.LocationID() != "loc" {
		t.Fatalf("unexpected client %+v", client)
	}
}

func TestEnsureIdempotencyKey(t *testing.T) {
	c := &Client{}
	if got := c.ensureIdempotencyKey("pref", "custom-key"); got != "custom-key" {
		t.Fatalf("expected provided key, got %q", got)
	}
	if got := c.ensureIdempotencyKey("prefix", ""); !strings.HasPrefix(got, "prefix-") {
		t.Fatalf("generated idempotency key %q missing prefix", got)
	}
}

func TestRedactFields(t *testing.T) {
	out := redactFields("create_payment", map[string]any{
		"source_token": "cnon:abc",
		"status":       "ok",
	})
	if out["source_token"] != "[REDACTED]" {
		t.Fatalf("expected redacted value, got %v", out["source_token"])
	}
	if out["status"] != "ok" || out["operation"] != "create_payment" {
		t.Fatalf("unexpected fields %v", out)
	}
}

func TestCodeForStatus(t *testing.T) {
	tests := []struct {
		status int
		code   pkgerrors.Code
	}{
		{http.StatusUnauthorized, pkgerrors.CodeUnauthorized},
		{http.StatusForbidden, pkgerrors.CodeUnauthorized},
		{http.StatusNotFound, pkgerrors.CodeNotFound},
		{http.StatusConflict, pkgerrors.CodeConflict},
		{http.StatusTooManyRequests, pkgerrors.CodeGatewayUnavailable},
		{http.StatusBadRequest, pkgerrors.CodeValidation},
		{http.StatusUnprocessableEntity, pkgerrors.CodeStateConflict},
		{http.StatusInternalServerError, pkgerrors.CodeGatewayUnavailable},
		{http.StatusBadGateway, pkgerrors.CodeGatewayUnavailable},
		{http.StatusPaymentRequired, pkgerrors.CodeValidation},
	}
	for _, tt := range tests {
		if got := codeForStatus(tt.status); got != tt.code {
			t.Fatalf("status %d expected %s got %s", tt.status, tt.code, got)
		}
	}
}

func TestClassify(t *testing.T) {
	table := []struct {
		name     string
		status   int
		payload  string
		wantCode pkgerrors.Code
	}{
		{
			name:     "authentication error",
			status:   http.StatusUnauthorized,
			payload:  `{"errors":[{"category":"AUTHENTICATION_ERROR","code":"UNAUTHORIZED"}]}`,
			wantCode: pkgerrors.CodeUnauthorized,
		},
		{
			name:     "idempotency key reused",
			status:   http.StatusConflict,
			payload:  `{"errors":[{"category":"API_ERROR","code":"IDEMPOTENCY_KEY_REUSED"}]}`,
			wantCode: pkgerrors.CodeIdempotency,
		},
		{
			name:     "card declined",
			status:   http.StatusPaymentRequired,
			payload:  `{"errors":[{"category":"PAYMENT_METHOD_ERROR","code":"CARD_DECLINED"}]}`,
			wantCode: pkgerrors.CodeValidation,
		},
	}
	for _, tt := range table {
		err := sqcore.NewAPIError(tt.status, errors.New(tt.payload))
		typed := pkgerrors.As(classify("operation", err))
		if typed == nil {
			t.Fatalf("%s: result is not pkgerror", tt.name)
		}
		if typed.Code() != tt.wantCode {
			t.Fatalf("%s: expected code %s, got %s", tt.name, tt.wantCode, typed.Code())
		}
	}
	if got := classify("operation", errors.New("dial tcp")); !pkgerrors.IsRetryable(got) || !pkgerrors.HasCode(got, pkgerrors.CodeGatewayUnavailable) {
		t.Fatalf("expected gateway unavailable for transport errors, got %v", got)
	}
}

func TestSquareErrors(t *testing.T) {
	payload := `{"errors":[{"category":"API_ERROR","code":"BAD_REQUEST","detail":"oops"}]}`
	apiErr := sqcore.NewAPIError(http.StatusBadRequest, errors.New(payload))
	got := squareErrors(apiErr)
	if len(got) != 1 {
		t.Fatalf("expected 1 error, got %d", len(got))
	}
	if got[0].GetCode() != sq.ErrorCodeBadRequest {
		t.Fatalf("unexpected error code %s", got[0].GetCode())
	}
}

func TestPaymentCreateParamsRequest(t *testing.T) {
	autocomplete := false
	req := PaymentCreateParams{
		AmountCents:  1599,
		Currency:     "usd",
		LocationID:   "loc",
		SourceID:     "cnon:card",
		ReferenceID:  "ref-1",
		Autocomplete: &autocomplete,
	}.toSquareRequest("idem")
	if req.IdempotencyKey != "idem" || req.SourceID != "cnon:card" {
		t.Fatalf("unexpected request %+v", req)
	}
	if req.AmountMoney == nil || *req.AmountMoney.Amount != 1599 || string(*req.AmountMoney.Currency) != "USD" {
		t.Fatalf("unexpected money %+v", req.AmountMoney)
	}
	if req.CustomerID != nil {
		t.Fatalf("blank customer id should be omitted")
	}
	if req.ReferenceID == nil || *req.ReferenceID != "ref-1" {
		t.Fatalf("reference id missing")
	}
}

func TestPaymentCreateParamsValidate(t *testing.T) {
	valid := PaymentCreateParams{AmountCents: 100, Currency: "mxn", SourceID: "cnon:card"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid params, got %v", err)
	}

	cases := map[string]PaymentCreateParams{
		"zero amount":     {SourceID: "cnon:card"},
		"missing source":  {AmountCents: 100},
		"bad currency":    {AmountCents: 100, SourceID: "cnon:card", Currency: "pesos"},
		"long reference":  {AmountCents: 100, SourceID: "cnon:card", ReferenceID: strings.Repeat("r", maxReferenceIDLen+1)},
		"negative amount": {AmountCents: -5, SourceID: "cnon:card"},
	}
	for name, params := range cases {
		if err := params.Validate(); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestFitIdempotencyKey(t *testing.T) {
	short := "pi-123"
	if got := fitIdempotencyKey(short); got != short {
		t.Fatalf("short keys must pass through, got %q", got)
	}

	long := "intent-" + strings.Repeat("a", 80)
	got := fitIdempotencyKey(long)
	if len(got) != maxIdempotencyKeyLen {
		t.Fatalf("expected %d chars, got %d", maxIdempotencyKeyLen, len(got))
	}
	if again := fitIdempotencyKey(long); again != got {
		t.Fatalf("digest must be stable: %q vs %q", got, again)
	}
	if other := fitIdempotencyKey(long + "b"); other == got {
		t.Fatalf("distinct keys collapsed to %q", got)
	}
}

func TestPaymentCreateParamsClipsNote(t *testing.T) {
	req := PaymentCreateParams{
		AmountCents: 100,
		SourceID:    " cnon:card ",
		Note:        strings.Repeat("ñ", maxNoteLen+20),
	}.toSquareRequest("idem")
	if req.Note == nil || utf8.RuneCountInString(*req.Note) != maxNoteLen {
		t.Fatalf("expected note clipped to %d runes", maxNoteLen)
	}
	if req.SourceID != "cnon:card" {
		t.Fatalf("source id should be trimmed, got %q", req.SourceID)
	}
	if req.AmountMoney == nil || string(*req.AmountMoney.Currency) != defaultCurrency {
		t.Fatalf("blank currency should default to %s", defaultCurrency)
	}
}
