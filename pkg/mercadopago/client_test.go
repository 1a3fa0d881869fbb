package mercadopago

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/paylifecycle/pkg/errors"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{},
	}
}

func newTestClient(t *testing.T, rt roundTripFunc) *Client {
	t.Helper()
	client, err := NewClient("test-token", WithBaseURL("http://mp.test"), WithHTTPClient(&http.Client{Transport: rt}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestNewClientRequiresToken(t *testing.T) {
	if _, err := NewClient("  "); err == nil {
		t.Fatalf("expected error for blank token")
	}
}

func TestCreatePreferenceRequest(t *testing.T) {
	var captured *http.Request
	var payload map[string]any
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		captured = req
		body, err := io.ReadAll(req.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("unmarshal body: %v", err)
		}
		return jsonResponse(http.StatusCreated, `{"id":"pref_1","init_point":"https://mp/init","sandbox_init_point":"https://sandbox/init","external_reference":"ref-1","expiration_date_to":"2024-03-10T15:10:00.000-03:00"}`), nil
	})

	pref, err := client.CreatePreference(context.Background(), PreferenceRequest{
		Items:             []Item{{Title: "Plan", Quantity: 1, UnitPrice: decimal.RequireFromString("1500.50"), CurrencyID: "ARS"}},
		ExternalReference: "ref-1",
		Expires:           true,
		ExpirationDateTo:  "2024-03-10T15:10:00.000-03:00",
	}, "idem-1")
	if err != nil {
		t.Fatalf("create preference: %v", err)
	}
	if captured.URL.String() != "http://mp.test/checkout/preferences" {
		t.Fatalf("unexpected url %q", captured.URL.String())
	}
	if captured.Header.Get("Authorization") != "Bearer test-token" {
		t.Fatalf("missing bearer token")
	}
	if captured.Header.Get("X-Idempotency-Key") != "idem-1" {
		t.Fatalf("unexpected idempotency key %q", captured.Header.Get("X-Idempotency-Key"))
	}
	if payload["external_reference"] != "ref-1" {
		t.Fatalf("unexpected external reference %v", payload["external_reference"])
	}
	if pref.ID != "pref_1" || pref.SandboxInitPoint != "https://sandbox/init" {
		t.Fatalf("unexpected preference %+v", pref)
	}
}

func TestCreatePreferenceRequiresItems(t *testing.T) {
	client := newTestClient(t, func(*http.Request) (*http.Response, error) {
		t.Fatalf("no request expected")
		return nil, nil
	})
	_, err := client.CreatePreference(context.Background(), PreferenceRequest{}, "")
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLatestPaymentQuery(t *testing.T) {
	var capturedURL string
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		capturedURL = req.URL.String()
		return jsonResponse(http.StatusOK, `{"results":[{"id":991,"status":"in_process","external_reference":"ref-1"}]}`), nil
	})

	payment, err := client.LatestPayment(context.Background(), "ref-1")
	if err != nil {
		t.Fatalf("latest payment: %v", err)
	}
	if !strings.HasPrefix(capturedURL, "http://mp.test/v1/payments/search?") || !strings.Contains(capturedURL, "external_reference=ref-1") {
		t.Fatalf("unexpected url %q", capturedURL)
	}
	if payment == nil || payment.ID != 991 || payment.Status != "in_process" {
		t.Fatalf("unexpected payment %+v", payment)
	}
}

func TestLatestPaymentEmpty(t *testing.T) {
	client := newTestClient(t, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"results":[]}`), nil
	})
	payment, err := client.LatestPayment(context.Background(), "ref-1")
	if err != nil {
		t.Fatalf("latest payment: %v", err)
	}
	if payment != nil {
		t.Fatalf("expected nil payment, got %+v", payment)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		code   pkgerrors.Code
	}{
		{http.StatusUnauthorized, pkgerrors.CodeUnauthorized},
		{http.StatusNotFound, pkgerrors.CodeNotFound},
		{http.StatusBadRequest, pkgerrors.CodeValidation},
		{http.StatusBadGateway, pkgerrors.CodeGatewayUnavailable},
		{http.StatusTooManyRequests, pkgerrors.CodeGatewayUnavailable},
	}
	for _, tt := range tests {
		client := newTestClient(t, func(*http.Request) (*http.Response, error) {
			return jsonResponse(tt.status, `{"message":"nope"}`), nil
		})
		_, err := client.GetPreference(context.Background(), "pref_1")
		if !pkgerrors.HasCode(err, tt.code) {
			t.Fatalf("status %d expected %s, got %v", tt.status, tt.code, err)
		}
	}
}
