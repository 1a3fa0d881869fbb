package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/paylifecycle/pkg/errors"
)

const (
	defaultBaseURL              = "https://api.mercadopago.com"
	defaultTimeout              = 10 * time.Second
	responseBodyReadLimit int64 = 1024
)

var errAccessTokenRequired = errors.New("mercadopago access token is required")

// Client wraps the MercadoPago Checkout Pro and payments search APIs.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	accessToken string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout, Transport: c.httpClient.Transport}
		}
	}
}

// NewClient builds the MercadoPago client given an access token.
func NewClient(accessToken string, opts ...Option) (*Client, error) {
	trimmedToken := strings.TrimSpace(accessToken)
	if trimmedToken == "" {
		return nil, errAccessTokenRequired
	}

	client := &Client{
		accessToken: trimmedToken,
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: defaultTimeout},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return client, nil
}

// Item is one line of a checkout preference.
type Item struct {
	ID         string          `json:"id,omitempty"`
	Title      string          `json:"title"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	CurrencyID string          `json:"currency_id"`
}

// PaymentMethods restricts what the checkout offers.
type PaymentMethods struct {
	ExcludedPaymentTypes []PaymentType `json:"excluded_payment_types,omitempty"`
	DefaultPaymentMethod string        `json:"default_payment_method_id,omitempty"`
	Installments         int           `json:"installments,omitempty"`
}

// PaymentType names a MercadoPago payment type id.
type PaymentType struct {
	ID string `json:"id"`
}

// PreferenceRequest is the body sent to POST /checkout/preferences.
type PreferenceRequest struct {
	Items               []Item          `json:"items"`
	ExternalReference   string          `json:"external_reference"`
	NotificationURL     string          `json:"notification_url,omitempty"`
	Expires             bool            `json:"expires"`
	ExpirationDateTo    string          `json:"expiration_date_to,omitempty"`
	PaymentMethods      *PaymentMethods `json:"payment_methods,omitempty"`
	StatementDescriptor string          `json:"statement_descriptor,omitempty"`
}

// Preference is the subset of the preference resource the lifecycle needs.
type Preference struct {
	ID                string `json:"id"`
	InitPoint         string `json:"init_point"`
	SandboxInitPoint  string `json:"sandbox_init_point"`
	ExternalReference string `json:"external_reference"`
	ExpirationDateTo  string `json:"expiration_date_to"`
}

// Payment is the subset of the payment resource the lifecycle needs.
type Payment struct {
	ID                int64  `json:"id"`
	Status            string `json:"status"`
	StatusDetail      string `json:"status_detail"`
	ExternalReference string `json:"external_reference"`
	DateCreated       string `json:"date_created"`
}

// CreatePreference opens a checkout preference. The idempotency key is generated when empty.
func (c *Client) CreatePreference(ctx context.Context, req PreferenceRequest, idempotencyKey string) (*Preference, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "mercadopago client not configured")
	}
	if len(req.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "preference requires at least one item")
	}
	if strings.TrimSpace(idempotencyKey) == "" {
		idempotencyKey = uuid.NewString()
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal preference request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.buildURL("checkout/preferences"), bytes.NewReader(payload))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build preference request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Idempotency-Key", idempotencyKey)

	var pref Preference
	if err := c.do(httpReq, http.StatusCreated, &pref, "create preference"); err != nil {
		return nil, err
	}
	return &pref, nil
}

// GetPreference fetches a preference by id.
func (c *Client) GetPreference(ctx context.Context, preferenceID string) (*Preference, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "mercadopago client not configured")
	}
	trimmed := strings.TrimSpace(preferenceID)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "preference id is required")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.buildURL("checkout/preferences/"+url.PathEscape(trimmed)), nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build preference lookup request")
	}

	var pref Preference
	if err := c.do(httpReq, http.StatusOK, &pref, "get preference"); err != nil {
		return nil, err
	}
	return &pref, nil
}

// LatestPayment returns the most recent payment for the external reference, or nil when the
// payer has not started one yet.
func (c *Client) LatestPayment(ctx context.Context, externalReference string) (*Payment, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "mercadopago client not configured")
	}
	trimmed := strings.TrimSpace(externalReference)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external reference is required")
	}

	query := url.Values{}
	query.Set("external_reference", trimmed)
	query.Set("sort", "date_created")
	query.Set("criteria", "desc")
	query.Set("limit", "1")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.buildURL("v1/payments/search")+"?"+query.Encode(), nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build payment search request")
	}

	var apiResp struct {
		Results []Payment `json:"results"`
	}
	if err := c.do(httpReq, http.StatusOK, &apiResp, "search payments"); err != nil {
		return nil, err
	}
	if len(apiResp.Results) == 0 {
		return nil, nil
	}
	payment := apiResp.Results[0]
	return &payment, nil
}

func (c *Client) do(httpReq *http.Request, wantStatus int, out any, op string) error {
	httpReq.Header.Set("Authorization", "Bearer "+c.accessToken)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeGatewayUnavailable, err, fmt.Sprintf("execute %s request", op))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != wantStatus && resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(codeForStatus(resp.StatusCode), fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), fmt.Sprintf("%s request failed", op))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("decode %s response", op))
	}
	return nil
}

func (c *Client) buildURL(path string) string {
	return strings.TrimRight(c.baseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

func codeForStatus(status int) pkgerrors.Code {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return pkgerrors.CodeUnauthorized
	case http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case http.StatusBadRequest:
		return pkgerrors.CodeValidation
	default:
		return pkgerrors.CodeGatewayUnavailable
	}
}
