package gateway

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/angelmondragon/paylifecycle/pkg/enums"
	pkgerrors "github.com/angelmondragon/paylifecycle/pkg/errors"
	"github.com/angelmondragon/paylifecycle/pkg/logger"
	"github.com/angelmondragon/paylifecycle/pkg/mercadopago"
)

// mercadoPagoDeadlineLayout is the offset format Checkout Pro expects for expiration dates.
const mercadoPagoDeadlineLayout = "2006-01-02T15:04:05.000-07:00"

type mercadoPagoAPI interface {
	CreatePreference(ctx context.Context, req mercadopago.PreferenceRequest, idempotencyKey string) (*mercadopago.Preference, error)
	GetPreference(ctx context.Context, preferenceID string) (*mercadopago.Preference, error)
	LatestPayment(ctx context.Context, externalReference string) (*mercadopago.Payment, error)
}

// MercadoPago issues Checkout Pro preferences, used for bank transfers.
type MercadoPago struct {
	api             mercadoPagoAPI
	notificationURL string
	sandbox         bool
	logg            *logger.Logger
}

// MercadoPagoParams wires the MercadoPago gateway.
type MercadoPagoParams struct {
	API             mercadoPagoAPI
	NotificationURL string
	Sandbox         bool
	Logger          *logger.Logger
}

func NewMercadoPago(params MercadoPagoParams) (*MercadoPago, error) {
	if params.API == nil {
		return nil, fmt.Errorf("mercadopago api client required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &MercadoPago{
		api:             params.API,
		notificationURL: strings.TrimSpace(params.NotificationURL),
		sandbox:         params.Sandbox,
		logg:            params.Logger,
	}, nil
}

func (m *MercadoPago) Name() enums.Gateway {
	return enums.GatewayMercadoPago
}

func (m *MercadoPago) CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "Payment " + req.Reference
	}
	apiReq := mercadopago.PreferenceRequest{
		Items: []mercadopago.Item{{
			ID:         req.Reference,
			Title:      title,
			Quantity:   1,
			UnitPrice:  req.Amount,
			CurrencyID: strings.ToUpper(req.Currency),
		}},
		ExternalReference: req.Reference,
		NotificationURL:   m.notificationURL,
	}
	if req.ExpiresAt != nil {
		apiReq.Expires = true
		apiReq.ExpirationDateTo = req.ExpiresAt.Format(mercadoPagoDeadlineLayout)
	}
	if req.PaymentMethod == enums.PaymentMethodBankTransfer {
		apiReq.PaymentMethods = &mercadopago.PaymentMethods{
			ExcludedPaymentTypes: []mercadopago.PaymentType{{ID: "credit_card"}, {ID: "debit_card"}, {ID: "prepaid_card"}},
		}
		if req.BankCode != nil {
			apiReq.PaymentMethods.DefaultPaymentMethod = strings.TrimSpace(*req.BankCode)
		}
	}

	pref, err := m.api.CreatePreference(ctx, apiReq, req.Reference)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(pref.ID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "mercadopago returned a preference without id")
	}

	out := &Preference{
		PreferenceID: pref.ID,
		InitPoint:    pref.InitPoint,
		ExpiresAt:    pref.ExpirationDateTo,
		Gateway:      enums.GatewayMercadoPago,
	}
	if sandbox := strings.TrimSpace(pref.SandboxInitPoint); sandbox != "" {
		out.SandboxInitPoint = &sandbox
		if m.sandbox {
			out.InitPoint = sandbox
		}
	}
	m.logg.Info(m.logg.WithPreferenceID(ctx, pref.ID), "mercadopago preference created")
	return out, nil
}

// QueryStatus resolves the preference's external reference and reports the latest payment
// status as returned by MercadoPago. No payment yet reads as pending.
func (m *MercadoPago) QueryStatus(ctx context.Context, preferenceID string) (StatusReport, error) {
	pref, err := m.api.GetPreference(ctx, preferenceID)
	if err != nil {
		return StatusReport{}, err
	}
	reference := strings.TrimSpace(pref.ExternalReference)
	if reference == "" {
		return StatusReport{}, pkgerrors.New(pkgerrors.CodeDependency, "mercadopago preference has no external reference")
	}

	payment, err := m.api.LatestPayment(ctx, reference)
	if err != nil {
		return StatusReport{}, err
	}
	if payment == nil {
		return StatusReport{RawStatus: string(enums.PaymentStatusPending)}, nil
	}

	report := StatusReport{RawStatus: payment.Status}
	if payment.ID != 0 {
		id := strconv.FormatInt(payment.ID, 10)
		report.ExternalPaymentID = &id
	}
	m.logg.Debug(m.logg.WithFields(ctx, map[string]any{
		"preference_id": preferenceID,
		"raw_status":    payment.Status,
		"status_detail": payment.StatusDetail,
	}), "mercadopago status queried")
	return report, nil
}
