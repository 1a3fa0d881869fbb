package lifecycle

import (
	"strings"

	"github.com/angelmondragon/paylifecycle/pkg/enums"
)

var statusSynonyms = map[string]enums.PaymentStatus{
	"approved":   enums.PaymentStatusApproved,
	"success":    enums.PaymentStatusApproved,
	"rejected":   enums.PaymentStatusRejected,
	"failure":    enums.PaymentStatusRejected,
	"cancelled":  enums.PaymentStatusCancelled,
	"canceled":   enums.PaymentStatusCancelled,
	"expired":    enums.PaymentStatusExpired,
	"expire":     enums.PaymentStatusExpired,
	"pending":    enums.PaymentStatusPending,
	"in_process": enums.PaymentStatusPending,
	"inprocess":  enums.PaymentStatusPending,
}

// NormalizeStatus maps an upstream status token onto the canonical set.
// Blank and unrecognized tokens map to pending so an unknown report never closes a payment.
func NormalizeStatus(raw string) enums.PaymentStatus {
	key := strings.ToLower(strings.TrimSpace(raw))
	if status, ok := statusSynonyms[key]; ok {
		return status
	}
	return enums.PaymentStatusPending
}

// NormalizeStatusPtr is NormalizeStatus for optional input; nil is treated as absent.
func NormalizeStatusPtr(raw *string) enums.PaymentStatus {
	if raw == nil {
		return enums.PaymentStatusPending
	}
	return NormalizeStatus(*raw)
}
