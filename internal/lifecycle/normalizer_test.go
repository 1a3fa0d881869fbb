package lifecycle

import (
	"strings"
	"testing"

	"github.com/angelmondragon/paylifecycle/pkg/enums"
)

func TestNormalizeStatusSynonyms(t *testing.T) {
	cases := map[string]enums.PaymentStatus{
		"approved":     enums.PaymentStatusApproved,
		"SUCCESS":      enums.PaymentStatusApproved,
		" Approved ":   enums.PaymentStatusApproved,
		"rejected":     enums.PaymentStatusRejected,
		"Failure":      enums.PaymentStatusRejected,
		"cancelled":    enums.PaymentStatusCancelled,
		"CANCELED":     enums.PaymentStatusCancelled,
		"expired":      enums.PaymentStatusExpired,
		"Expire":       enums.PaymentStatusExpired,
		"pending":      enums.PaymentStatusPending,
		"IN_PROCESS":   enums.PaymentStatusPending,
		"inprocess":    enums.PaymentStatusPending,
		"\tinProcess ": enums.PaymentStatusPending,
	}
	for raw, want := range cases {
		if got := NormalizeStatus(raw); got != want {
			t.Fatalf("NormalizeStatus(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestNormalizeStatusUnknownIsPending(t *testing.T) {
	unknown := []string{"", "   ", "error", "authorized", "in process", "approvedd", "charged_back", "refunded", "null", "ok"}
	for _, raw := range unknown {
		if got := NormalizeStatus(raw); got != enums.PaymentStatusPending {
			t.Fatalf("NormalizeStatus(%q) = %q, want pending", raw, got)
		}
	}
	if got := NormalizeStatusPtr(nil); got != enums.PaymentStatusPending {
		t.Fatalf("NormalizeStatusPtr(nil) = %q, want pending", got)
	}
	raw := "canceled"
	if got := NormalizeStatusPtr(&raw); got != enums.PaymentStatusCancelled {
		t.Fatalf("NormalizeStatusPtr(canceled) = %q", got)
	}
}

func FuzzNormalizeStatus(f *testing.F) {
	for _, seed := range []string{"approved", "success", "x", "", "REJECTED", "in_process"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, raw string) {
		got := NormalizeStatus(raw)
		if !got.IsValid() {
			t.Fatalf("non-canonical result %q for %q", got, raw)
		}
		if _, known := statusSynonyms[strings.ToLower(strings.TrimSpace(raw))]; !known && got != enums.PaymentStatusPending {
			t.Fatalf("unrecognized %q produced %q", raw, got)
		}
	})
}
