package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPaymentMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPaymentMetrics(reg)

	m.IncWebhook("stripe", "verified")
	m.IncWebhook("stripe", "verified")
	m.IncWebhook("square", "rejected")
	m.IncSettlement("webhook", "paid")
	m.IncAmountMismatch("stripe")
	m.ObserveRefund("stripe", 500)
	m.ObserveRefund("stripe", 75)
	m.IncAuthorization("", "created")

	if got := testutil.ToFloat64(m.webhooks.WithLabelValues("stripe", "verified")); got != 2 {
		t.Fatalf("expected 2 verified stripe webhooks, got %f", got)
	}
	if got := testutil.ToFloat64(m.webhooks.WithLabelValues("square", "rejected")); got != 1 {
		t.Fatalf("expected 1 rejected square webhook, got %f", got)
	}
	if got := testutil.ToFloat64(m.settlements.WithLabelValues("webhook", "paid")); got != 1 {
		t.Fatalf("expected 1 settlement, got %f", got)
	}
	if got := testutil.ToFloat64(m.mismatches.WithLabelValues("stripe")); got != 1 {
		t.Fatalf("expected 1 mismatch, got %f", got)
	}
	if got := testutil.ToFloat64(m.refunds.WithLabelValues("stripe")); got != 2 {
		t.Fatalf("expected 2 refunds, got %f", got)
	}
	if got := testutil.ToFloat64(m.refundedCents.WithLabelValues("stripe")); got != 575 {
		t.Fatalf("expected 575 refunded cents, got %f", got)
	}
	if got := testutil.ToFloat64(m.authorizations.WithLabelValues("unknown", "created")); got != 1 {
		t.Fatalf("expected empty provider label normalized, got %f", got)
	}
}

func TestPaymentMetricsNilSafe(t *testing.T) {
	var m *PaymentMetrics
	m.IncWebhook("stripe", "verified")
	m.ObserveRefund("stripe", 1)

	noop := NewPaymentMetrics(nil)
	noop.IncSettlement("webhook", "paid")
	noop.IncAmountMismatch("stripe")
}
