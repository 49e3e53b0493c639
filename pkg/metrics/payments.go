package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics tracks webhook intake, settlement outcomes and refunds.
type PaymentMetrics struct {
	webhooks       *prometheus.CounterVec
	settlements    *prometheus.CounterVec
	mismatches     *prometheus.CounterVec
	refunds        *prometheus.CounterVec
	refundedCents  *prometheus.CounterVec
	authorizations *prometheus.CounterVec
}

// NewPaymentMetrics registers the payment metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhooks_total",
		Help: "Provider webhooks by provider and result (verified, rejected, duplicate, processed, failed).",
	}, []string{"provider", "result"})
	settlements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_settlements_total",
		Help: "Settlement outcomes by source and outcome.",
	}, []string{"source", "outcome"})
	mismatches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_amount_mismatch_total",
		Help: "Settled charges whose amount differs from the order total.",
	}, []string{"provider"})
	refunds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_refunds_total",
		Help: "Refunds issued by provider.",
	}, []string{"provider"})
	refundedCents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_refunded_cents_total",
		Help: "Refunded amount in minor units by provider.",
	}, []string{"provider"})
	authorizations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_authorizations_total",
		Help: "Charge authorizations by provider and result (created, reused, failed).",
	}, []string{"provider", "result"})
	reg.MustRegister(webhooks, settlements, mismatches, refunds, refundedCents, authorizations)
	return &PaymentMetrics{
		webhooks:       webhooks,
		settlements:    settlements,
		mismatches:     mismatches,
		refunds:        refunds,
		refundedCents:  refundedCents,
		authorizations: authorizations,
	}
}

func (m *PaymentMetrics) IncWebhook(provider, result string) {
	if m == nil || m.webhooks == nil {
		return
	}
	m.webhooks.WithLabelValues(normalizeLabel(provider), normalizeLabel(result)).Inc()
}

func (m *PaymentMetrics) IncSettlement(source, outcome string) {
	if m == nil || m.settlements == nil {
		return
	}
	m.settlements.WithLabelValues(normalizeLabel(source), normalizeLabel(outcome)).Inc()
}

func (m *PaymentMetrics) IncAmountMismatch(provider string) {
	if m == nil || m.mismatches == nil {
		return
	}
	m.mismatches.WithLabelValues(normalizeLabel(provider)).Inc()
}

// ObserveRefund counts one refund and adds its amount.
func (m *PaymentMetrics) ObserveRefund(provider string, amountCents int64) {
	if m == nil || m.refunds == nil {
		return
	}
	label := normalizeLabel(provider)
	m.refunds.WithLabelValues(label).Inc()
	if amountCents > 0 {
		m.refundedCents.WithLabelValues(label).Add(float64(amountCents))
	}
}

func (m *PaymentMetrics) IncAuthorization(provider, result string) {
	if m == nil || m.authorizations == nil {
		return
	}
	m.authorizations.WithLabelValues(normalizeLabel(provider), normalizeLabel(result)).Inc()
}
