package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestOutboxMetricsCounters(t *testing.T) {
	m := NewOutboxMetrics(prometheus.NewRegistry())
	m.IncPublished("order_paid")
	m.IncPublished("order_paid")
	m.IncRetried("order_refunded")
	m.IncDeadLettered("order_created", "max_attempts")

	if got := testutil.ToFloat64(m.published.WithLabelValues("order_paid")); got != 2 {
		t.Fatalf("expected 2 published, got %f", got)
	}
	if got := testutil.ToFloat64(m.retried.WithLabelValues("order_refunded")); got != 1 {
		t.Fatalf("expected 1 retry, got %f", got)
	}
	if got := testutil.ToFloat64(m.deadLettered.WithLabelValues("order_created", "max_attempts")); got != 1 {
		t.Fatalf("expected 1 dead letter, got %f", got)
	}
}
