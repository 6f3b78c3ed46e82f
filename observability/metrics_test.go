package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestEscrowMetricsCounters(t *testing.T) {
	m := Escrow()
	if Escrow() != m {
		t.Fatalf("expected singleton registry")
	}
	before := testutil.ToFloat64(m.settlements.WithLabelValues("released"))
	m.RecordSettlement("released")
	if got := testutil.ToFloat64(m.settlements.WithLabelValues("released")); got != before+1 {
		t.Fatalf("settlements = %v, want %v", got, before+1)
	}

	opsBefore := testutil.ToFloat64(m.operations.WithLabelValues("close_transaction", "state"))
	m.Observe("close_transaction", "state", time.Millisecond)
	if got := testutil.ToFloat64(m.operations.WithLabelValues("close_transaction", "state")); got != opsBefore+1 {
		t.Fatalf("operations = %v, want %v", got, opsBefore+1)
	}
}

func TestAPIMetricsErrorStatus(t *testing.T) {
	m := API()
	before := testutil.ToFloat64(m.errors.WithLabelValues("/v1/transactions", "POST", "409"))
	m.Observe("/v1/transactions", "post", 409, time.Millisecond)
	if got := testutil.ToFloat64(m.errors.WithLabelValues("/v1/transactions", "POST", "409")); got != before+1 {
		t.Fatalf("errors = %v, want %v", got, before+1)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var e *EscrowMetrics
	e.Observe("x", "", 0)
	e.RecordCreated()
	e.RecordSettlement("refunded")
	var ev *eventMetrics
	ev.RecordEmitted("x")
	ev.SubscriberDelta(1)
	ev.RecordDropped()
}
