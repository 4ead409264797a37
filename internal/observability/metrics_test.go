package observability

import (
	"testing"
	"time"

	"github.com/danmuck/ggipc/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsIsIdempotent(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()
}

func TestRecordersCount(t *testing.T) {
	testlog.Start(t)

	before := testutil.ToFloat64(calls.WithLabelValues("metrics-test", "ok"))
	RecordCall("metrics-test", "ok", 12*time.Millisecond)
	RecordCall("metrics-test", "ok", 3*time.Millisecond)
	if got := testutil.ToFloat64(calls.WithLabelValues("metrics-test", "ok")); got != before+2 {
		t.Fatalf("calls_total=%v, want %v", got, before+2)
	}

	RecordEvent("metrics-test", EventDelivered)
	if got := testutil.ToFloat64(events.WithLabelValues("metrics-test", EventDelivered)); got < 1 {
		t.Fatalf("events_total=%v", got)
	}

	beforeDrop := testutil.ToFloat64(dropped.WithLabelValues(DropUnknownStream))
	RecordDropped(DropUnknownStream)
	if got := testutil.ToFloat64(dropped.WithLabelValues(DropUnknownStream)); got != beforeDrop+1 {
		t.Fatalf("dropped_messages_total=%v", got)
	}

	RecordDisconnect(DisconnectLocal)
	if got := testutil.ToFloat64(disconnects.WithLabelValues(DisconnectLocal)); got < 1 {
		t.Fatalf("disconnects_total=%v", got)
	}
}
