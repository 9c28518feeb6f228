package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	// Create a new registry for isolated testing
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	if m == nil {
		t.Fatal("NewMetricsWithRegistry returned nil")
	}
	if m.DatagramsReceived == nil {
		t.Error("DatagramsReceived metric is nil")
	}
	if m.Errors == nil {
		t.Error("Errors metric is nil")
	}
}

func TestRecordReceivedAndResponse(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordReceived()
	m.RecordReceived()
	m.RecordResponse(4)

	if got := testutil.ToFloat64(m.DatagramsReceived); got != 2 {
		t.Errorf("DatagramsReceived = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ResponsesSent); got != 1 {
		t.Errorf("ResponsesSent = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ResponseBytes); got != 4 {
		t.Errorf("ResponseBytes = %v, want 4", got)
	}
}

func TestRecordError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordError("invalid_address")
	m.RecordError("invalid_address")
	m.RecordError("send_failure")

	if got := testutil.ToFloat64(m.Errors.WithLabelValues("invalid_address")); got != 2 {
		t.Errorf("Errors{invalid_address} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Errors.WithLabelValues("send_failure")); got != 1 {
		t.Errorf("Errors{send_failure} = %v, want 1", got)
	}
}

func TestRecordDropped(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordDropped(DropRateLimited)

	if got := testutil.ToFloat64(m.DatagramsDropped.WithLabelValues(DropRateLimited)); got != 1 {
		t.Errorf("DatagramsDropped{rate_limited} = %v, want 1", got)
	}
}

func TestSetServing(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.SetServing(true)
	if got := testutil.ToFloat64(m.Serving); got != 1 {
		t.Errorf("Serving = %v, want 1", got)
	}

	m.SetServing(false)
	if got := testutil.ToFloat64(m.Serving); got != 0 {
		t.Errorf("Serving = %v, want 0", got)
	}
}

func TestDefault_Singleton(t *testing.T) {
	if Default() != Default() {
		t.Error("Default() should return the same instance")
	}
}
