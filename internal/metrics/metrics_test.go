package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_ObserveCycle(t *testing.T) {
	m := New(prometheus.NewRegistry())

	temp, hum, batt := 21.5, 48.0, 80
	m.ObserveCycle("porch", "ok", &temp, &hum, &batt)
	m.ObserveCycle("porch", "not_found", nil, nil, nil)

	if got := testutil.ToFloat64(m.cycles.WithLabelValues("porch", "ok")); got != 1 {
		t.Errorf("ok cycles = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.cycles.WithLabelValues("porch", "not_found")); got != 1 {
		t.Errorf("not_found cycles = %v, want 1", got)
	}
	// A cycle without values leaves the last gauges in place.
	if got := testutil.ToFloat64(m.temperature.WithLabelValues("porch")); got != 21.5 {
		t.Errorf("temperature = %v, want 21.5", got)
	}
	if got := testutil.ToFloat64(m.battery.WithLabelValues("porch")); got != 80 {
		t.Errorf("battery = %v, want 80", got)
	}
}

func TestMetrics_CountersAndState(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveRejection("porch", "shape")
	m.ObserveRejection("porch", "shape")
	m.ObserveRequest("porch", "humidity", false)
	m.SetState("porch", 3)

	if got := testutil.ToFloat64(m.rejections.WithLabelValues("porch", "shape")); got != 2 {
		t.Errorf("rejections = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("porch", "humidity", "unavailable")); got != 1 {
		t.Errorf("requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.state.WithLabelValues("porch")); got != 3 {
		t.Errorf("state = %v, want 3", got)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveCycle("porch", "ok", nil, nil, nil)
	m.ObserveRejection("porch", "address")
	m.ObserveRequest("porch", "battery", true)
	m.SetState("porch", 1)
}
