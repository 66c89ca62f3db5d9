package nearbymetrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	nearbymetrics "github.com/dantte-lp/gonearby/internal/metrics"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := nearbymetrics.NewCollector(reg)

	if c.Endpoints == nil {
		t.Error("Endpoints is nil")
	}
	if c.FramesSent == nil {
		t.Error("FramesSent is nil")
	}
	if c.FramesReceived == nil {
		t.Error("FramesReceived is nil")
	}
	if c.PayloadBytesTransferred == nil {
		t.Error("PayloadBytesTransferred is nil")
	}
	if c.HandshakeDuration == nil {
		t.Error("HandshakeDuration is nil")
	}
	if c.UpgradeOutcomes == nil {
		t.Error("UpgradeOutcomes is nil")
	}

	// Verify all metrics are registered by gathering them.
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}

	// No data yet, so families may be empty -- but registration must not panic.
	_ = families
}

func TestRegisterUnregisterEndpoint(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := nearbymetrics.NewCollector(reg)

	c.RegisterEndpoint("abcd", "svc", "bluetooth")

	val := gaugeValue(t, c.Endpoints, "abcd", "svc", "bluetooth")
	if val != 1 {
		t.Errorf("after RegisterEndpoint: endpoints gauge = %v, want 1", val)
	}

	c.RegisterEndpoint("wxyz", "svc", "wifi_lan")

	val = gaugeValue(t, c.Endpoints, "wxyz", "svc", "wifi_lan")
	if val != 1 {
		t.Errorf("after second RegisterEndpoint: wxyz gauge = %v, want 1", val)
	}

	c.UnregisterEndpoint("abcd", "svc", "bluetooth")

	val = gaugeValue(t, c.Endpoints, "abcd", "svc", "bluetooth")
	if val != 0 {
		t.Errorf("after UnregisterEndpoint: abcd gauge = %v, want 0", val)
	}

	val = gaugeValue(t, c.Endpoints, "wxyz", "svc", "wifi_lan")
	if val != 1 {
		t.Errorf("wxyz gauge = %v, want 1 (should be unaffected)", val)
	}
}

func TestFrameCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := nearbymetrics.NewCollector(reg)

	c.IncFramesSent("abcd", "KEEP_ALIVE")
	c.IncFramesSent("abcd", "KEEP_ALIVE")
	c.IncFramesSent("abcd", "KEEP_ALIVE")

	val := counterValue(t, c.FramesSent, "abcd", "KEEP_ALIVE")
	if val != 3 {
		t.Errorf("FramesSent = %v, want 3", val)
	}

	c.IncFramesReceived("abcd", "PAYLOAD_TRANSFER")
	c.IncFramesReceived("abcd", "PAYLOAD_TRANSFER")

	val = counterValue(t, c.FramesReceived, "abcd", "PAYLOAD_TRANSFER")
	if val != 2 {
		t.Errorf("FramesReceived = %v, want 2", val)
	}
}

func TestPayloadByteCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := nearbymetrics.NewCollector(reg)

	c.AddPayloadBytesSent("abcd", 65536)
	c.AddPayloadBytesSent("abcd", 100)

	val := counterValue(t, c.PayloadBytesTransferred, "abcd", "sent")
	if val != 65636 {
		t.Errorf("PayloadBytesTransferred(sent) = %v, want 65636", val)
	}

	c.AddPayloadBytesReceived("abcd", 4096)

	val = counterValue(t, c.PayloadBytesTransferred, "abcd", "received")
	if val != 4096 {
		t.Errorf("PayloadBytesTransferred(received) = %v, want 4096", val)
	}
}

func TestHandshakeDuration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := nearbymetrics.NewCollector(reg)

	c.ObserveHandshakeDuration("bluetooth", 0.25)
	c.ObserveHandshakeDuration("bluetooth", 0.5)

	hist, err := c.HandshakeDuration.GetMetricWithLabelValues("bluetooth")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues: %v", err)
	}

	m := &dto.Metric{}
	if err := hist.(prometheus.Histogram).Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	if got := m.GetHistogram().GetSampleCount(); got != 2 {
		t.Errorf("HandshakeDuration sample count = %v, want 2", got)
	}
}

func TestUpgradeOutcomes(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := nearbymetrics.NewCollector(reg)

	c.RecordUpgradeOutcome("wifi_lan", "completed")
	c.RecordUpgradeOutcome("wifi_lan", "completed")
	c.RecordUpgradeOutcome("wifi_lan", "failed")

	val := counterValue(t, c.UpgradeOutcomes, "wifi_lan", "completed")
	if val != 2 {
		t.Errorf("UpgradeOutcomes(completed) = %v, want 2", val)
	}

	val = counterValue(t, c.UpgradeOutcomes, "wifi_lan", "failed")
	if val != 1 {
		t.Errorf("UpgradeOutcomes(failed) = %v, want 1", val)
	}
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

// gaugeValue reads the current value of a GaugeVec with the given labels.
func gaugeValue(t *testing.T, vec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()

	gauge, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := gauge.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetGauge().GetValue()
}

// counterValue reads the current value of a CounterVec with the given labels.
func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()

	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetCounter().GetValue()
}
