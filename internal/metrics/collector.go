// Package nearbymetrics exposes gonearby's runtime counters and gauges
// through a single Prometheus Collector (endpoint count, frames sent and
// received, payload bytes, handshake duration, upgrade outcomes).
package nearbymetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "gonearby"
	subsystem = "core"
)

// Label names.
const (
	labelEndpointID = "endpoint_id"
	labelServiceID  = "service_id"
	labelMedium     = "medium"
	labelFrameType  = "frame_type"
	labelDirection  = "direction"
	labelOutcome    = "outcome"
)

// -------------------------------------------------------------------------
// Collector — Prometheus Connections-Core Metrics
// -------------------------------------------------------------------------

// Collector holds all gonearby Prometheus metrics.
//
//   - Endpoints tracks currently connected endpoints.
//   - FramesSent/FramesReceived count OfflineFrame traffic by type.
//   - PayloadBytesTransferred sums PAYLOAD_TRANSFER chunk bytes.
//   - HandshakeDuration times the UKEY2 exchange end to end.
//   - UpgradeOutcomes counts completed/failed bandwidth-upgrade attempts.
type Collector struct {
	// Endpoints tracks the number of currently connected endpoints.
	Endpoints *prometheus.GaugeVec

	// FramesSent counts OfflineFrame messages transmitted, by type.
	FramesSent *prometheus.CounterVec

	// FramesReceived counts OfflineFrame messages received, by type.
	FramesReceived *prometheus.CounterVec

	// PayloadBytesTransferred sums payload chunk bytes moved, by direction.
	PayloadBytesTransferred *prometheus.CounterVec

	// HandshakeDuration records UKEY2 handshake latency per medium.
	HandshakeDuration *prometheus.HistogramVec

	// UpgradeOutcomes counts bandwidth-upgrade attempts by final outcome.
	UpgradeOutcomes *prometheus.CounterVec
}

// NewCollector creates a Collector with all metrics registered against
// the provided prometheus.Registerer. If reg is nil, prometheus.DefaultRegisterer
// is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Endpoints,
		c.FramesSent,
		c.FramesReceived,
		c.PayloadBytesTransferred,
		c.HandshakeDuration,
		c.UpgradeOutcomes,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	endpointLabels := []string{labelEndpointID, labelServiceID, labelMedium}
	frameLabels := []string{labelEndpointID, labelFrameType}
	payloadLabels := []string{labelEndpointID, labelDirection}
	handshakeLabels := []string{labelMedium}
	upgradeLabels := []string{labelMedium, labelOutcome}

	return &Collector{
		Endpoints: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "endpoints",
			Help:      "Number of currently connected endpoints.",
		}, endpointLabels),

		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_sent_total",
			Help:      "Total OfflineFrame messages transmitted, by frame type.",
		}, frameLabels),

		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_received_total",
			Help:      "Total OfflineFrame messages received, by frame type.",
		}, frameLabels),

		PayloadBytesTransferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "payload_bytes_transferred_total",
			Help:      "Total payload chunk bytes transferred, by direction (sent/received).",
		}, payloadLabels),

		HandshakeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "handshake_duration_seconds",
			Help:      "UKEY2 handshake duration from ClientInit to ClientFinish verification.",
			Buckets:   prometheus.DefBuckets,
		}, handshakeLabels),

		UpgradeOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "upgrade_outcomes_total",
			Help:      "Total bandwidth-upgrade attempts, by target medium and outcome (completed/failed).",
		}, upgradeLabels),
	}
}

// -------------------------------------------------------------------------
// Endpoint Lifecycle
// -------------------------------------------------------------------------

// RegisterEndpoint increments the connected-endpoints gauge.
func (c *Collector) RegisterEndpoint(endpointID, serviceID, medium string) {
	c.Endpoints.WithLabelValues(endpointID, serviceID, medium).Inc()
}

// UnregisterEndpoint decrements the connected-endpoints gauge.
func (c *Collector) UnregisterEndpoint(endpointID, serviceID, medium string) {
	c.Endpoints.WithLabelValues(endpointID, serviceID, medium).Dec()
}

// -------------------------------------------------------------------------
// Frame Counters
// -------------------------------------------------------------------------

// IncFramesSent increments the transmitted-frame counter for frameType.
func (c *Collector) IncFramesSent(endpointID, frameType string) {
	c.FramesSent.WithLabelValues(endpointID, frameType).Inc()
}

// IncFramesReceived increments the received-frame counter for frameType.
func (c *Collector) IncFramesReceived(endpointID, frameType string) {
	c.FramesReceived.WithLabelValues(endpointID, frameType).Inc()
}

// -------------------------------------------------------------------------
// Payload Transfer
// -------------------------------------------------------------------------

// AddPayloadBytesSent adds n bytes to the sent-payload counter.
func (c *Collector) AddPayloadBytesSent(endpointID string, n int) {
	c.PayloadBytesTransferred.WithLabelValues(endpointID, "sent").Add(float64(n))
}

// AddPayloadBytesReceived adds n bytes to the received-payload counter.
func (c *Collector) AddPayloadBytesReceived(endpointID string, n int) {
	c.PayloadBytesTransferred.WithLabelValues(endpointID, "received").Add(float64(n))
}

// -------------------------------------------------------------------------
// Handshake Timing
// -------------------------------------------------------------------------

// ObserveHandshakeDuration records how long a UKEY2 exchange took on medium.
func (c *Collector) ObserveHandshakeDuration(medium string, seconds float64) {
	c.HandshakeDuration.WithLabelValues(medium).Observe(seconds)
}

// -------------------------------------------------------------------------
// Bandwidth Upgrade
// -------------------------------------------------------------------------

// RecordUpgradeOutcome increments the upgrade-outcome counter for medium
// with outcome "completed" or "failed".
func (c *Collector) RecordUpgradeOutcome(medium, outcome string) {
	c.UpgradeOutcomes.WithLabelValues(medium, outcome).Inc()
}
