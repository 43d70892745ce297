package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the capture and sync flow.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	SyncAttempts  *prometheus.CounterVec
	SyncLatency   prometheus.Histogram
	UploadBytes   prometheus.Counter
	Notifications *prometheus.CounterVec
	Captures      *prometheus.CounterVec
	Permissions   *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SyncAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "capturesync_sync_attempts_total",
			Help: "Sync attempts, labeled by outcome",
		}, []string{"outcome"}),
		SyncLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "capturesync_sync_latency_seconds",
			Help:    "End-to-end latency of sync attempts in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		UploadBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "capturesync_upload_bytes_total",
			Help: "Bytes uploaded to the object store",
		}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "capturesync_notifications_total",
			Help: "Notification dispatches, labeled by outcome (sent, failed, skipped)",
		}, []string{"outcome"}),
		Captures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "capturesync_captures_total",
			Help: "Capture attempts, labeled by kind and outcome",
		}, []string{"kind", "outcome"}),
		Permissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "capturesync_permission_requests_total",
			Help: "OS permission prompts, labeled by capability and result",
		}, []string{"capability", "state"}),
	}
}

// ObserveSync records one sync attempt.
func (m *Metrics) ObserveSync(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.SyncAttempts.WithLabelValues(outcome).Inc()
	m.SyncLatency.Observe(d.Seconds())
}

func (m *Metrics) AddUploadBytes(n int64) {
	if m == nil {
		return
	}
	m.UploadBytes.Add(float64(n))
}

func (m *Metrics) ObserveNotification(outcome string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveCapture(kind, outcome string) {
	if m == nil {
		return
	}
	m.Captures.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObservePermission(capability, state string) {
	if m == nil {
		return
	}
	m.Permissions.WithLabelValues(capability, state).Inc()
}
