// Package metrics collects and exposes Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the metrics interface the tool adapter and oauth flow
// record into.
type Recorder interface {
	RecordToolCall(tool, status string)
	RecordToolLatency(tool string, duration time.Duration)
	RecordTokenRefresh(outcome string)
	RecordCredentialResolution(source string)
	RecordSlotConflict()
}

// Collector implements Recorder on a Prometheus registry.
type Collector struct {
	toolCalls       *prometheus.CounterVec
	toolLatency     *prometheus.HistogramVec
	tokenRefreshes  *prometheus.CounterVec
	credResolutions *prometheus.CounterVec
	slotConflicts   prometheus.Counter
}

// NewCollector creates a Collector and registers its metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frontdesk_tool_calls_total",
			Help: "Scheduling tool invocations by tool and outcome",
		}, []string{"tool", "status"}),
		toolLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "frontdesk_tool_latency_seconds",
			Help:    "Scheduling tool latency by tool",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frontdesk_token_refreshes_total",
			Help: "OAuth token refresh attempts by outcome",
		}, []string{"outcome"}),
		credResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frontdesk_credential_resolutions_total",
			Help: "Credential resolutions by winning tier",
		}, []string{"source"}),
		slotConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "frontdesk_slot_conflicts_total",
			Help: "Bookings rejected because the slot was taken between offer and write",
		}),
	}

	reg.MustRegister(
		c.toolCalls,
		c.toolLatency,
		c.tokenRefreshes,
		c.credResolutions,
		c.slotConflicts,
	)

	return c
}

// RecordToolCall counts one tool invocation with its outcome, either
// "success" or the domain error kind.
func (c *Collector) RecordToolCall(tool, status string) {
	c.toolCalls.WithLabelValues(tool, status).Inc()
}

// RecordToolLatency observes how long a tool invocation took.
func (c *Collector) RecordToolLatency(tool string, duration time.Duration) {
	c.toolLatency.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordTokenRefresh counts a refresh attempt, outcome "success" or
// "failure".
func (c *Collector) RecordTokenRefresh(outcome string) {
	c.tokenRefreshes.WithLabelValues(outcome).Inc()
}

// RecordCredentialResolution counts which tier served a resolution.
func (c *Collector) RecordCredentialResolution(source string) {
	c.credResolutions.WithLabelValues(source).Inc()
}

// RecordSlotConflict counts a booking lost to the re-check.
func (c *Collector) RecordSlotConflict() {
	c.slotConflicts.Inc()
}

// SetupMetricsRoute returns an HTTP handler serving the registry in
// Prometheus exposition format.
func SetupMetricsRoute(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

// Nop is a Recorder that discards everything, for tests and for wiring
// where no registry exists.
type Nop struct{}

func (Nop) RecordToolCall(string, string) {}

func (Nop) RecordToolLatency(string, time.Duration) {}

func (Nop) RecordTokenRefresh(string) {}

func (Nop) RecordCredentialResolution(string) {}

func (Nop) RecordSlotConflict() {}
