// Package metrics collects Prometheus metrics for the portal.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hongminglow/hostel-portal/internal/models"
)

// Collector implements the recorder interfaces of the gateway, session and
// booking packages and of the HTTP middleware.
type Collector struct {
	gatewayCalls   *prometheus.CounterVec
	gatewayLatency *prometheus.HistogramVec
	sessionChanges *prometheus.CounterVec
	bookingSteps   *prometheus.CounterVec
	bookingEvents  *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		gatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hostel_portal_gateway_calls_total",
			Help: "Calls to the hostel API by operation and outcome.",
		}, []string{"op", "outcome"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hostel_portal_gateway_call_duration_seconds",
			Help:    "Latency of hostel API calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		sessionChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hostel_portal_session_transitions_total",
			Help: "Session state transitions.",
		}, []string{"from", "to"}),
		bookingSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hostel_portal_booking_steps_total",
			Help: "Booking transactions entering each step.",
		}, []string{"step"}),
		bookingEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hostel_portal_booking_events_total",
			Help: "Booking lifecycle events (selected, rejected, cancelled, acknowledged, reset).",
		}, []string{"event"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hostel_portal_http_responses_total",
			Help: "Portal responses by status code.",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.gatewayCalls,
		c.gatewayLatency,
		c.sessionChanges,
		c.bookingSteps,
		c.bookingEvents,
		c.httpStatus,
	)
	return c
}

// RecordCall records one hostel API call.
func (c *Collector) RecordCall(op, outcome string, duration time.Duration) {
	c.gatewayCalls.WithLabelValues(op, outcome).Inc()
	c.gatewayLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordSessionTransition records a session state change.
func (c *Collector) RecordSessionTransition(from, to models.AuthStatus) {
	c.sessionChanges.WithLabelValues(string(from), string(to)).Inc()
}

// RecordBookingStep records a transaction entering step.
func (c *Collector) RecordBookingStep(step models.BookingStep) {
	c.bookingSteps.WithLabelValues(string(step)).Inc()
}

// RecordBookingEvent records a booking lifecycle event.
func (c *Collector) RecordBookingEvent(event string) {
	c.bookingEvents.WithLabelValues(event).Inc()
}

// RecordHTTPStatus records a portal response status.
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler returns the Prometheus scrape handler.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
