// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package metrics provides Prometheus instrumentation for passkey ceremony
// operations. It exposes ceremony counters, latency histograms and resource
// gauges for monitoring relying party health.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all passkey metrics
	Namespace = "passkey"

	// Label names
	LabelOperation  = "operation"
	LabelResult     = "result"
	LabelMethod     = "method"
	LabelStatusCode = "status_code"

	// Result values
	ResultSuccess = "success"
	// ResultRejected marks verifications that completed but failed the
	// cryptographic or counter checks.
	ResultRejected = "rejected"
	// ResultError marks operations that failed before a verdict was
	// reached (bad challenge, storage failure).
	ResultError = "error"

	// Operation names
	OpIssueChallenge     = "issue_challenge"
	OpVerifyAssertion    = "verify_assertion"
	OpIssueRegistration  = "issue_registration"
	OpVerifyRegistration = "verify_registration"
)

var (
	// CeremoniesTotal tracks ceremony operations by type and result.
	// Use RecordCeremony to increment this counter with the appropriate labels.
	CeremoniesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ceremonies_total",
			Help:      "Total number of ceremony operations by type and result",
		},
		[]string{LabelOperation, LabelResult},
	)

	// CeremonyDuration tracks the duration of ceremony operations in seconds.
	// Buckets are optimized for signature verification latencies.
	CeremonyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "ceremony_duration_seconds",
			Help:      "Duration of ceremony operations in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{LabelOperation},
	)

	// CloneWarningsTotal counts assertions rejected because the signature
	// counter did not strictly increase.
	CloneWarningsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "clone_warnings_total",
			Help:      "Total number of assertions rejected for counter regressions",
		},
	)

	// ChallengesActive tracks the number of outstanding challenges.
	ChallengesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "challenges_active",
			Help:      "Number of issued challenges not yet consumed or expired",
		},
	)

	// HTTPRequestsTotal tracks the total number of HTTP requests by method and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method and status code",
		},
		[]string{LabelMethod, LabelStatusCode},
	)

	// HTTPRequestDuration tracks the duration of HTTP requests in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelMethod},
	)

	// ActiveConnections tracks the number of in-flight HTTP requests.
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "active_connections",
			Help:      "Number of in-flight HTTP requests",
		},
	)

	// UsersTotal tracks the number of registered accounts.
	UsersTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "users_total",
			Help:      "Total number of registered accounts",
		},
	)

	// PasskeysTotal tracks the number of registered passkeys.
	PasskeysTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "passkeys_total",
			Help:      "Total number of registered passkeys",
		},
	)

	// Goroutines tracks the current number of goroutines in the server.
	// Updated periodically by the resource collector.
	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	// MemoryAllocBytes tracks the current bytes of allocated heap objects.
	// Updated periodically by the resource collector.
	MemoryAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_alloc_bytes",
			Help:      "Current bytes of allocated heap objects",
		},
	)

	// MemorySysBytes tracks the total bytes of memory obtained from the OS.
	// Updated periodically by the resource collector.
	MemorySysBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_sys_bytes",
			Help:      "Total bytes of memory obtained from the OS",
		},
	)

	// GCPauseTotalSeconds tracks the cumulative time spent in GC stop-the-world pauses.
	// Updated periodically by the resource collector.
	GCPauseTotalSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "gc_pause_total_seconds",
			Help:      "Cumulative time spent in GC stop-the-world pauses",
		},
	)

	// ServerUptime tracks the server uptime in seconds since startup.
	ServerUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "server_uptime_seconds",
			Help:      "Server uptime in seconds since startup",
		},
	)

	// enabled tracks whether metrics collection is enabled
	enabled atomic.Bool
)

func init() {
	// Metrics are enabled by default
	enabled.Store(true)
}

// RecordCeremony records a ceremony operation with its duration and result.
//
// Parameters:
//   - operation: The operation name (use Op* constants)
//   - result: The operation result (use Result* constants)
//   - duration: The operation duration in seconds
//
// Example:
//
//	start := time.Now()
//	result, err := coordinator.VerifyAssertion(ctx, challengeID, assertion)
//	duration := time.Since(start).Seconds()
//	if err != nil {
//	    RecordCeremony(OpVerifyAssertion, ResultRejected, duration)
//	} else {
//	    RecordCeremony(OpVerifyAssertion, ResultSuccess, duration)
//	}
func RecordCeremony(operation, result string, duration float64) {
	if !enabled.Load() {
		return
	}
	CeremoniesTotal.WithLabelValues(operation, result).Inc()
	CeremonyDuration.WithLabelValues(operation).Observe(duration)
}

// RecordCloneWarning records an assertion rejected for a counter regression.
func RecordCloneWarning() {
	if !enabled.Load() {
		return
	}
	CloneWarningsTotal.Inc()
}

// SetChallengesActive sets the number of outstanding challenges.
func SetChallengesActive(count float64) {
	if !enabled.Load() {
		return
	}
	ChallengesActive.Set(count)
}

// RecordHTTPRequest records an HTTP request with its duration and status.
//
// Parameters:
//   - method: The HTTP method (GET, POST, etc.)
//   - statusCode: The HTTP status code as a string
//   - duration: The request duration in seconds
func RecordHTTPRequest(method, statusCode string, duration float64) {
	if !enabled.Load() {
		return
	}
	HTTPRequestsTotal.WithLabelValues(method, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(duration)
}

// SetUsersTotal sets the number of registered accounts.
func SetUsersTotal(count float64) {
	if !enabled.Load() {
		return
	}
	UsersTotal.Set(count)
}

// SetPasskeysTotal sets the number of registered passkeys.
func SetPasskeysTotal(count float64) {
	if !enabled.Load() {
		return
	}
	PasskeysTotal.Set(count)
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection.
// Useful for testing or when metrics are not desired.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}
