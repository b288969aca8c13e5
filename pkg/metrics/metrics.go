// Package metrics provides Prometheus metrics for the connection service.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// Namespace for all conndef metrics
	namespace = "conndef"
)

var (
	// APIRequests tracks handled API requests
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Total number of API requests by route and status code",
		},
		[]string{"route", "method", "code"},
	)

	// APIDuration tracks API request latency
	APIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "Duration of API requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// ConnectionTests tracks connection tests by outcome
	ConnectionTests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_tests_total",
			Help:      "Total number of connection tests by method and response code",
		},
		[]string{"method", "code"},
	)

	// ConnectionTestDuration tracks how long tested endpoints take to answer
	ConnectionTestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connection_test_duration_seconds",
			Help:      "Duration of connection tests in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"method"},
	)

	// ConnectionSaves tracks saved definitions
	ConnectionSaves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_saves_total",
			Help:      "Total number of connection definition saves",
		},
		[]string{"action", "result"},
	)
)

// Collectors lists every collector of this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		APIRequests,
		APIDuration,
		ConnectionTests,
		ConnectionTestDuration,
		ConnectionSaves,
	}
}

// Register adds every collector to reg. Collectors that are already
// registered are skipped.
func Register(reg prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

func RecordAPIRequest(route, method, code string, seconds float64) {
	APIRequests.WithLabelValues(route, method, code).Inc()
	APIDuration.WithLabelValues(route).Observe(seconds)
}

func RecordConnectionTest(method, code string, seconds float64) {
	ConnectionTests.WithLabelValues(method, code).Inc()
	ConnectionTestDuration.WithLabelValues(method).Observe(seconds)
}

func RecordSave(action string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	ConnectionSaves.WithLabelValues(action, result).Inc()
}
