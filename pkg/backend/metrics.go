// Copyright 2025 The replaygate Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backend

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics collection for the three execution
// strategies. A nil *Metrics is valid everywhere below: every Record/Observe
// method is a no-op on a nil receiver, so callers that don't want metrics
// can simply pass nil to a backend constructor.
type Metrics struct {
	registry *prometheus.Registry

	submissions   *prometheus.CounterVec
	throttleDelay prometheus.Histogram
	asyncInFlight prometheus.Gauge
	batchCohorts  *prometheus.CounterVec
}

// NewMetrics builds a fresh registry and registers the backend metric
// family on it.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replaygate",
			Subsystem: "backend",
			Name:      "submissions_total",
			Help:      "Total number of submitQuery calls, by strategy and outcome.",
		},
		[]string{"strategy", "outcome"},
	)

	m.throttleDelay = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "replaygate",
			Subsystem: "backend",
			Name:      "throttle_delay_seconds",
			Help:      "Observed throttle delay before a sync submission reached the adapter.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	m.asyncInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "replaygate",
			Subsystem: "backend",
			Name:      "async_in_flight",
			Help:      "Number of async tasks submitted but not yet completed.",
		},
	)

	m.batchCohorts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replaygate",
			Subsystem: "backend",
			Name:      "batch_cohorts_total",
			Help:      "Total number of batch UUIDs submitted, by outcome.",
		},
		[]string{"outcome"},
	)

	m.registry.MustRegister(m.submissions, m.throttleDelay, m.asyncInFlight, m.batchCohorts)
	return m
}

// RecordSubmission records one submitQuery outcome ("ok", "deferred",
// "error") for the named strategy ("sync", "async", "batch").
func (m *Metrics) RecordSubmission(strategy, outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(strategy, outcome).Inc()
}

// ObserveThrottleDelay records how long a sync submission slept before
// reaching the adapter.
func (m *Metrics) ObserveThrottleDelay(d time.Duration) {
	if m == nil {
		return
	}
	m.throttleDelay.Observe(d.Seconds())
}

// IncAsyncInFlight / DecAsyncInFlight track the async worker's live-task
// count.
func (m *Metrics) IncAsyncInFlight() {
	if m == nil {
		return
	}
	m.asyncInFlight.Inc()
}

func (m *Metrics) DecAsyncInFlight() {
	if m == nil {
		return
	}
	m.asyncInFlight.Dec()
}

// RecordBatchCohort counts one batch cohort outcome: "submitted" per batch
// UUID, or "error" per failed ExecuteBatch.
func (m *Metrics) RecordBatchCohort(outcome string) {
	if m == nil {
		return
	}
	m.batchCohorts.WithLabelValues(outcome).Inc()
}

// Handler exposes the registry over HTTP for scraping.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry, or nil.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
