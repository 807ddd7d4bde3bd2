/*
Copyright 2025 Procura Contributors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics provides Prometheus metrics for the procura purchasing
// pipeline. It exposes coverage, recommendation, queue, and purchase
// outcome metrics to enable operational visibility and alerting.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Run kind label values for run-scoped metrics.
const (
	RunScheduler = "scheduler"
	RunPurchaser = "purchaser"
)

// Metrics holds all Prometheus metrics for the purchasing pipeline.
type Metrics struct {
	// Running indicates whether the process is up. This is a simple gauge
	// set to 1 on startup. If the metric disappears from the metrics
	// endpoint, the process has crashed.
	Running prometheus.Gauge

	// CoveragePercent tracks the raw coverage percent per category as
	// reported by the vendor at the last snapshot.
	// Labels: category
	CoveragePercent *prometheus.GaugeVec

	// EffectiveCoveragePercent tracks coverage after subtracting plans that
	// expire within the renewal window. Always <= CoveragePercent.
	// Labels: category
	EffectiveCoveragePercent *prometheus.GaugeVec

	// MissingDenominator counts coverage computations that found no
	// on-demand-equivalent spend for a category. Coverage defaults to 0 in
	// that case; a rising counter means the billing data is incomplete.
	// Labels: category
	MissingDenominator *prometheus.CounterVec

	// RecommendedHourly tracks the vendor's recommended hourly commitment
	// ($/hour) per category at the last scheduler run.
	// Labels: category
	RecommendedHourly *prometheus.GaugeVec

	// IntentsQueued counts purchase intents enqueued by the scheduler.
	// Labels: category
	IntentsQueued *prometheus.CounterVec

	// PurchaseOutcomes counts processed intents by outcome. The reason
	// label is empty for successes, names the skip cause for skips, and is
	// the fixed value "vendor_error" for failures.
	// Labels: category, outcome, reason
	PurchaseOutcomes *prometheus.CounterVec

	// PurchasedCommitment accumulates successfully purchased hourly
	// commitment ($/hour).
	// Labels: category
	PurchasedCommitment *prometheus.CounterVec

	// RunDuration measures end-to-end run time per run kind.
	// Labels: run
	RunDuration *prometheus.HistogramVec

	// RunLastSuccess records the Unix timestamp of the last successful run
	// per run kind. Enables alerting on stalled schedules.
	// Labels: run
	RunLastSuccess *prometheus.GaugeVec
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "procura_running",
			Help: "Set to 1 while the procura process is running.",
		}),
		CoveragePercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "procura_coverage_percent",
			Help: "Raw Savings Plans coverage percent per category at the last snapshot.",
		}, []string{"category"}),
		EffectiveCoveragePercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "procura_effective_coverage_percent",
			Help: "Coverage percent per category after subtracting plans expiring within the renewal window.",
		}, []string{"category"}),
		MissingDenominator: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "procura_coverage_missing_denominator_total",
			Help: "Coverage computations that found no on-demand-equivalent spend for a category.",
		}, []string{"category"}),
		RecommendedHourly: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "procura_recommended_hourly_dollars",
			Help: "Vendor-recommended hourly commitment per category at the last scheduler run.",
		}, []string{"category"}),
		IntentsQueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "procura_intents_queued_total",
			Help: "Purchase intents enqueued by the scheduler.",
		}, []string{"category"}),
		PurchaseOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "procura_purchase_outcomes_total",
			Help: "Processed purchase intents by outcome and reason.",
		}, []string{"category", "outcome", "reason"}),
		PurchasedCommitment: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "procura_purchased_commitment_dollars_total",
			Help: "Successfully purchased hourly commitment in dollars per hour.",
		}, []string{"category"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "procura_run_duration_seconds",
			Help:    "End-to-end run duration per run kind.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 11),
		}, []string{"run"}),
		RunLastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "procura_run_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful run per run kind.",
		}, []string{"run"}),
	}

	reg.MustRegister(
		m.Running,
		m.CoveragePercent,
		m.EffectiveCoveragePercent,
		m.MissingDenominator,
		m.RecommendedHourly,
		m.IntentsQueued,
		m.PurchaseOutcomes,
		m.PurchasedCommitment,
		m.RunDuration,
		m.RunLastSuccess,
	)
	return m
}

// ObserveRun records a completed run: its duration, and the last-success
// timestamp when the run succeeded.
func (m *Metrics) ObserveRun(run string, started time.Time, err error) {
	m.RunDuration.WithLabelValues(run).Observe(time.Since(started).Seconds())
	if err == nil {
		m.RunLastSuccess.WithLabelValues(run).SetToCurrentTime()
	}
}
