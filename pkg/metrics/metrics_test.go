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

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistersAll(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.Running.Set(1)
	m.CoveragePercent.WithLabelValues("compute").Set(72.5)
	m.EffectiveCoveragePercent.WithLabelValues("compute").Set(65)
	m.MissingDenominator.WithLabelValues("database").Inc()
	m.RecommendedHourly.WithLabelValues("compute").Set(12.5)
	m.IntentsQueued.WithLabelValues("compute").Add(2)
	m.PurchaseOutcomes.WithLabelValues("compute", "success", "").Inc()
	m.PurchasedCommitment.WithLabelValues("compute").Add(1.25)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"procura_running",
		"procura_coverage_percent",
		"procura_effective_coverage_percent",
		"procura_coverage_missing_denominator_total",
		"procura_recommended_hourly_dollars",
		"procura_intents_queued_total",
		"procura_purchase_outcomes_total",
		"procura_purchased_commitment_dollars_total",
	} {
		assert.True(t, names[want], "missing metric family %s", want)
	}

	assert.InDelta(t, 72.5, testutil.ToFloat64(m.CoveragePercent.WithLabelValues("compute")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.MissingDenominator.WithLabelValues("database")), 1e-9)
}

func TestObserveRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	started := time.Now().Add(-50 * time.Millisecond)
	m.ObserveRun(RunScheduler, started, nil)
	m.ObserveRun(RunPurchaser, started, errors.New("boom"))

	// Only the successful run sets the last-success timestamp.
	assert.Greater(t, testutil.ToFloat64(m.RunLastSuccess.WithLabelValues(RunScheduler)), 0.0)
	assert.Zero(t, testutil.ToFloat64(m.RunLastSuccess.WithLabelValues(RunPurchaser)))
}
