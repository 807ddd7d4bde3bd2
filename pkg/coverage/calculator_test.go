// Copyright 2025 Procura Contributors
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

package coverage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextdoor/procura/pkg/aws"
	"github.com/nextdoor/procura/pkg/metrics"
	"github.com/nextdoor/procura/pkg/plan"
)

var snapshotTime = time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)

func newCalculator(ce *aws.MockCostExplorerClient, sp *aws.MockSavingsPlansClient) (*Calculator, *metrics.Metrics) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	return &Calculator{
		CostExplorer:      ce,
		SavingsPlans:      sp,
		RenewalWindowDays: 30,
		Metrics:           m,
		Log:               logr.Discard(),
	}, m
}

// coverageFor builds a Coverage whose hourly denominator works out to
// denom $/hour over the 7-day window.
func coverageFor(percent, denom float64) aws.Coverage {
	return aws.Coverage{
		CoveragePercent:         percent,
		OnDemandEquivalentSpend: denom * 168,
		WindowHours:             168,
	}
}

func TestSnapshotRawCoverage(t *testing.T) {
	ce := aws.NewMockCostExplorerClient()
	ce.CoverageByCategory[plan.CategoryCompute] = coverageFor(72.5, 100)
	sp := aws.NewMockSavingsPlansClient()

	calc, _ := newCalculator(ce, sp)
	snap, err := calc.Snapshot(context.Background(), snapshotTime, []plan.Category{plan.CategoryCompute})
	require.NoError(t, err)

	assert.InDelta(t, 72.5, snap.Percent(plan.CategoryCompute), 1e-9)
	assert.InDelta(t, 100, snap.Denominator(plan.CategoryCompute), 1e-9)
	assert.InDelta(t, 1.0, snap.PercentPerHourly(plan.CategoryCompute), 1e-9)
}

func TestSnapshotSubtractsExpiringPlans(t *testing.T) {
	// Raw coverage 85%, denominator $100/hour. One active plan committing
	// $20/hour (20 points) expires inside the renewal window, so effective
	// coverage drops to 65%.
	ce := aws.NewMockCostExplorerClient()
	ce.CoverageByCategory[plan.CategoryCompute] = coverageFor(85, 100)

	sp := aws.NewMockSavingsPlansClient()
	sp.ActivePlans = []aws.SavingsPlan{
		{
			SavingsPlanID:    "sp-expiring",
			Category:         plan.CategoryCompute,
			HourlyCommitment: 20,
			End:              snapshotTime.AddDate(0, 0, 10),
		},
		{
			SavingsPlanID:    "sp-longlived",
			Category:         plan.CategoryCompute,
			HourlyCommitment: 30,
			End:              snapshotTime.AddDate(1, 0, 0),
		},
		{
			SavingsPlanID:    "sp-other-category",
			Category:         plan.CategorySageMaker,
			HourlyCommitment: 5,
			End:              snapshotTime.AddDate(0, 0, 5),
		},
	}

	calc, _ := newCalculator(ce, sp)
	snap, err := calc.Snapshot(context.Background(), snapshotTime, []plan.Category{plan.CategoryCompute})
	require.NoError(t, err)

	got := snap.Categories[plan.CategoryCompute]
	assert.InDelta(t, 85, got.RawPercent, 1e-9)
	assert.InDelta(t, 65, got.EffectivePercent, 1e-9)
}

func TestSnapshotEffectiveFlooredAtZero(t *testing.T) {
	ce := aws.NewMockCostExplorerClient()
	ce.CoverageByCategory[plan.CategoryCompute] = coverageFor(10, 100)

	sp := aws.NewMockSavingsPlansClient()
	sp.ActivePlans = []aws.SavingsPlan{
		{
			Category:         plan.CategoryCompute,
			HourlyCommitment: 50, // 50 points, far more than raw coverage
			End:              snapshotTime.AddDate(0, 0, 1),
		},
	}

	calc, _ := newCalculator(ce, sp)
	snap, err := calc.Snapshot(context.Background(), snapshotTime, []plan.Category{plan.CategoryCompute})
	require.NoError(t, err)

	assert.Zero(t, snap.Percent(plan.CategoryCompute))
}

func TestSnapshotMissingData(t *testing.T) {
	ce := aws.NewMockCostExplorerClient()
	sp := aws.NewMockSavingsPlansClient()

	calc, m := newCalculator(ce, sp)
	snap, err := calc.Snapshot(context.Background(), snapshotTime,
		[]plan.Category{plan.CategoryCompute, plan.CategoryDatabase})
	require.NoError(t, err)

	// Missing data is not an error: coverage is 0 and the diagnostic
	// counter moves.
	assert.Zero(t, snap.Percent(plan.CategoryCompute))
	assert.Zero(t, snap.Denominator(plan.CategoryDatabase))
	assert.Zero(t, snap.PercentPerHourly(plan.CategoryDatabase))
	assert.InDelta(t, 1, testutil.ToFloat64(m.MissingDenominator.WithLabelValues("compute")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.MissingDenominator.WithLabelValues("database")), 1e-9)
}

func TestSnapshotClipsOutOfRangePercents(t *testing.T) {
	ce := aws.NewMockCostExplorerClient()
	ce.CoverageByCategory[plan.CategoryCompute] = coverageFor(130, 100)

	calc, _ := newCalculator(ce, aws.NewMockSavingsPlansClient())
	snap, err := calc.Snapshot(context.Background(), snapshotTime, []plan.Category{plan.CategoryCompute})
	require.NoError(t, err)

	assert.InDelta(t, 100, snap.Percent(plan.CategoryCompute), 1e-9)
}

func TestSnapshotFetchErrors(t *testing.T) {
	t.Run("coverage API failure", func(t *testing.T) {
		ce := aws.NewMockCostExplorerClient()
		ce.CoverageError = errors.New("throttled")

		calc, _ := newCalculator(ce, aws.NewMockSavingsPlansClient())
		_, err := calc.Snapshot(context.Background(), snapshotTime, []plan.Category{plan.CategoryCompute})

		var fetchErr *FetchError
		require.ErrorAs(t, err, &fetchErr)
		assert.Equal(t, "savings plans coverage", fetchErr.Op)
	})

	t.Run("describe plans failure", func(t *testing.T) {
		sp := aws.NewMockSavingsPlansClient()
		sp.DescribeError = errors.New("access denied")

		calc, _ := newCalculator(aws.NewMockCostExplorerClient(), sp)
		_, err := calc.Snapshot(context.Background(), snapshotTime, []plan.Category{plan.CategoryCompute})

		var fetchErr *FetchError
		require.ErrorAs(t, err, &fetchErr)
		assert.Equal(t, "active savings plans", fetchErr.Op)
	})
}
