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

// Package coverage computes per-category Savings Plans coverage snapshots.
//
// Raw coverage comes from the Cost Explorer coverage API over a trailing
// window. Plans that expire within the renewal window are treated as
// already gone: their hourly commitment is converted back into percentage
// points against the category's on-demand-equivalent spend and subtracted
// from raw coverage. The effective number is what purchasing decisions
// run on, so an expiring commitment gets replaced instead of being
// double-counted.
package coverage

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/go-logr/logr"

	"github.com/nextdoor/procura/pkg/aws"
	"github.com/nextdoor/procura/pkg/metrics"
	"github.com/nextdoor/procura/pkg/plan"
)

// windowDays is the trailing Cost Explorer window the snapshot is
// computed over.
const windowDays = 7

// FetchError is a typed wrapper for coverage data fetch failures. The
// scheduler degrades to zero coverage on it; the purchaser aborts.
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// CategoryCoverage is one category's coverage figures at a snapshot time.
type CategoryCoverage struct {
	// RawPercent is the vendor-reported coverage, clipped to [0,100].
	RawPercent float64

	// EffectivePercent is RawPercent minus the contribution of plans
	// expiring within the renewal window, floored at 0.
	EffectivePercent float64

	// HourlyDenominator is the on-demand-equivalent spend in USD per hour,
	// used to convert hourly commitments into percentage points. Zero when
	// the vendor returned no usage data.
	HourlyDenominator float64
}

// Snapshot is a per-category coverage mapping taken at a point in time.
// It is created once per run and discarded afterwards; the purchaser
// always recomputes from live data.
type Snapshot struct {
	At         time.Time
	Categories map[plan.Category]CategoryCoverage
}

// Percent returns the effective coverage percent for a category.
// Categories without data report 0.
func (s *Snapshot) Percent(category plan.Category) float64 {
	return s.Categories[category].EffectivePercent
}

// Denominator returns the hourly on-demand-equivalent spend for a
// category, or 0 when unknown.
func (s *Snapshot) Denominator(category plan.Category) float64 {
	return s.Categories[category].HourlyDenominator
}

// PercentPerHourly returns how many coverage percentage points one dollar
// per hour of commitment adds for a category, or 0 when the denominator
// is unknown.
func (s *Snapshot) PercentPerHourly(category plan.Category) float64 {
	denom := s.Denominator(category)
	if denom <= 0 {
		return 0
	}
	return 100 / denom
}

// Calculator produces coverage snapshots from the Cost Explorer and
// Savings Plans APIs.
type Calculator struct {
	CostExplorer aws.CostExplorerClient
	SavingsPlans aws.SavingsPlansClient

	// RenewalWindowDays controls which plans count as expiring.
	RenewalWindowDays int

	Metrics *metrics.Metrics
	Log     logr.Logger
}

// Snapshot computes coverage for the given categories at snapshotTime.
// API failures surface as *FetchError; missing data for a category is not
// an error and reports 0 coverage.
func (c *Calculator) Snapshot(
	ctx context.Context,
	snapshotTime time.Time,
	categories []plan.Category,
) (*Snapshot, error) {
	start := snapshotTime.AddDate(0, 0, -windowDays)
	byCategory, err := c.CostExplorer.GetSavingsPlansCoverage(ctx, start, snapshotTime)
	if err != nil {
		return nil, &FetchError{Op: "savings plans coverage", Err: err}
	}

	activePlans, err := c.SavingsPlans.DescribeActiveSavingsPlans(ctx)
	if err != nil {
		return nil, &FetchError{Op: "active savings plans", Err: err}
	}

	snapshot := &Snapshot{
		At:         snapshotTime,
		Categories: make(map[plan.Category]CategoryCoverage, len(categories)),
	}

	for _, category := range categories {
		cov, hasData := byCategory[category]
		denominator := cov.HourlyDenominator()

		if !hasData || denominator <= 0 {
			// No usage data means nothing to cover; purchasing decisions see
			// zero coverage rather than an error.
			c.Metrics.MissingDenominator.WithLabelValues(string(category)).Inc()
			c.Log.Info("no on-demand-equivalent spend for category, reporting zero coverage",
				"category", category)
			snapshot.Categories[category] = CategoryCoverage{}
			continue
		}

		raw := clipPercent(cov.CoveragePercent)
		expiring := c.expiringContribution(category, activePlans, snapshotTime, denominator)
		effective := math.Max(raw-expiring, 0)

		if expiring > 0 {
			c.Log.V(1).Info("subtracted expiring plan contribution",
				"category", category,
				"rawPercent", raw,
				"expiringPoints", expiring,
				"effectivePercent", effective)
		}

		snapshot.Categories[category] = CategoryCoverage{
			RawPercent:        raw,
			EffectivePercent:  effective,
			HourlyDenominator: denominator,
		}

		c.Metrics.CoveragePercent.WithLabelValues(string(category)).Set(raw)
		c.Metrics.EffectiveCoveragePercent.WithLabelValues(string(category)).Set(effective)
	}

	return snapshot, nil
}

// expiringContribution returns the percentage points contributed by
// active plans of the category whose end date falls within the renewal
// window of snapshotTime.
func (c *Calculator) expiringContribution(
	category plan.Category,
	activePlans []aws.SavingsPlan,
	snapshotTime time.Time,
	denominator float64,
) float64 {
	if c.RenewalWindowDays <= 0 {
		return 0
	}
	cutoff := snapshotTime.AddDate(0, 0, c.RenewalWindowDays)

	var points float64
	for _, sp := range activePlans {
		if sp.Category != category || sp.End.IsZero() {
			continue
		}
		if sp.End.After(cutoff) {
			continue
		}
		points += sp.HourlyCommitment / denominator * 100
	}
	return points
}

// clipPercent clamps a vendor-reported percent to [0,100] and squashes
// NaN to 0.
func clipPercent(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
