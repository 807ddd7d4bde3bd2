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

package portfolio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextdoor/procura/pkg/config"
	"github.com/nextdoor/procura/pkg/plan"
)

func sumHourly(fragments []plan.PurchaseIntent) float64 {
	var total float64
	for _, f := range fragments {
		total += f.HourlyCommitment
	}
	return total
}

func TestSplitWeights(t *testing.T) {
	s := &Splitter{}
	mix := map[config.MixKey]float64{
		{Term: plan.TermThreeYears, Payment: plan.PaymentNoUpfront}:   0.7,
		{Term: plan.TermOneYear, Payment: plan.PaymentPartialUpfront}: 0.3,
	}

	fragments := s.Split(plan.CategoryCompute, 10, mix, 40)
	require.Len(t, fragments, 2)

	// Deterministic order: 1-year before 3-year.
	assert.Equal(t, plan.TermOneYear, fragments[0].Term)
	assert.InDelta(t, 3.0, fragments[0].HourlyCommitment, 1e-9)
	assert.InDelta(t, 0.4, fragments[0].UpfrontFraction, 1e-9)

	assert.Equal(t, plan.TermThreeYears, fragments[1].Term)
	assert.InDelta(t, 7.0, fragments[1].HourlyCommitment, 1e-9)
	assert.Zero(t, fragments[1].UpfrontFraction)

	assert.InDelta(t, 10.0, sumHourly(fragments), 1e-6)
}

func TestSplitPreservesTotal(t *testing.T) {
	s := &Splitter{}
	mix := map[config.MixKey]float64{
		{Term: plan.TermOneYear, Payment: plan.PaymentAllUpfront}:      0.25,
		{Term: plan.TermOneYear, Payment: plan.PaymentNoUpfront}:       0.25,
		{Term: plan.TermThreeYears, Payment: plan.PaymentNoUpfront}:    0.3,
		{Term: plan.TermThreeYears, Payment: plan.PaymentAllUpfront}:   0.1,
		{Term: plan.TermOneYear, Payment: plan.PaymentPartialUpfront}:  0.1,
		{Term: plan.TermThreeYears, Payment: plan.PaymentPartialUpfront}: 0,
	}

	for _, total := range []float64{0.005, 1, 17.77, 1234.5678} {
		fragments := s.Split(plan.CategoryCompute, total, mix, 50)
		assert.InDelta(t, total, sumHourly(fragments), 1e-6, "total %v", total)
	}
}

func TestSplitCoalescesMicroFragments(t *testing.T) {
	s := &Splitter{MinFragmentHourly: 0.001}
	mix := map[config.MixKey]float64{
		{Term: plan.TermThreeYears, Payment: plan.PaymentNoUpfront}: 0.9999,
		{Term: plan.TermOneYear, Payment: plan.PaymentNoUpfront}:    0.0001,
	}

	// The 1-year fragment works out to 0.0005 $/h, below the minimum, and
	// folds into the 3-year fragment.
	fragments := s.Split(plan.CategoryCompute, 5, mix, 50)
	require.Len(t, fragments, 1)
	assert.Equal(t, plan.TermThreeYears, fragments[0].Term)
	assert.InDelta(t, 5.0, fragments[0].HourlyCommitment, 1e-9)
}

func TestSplitSingleFragmentKept(t *testing.T) {
	s := &Splitter{MinFragmentHourly: 0.001}
	mix := map[config.MixKey]float64{
		{Term: plan.TermOneYear, Payment: plan.PaymentNoUpfront}: 1.0,
	}

	// A single fragment is never dropped even when tiny; the scheduler
	// decides what to do with small totals.
	fragments := s.Split(plan.CategoryDatabase, 0.0002, mix, 50)
	require.Len(t, fragments, 1)
	assert.InDelta(t, 0.0002, fragments[0].HourlyCommitment, 1e-12)
}

func TestSplitZeroTotal(t *testing.T) {
	s := &Splitter{}
	mix := map[config.MixKey]float64{
		{Term: plan.TermOneYear, Payment: plan.PaymentNoUpfront}: 1.0,
	}
	assert.Empty(t, s.Split(plan.CategoryCompute, 0, mix, 50))
}

func TestSplitUpfrontFractions(t *testing.T) {
	s := &Splitter{}
	mix := map[config.MixKey]float64{
		{Term: plan.TermOneYear, Payment: plan.PaymentAllUpfront}:     0.4,
		{Term: plan.TermOneYear, Payment: plan.PaymentNoUpfront}:      0.3,
		{Term: plan.TermOneYear, Payment: plan.PaymentPartialUpfront}: 0.3,
	}

	// Default partial upfront percent applies when none is configured.
	fragments := s.Split(plan.CategoryCompute, 10, mix, 0)
	require.Len(t, fragments, 3)
	assert.InDelta(t, 1.0, fragments[0].UpfrontFraction, 1e-9)  // all-upfront
	assert.InDelta(t, 0.0, fragments[1].UpfrontFraction, 1e-9)  // no-upfront
	assert.InDelta(t, 0.5, fragments[2].UpfrontFraction, 1e-9)  // partial-upfront
}
