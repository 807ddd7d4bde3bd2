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

package recommend

import (
	"context"
	"errors"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextdoor/procura/pkg/aws"
	"github.com/nextdoor/procura/pkg/plan"
)

func TestFetchParallelCategories(t *testing.T) {
	ce := aws.NewMockCostExplorerClient()
	ce.Recommendations[plan.CategoryCompute] = &aws.Recommendation{
		Category:         plan.CategoryCompute,
		HourlyCommitment: 12.5,
		RecommendationID: "rec-compute",
	}
	ce.Recommendations[plan.CategorySageMaker] = &aws.Recommendation{
		Category:         plan.CategorySageMaker,
		HourlyCommitment: 0.8,
		RecommendationID: "rec-sagemaker",
	}

	f := &Fetcher{CostExplorer: ce, LookbackDays: 30, Log: logr.Discard()}
	results := f.Fetch(context.Background(), []Request{
		{Category: plan.CategoryCompute, Term: plan.TermThreeYears, PaymentOption: plan.PaymentNoUpfront},
		{Category: plan.CategorySageMaker, Term: plan.TermOneYear, PaymentOption: plan.PaymentAllUpfront},
	})

	require.Len(t, results, 2)
	assert.Equal(t, "rec-compute", results[plan.CategoryCompute].RecommendationID)
	assert.InDelta(t, 0.8, results[plan.CategorySageMaker].HourlyCommitment, 1e-9)
}

func TestFetchPartialFailure(t *testing.T) {
	ce := aws.NewMockCostExplorerClient()
	ce.Recommendations[plan.CategoryCompute] = &aws.Recommendation{
		Category:         plan.CategoryCompute,
		HourlyCommitment: 5,
	}
	ce.RecommendationErrorFor[plan.CategoryDatabase] = errors.New("throttled")

	f := &Fetcher{CostExplorer: ce, LookbackDays: 30, Log: logr.Discard()}
	results := f.Fetch(context.Background(), []Request{
		{Category: plan.CategoryCompute, Term: plan.TermThreeYears, PaymentOption: plan.PaymentNoUpfront},
		{Category: plan.CategoryDatabase, Term: plan.TermOneYear, PaymentOption: plan.PaymentNoUpfront},
	})

	// The failed category is present with a nil entry; the rest proceed.
	require.Len(t, results, 2)
	assert.NotNil(t, results[plan.CategoryCompute])
	rec, present := results[plan.CategoryDatabase]
	assert.True(t, present)
	assert.Nil(t, rec)
}

func TestFetchNoSuggestion(t *testing.T) {
	ce := aws.NewMockCostExplorerClient()

	f := &Fetcher{CostExplorer: ce, LookbackDays: 30, Log: logr.Discard()}
	results := f.Fetch(context.Background(), []Request{
		{Category: plan.CategoryCompute, Term: plan.TermThreeYears, PaymentOption: plan.PaymentNoUpfront},
	})

	rec, present := results[plan.CategoryCompute]
	assert.True(t, present)
	assert.Nil(t, rec)
}

func TestFetchEnforcesCategoryConstraints(t *testing.T) {
	ce := aws.NewMockCostExplorerClient()

	f := &Fetcher{CostExplorer: ce, LookbackDays: 30, Log: logr.Discard()}
	// Database is only sold 1-year / no-upfront; the request asks for a
	// disallowed pair and must be overridden.
	f.Fetch(context.Background(), []Request{
		{Category: plan.CategoryDatabase, Term: plan.TermThreeYears, PaymentOption: plan.PaymentAllUpfront},
	})

	require.Len(t, ce.RecommendationRequests, 1)
	sent := ce.RecommendationRequests[0]
	assert.Equal(t, plan.TermOneYear, sent.Term)
	assert.Equal(t, plan.PaymentNoUpfront, sent.PaymentOption)
	assert.Equal(t, 30, sent.LookbackDays)
}
