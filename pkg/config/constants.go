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

package config

import "github.com/nextdoor/procura/pkg/plan"

// DefaultRegion is the fallback AWS region when none is configured.
// Savings Plans and SQS/SNS resources are regional; Cost Explorer is
// pinned to us-east-1 by the client regardless of this value.
const DefaultRegion = "us-west-2"

// DefaultPurchaseBatchSize is the maximum messages drained per purchaser
// run. Matches the SQS per-receive ceiling.
const DefaultPurchaseBatchSize = 10

// DefaultMinFragmentHourly is the smallest hourly commitment ($/hour) a
// split fragment may carry before being folded into the largest fragment.
const DefaultMinFragmentHourly = 0.001

// DefaultPartialUpfrontPercent is the upfront share used for
// partial-upfront fragments when not configured per category.
const DefaultPartialUpfrontPercent = 50.0

// DefaultPlans returns the portfolio used when no plans block is
// configured: compute-only, fully weighted on 3-year / no-upfront.
func DefaultPlans() map[string]PlanConfig {
	return map[string]PlanConfig{
		string(plan.CategoryCompute): {
			Enabled: true,
			Mix: map[string]float64{
				string(plan.TermThreeYears) + "/" + string(plan.PaymentNoUpfront): 1.0,
			},
			PartialUpfrontPercent: DefaultPartialUpfrontPercent,
		},
		string(plan.CategoryDatabase): {
			Enabled: false,
			Mix: map[string]float64{
				string(plan.TermOneYear) + "/" + string(plan.PaymentNoUpfront): 1.0,
			},
			PartialUpfrontPercent: DefaultPartialUpfrontPercent,
		},
		string(plan.CategorySageMaker): {
			Enabled: false,
			Mix: map[string]float64{
				string(plan.TermOneYear) + "/" + string(plan.PaymentAllUpfront): 1.0,
			},
			PartialUpfrontPercent: DefaultPartialUpfrontPercent,
		},
	}
}
