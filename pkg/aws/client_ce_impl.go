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

package aws

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	cetypes "github.com/aws/aws-sdk-go-v2/service/costexplorer/types"

	"github.com/nextdoor/procura/pkg/plan"
)

// costExplorerRegion is where AWS hosts the Cost Explorer API. It is a
// global service; calls to any other region fail.
const costExplorerRegion = "us-east-1"

// serviceToCategory maps Cost Explorer SERVICE dimension values to the
// Savings Plans category whose commitment covers that service's usage.
var serviceToCategory = map[string]plan.Category{
	"Amazon Elastic Compute Cloud - Compute": plan.CategoryCompute,
	"Amazon Elastic Container Service":       plan.CategoryCompute,
	"AWS Fargate":                            plan.CategoryCompute,
	"AWS Lambda":                             plan.CategoryCompute,
	"Amazon Relational Database Service":     plan.CategoryDatabase,
	"Amazon ElastiCache":                     plan.CategoryDatabase,
	"Amazon Redshift":                        plan.CategoryDatabase,
	"Amazon DocumentDB (with MongoDB compatibility)": plan.CategoryDatabase,
	"Amazon Neptune":   plan.CategoryDatabase,
	"Amazon MemoryDB":  plan.CategoryDatabase,
	"Amazon SageMaker": plan.CategorySageMaker,
}

// RealCostExplorerClient implements CostExplorerClient against the AWS
// Cost Explorer API.
type RealCostExplorerClient struct {
	client *costexplorer.Client
}

// NewRealCostExplorerClient creates a Cost Explorer client with the given
// credentials. The region is always us-east-1.
func NewRealCostExplorerClient(creds aws.CredentialsProvider, endpointURL string) *RealCostExplorerClient {
	opts := costexplorer.Options{
		Region:      costExplorerRegion,
		Credentials: creds,
	}
	if endpointURL != "" {
		opts.BaseEndpoint = &endpointURL
	}
	return &RealCostExplorerClient{client: costexplorer.New(opts)}
}

// GetSavingsPlansCoverage returns per-category coverage over [start, end).
// Results are grouped by SERVICE and folded into categories; services with
// no mapped category are dropped. Categories absent from the vendor
// response are absent from the returned map.
func (c *RealCostExplorerClient) GetSavingsPlansCoverage(
	ctx context.Context,
	start, end time.Time,
) (map[plan.Category]Coverage, error) {
	type accumulator struct {
		covered float64
		total   float64
	}
	totals := make(map[plan.Category]*accumulator)

	input := &costexplorer.GetSavingsPlansCoverageInput{
		TimePeriod: &cetypes.DateInterval{
			Start: aws.String(start.UTC().Format("2006-01-02")),
			End:   aws.String(end.UTC().Format("2006-01-02")),
		},
		Granularity: cetypes.GranularityDaily,
		GroupBy: []cetypes.GroupDefinition{
			{
				Type: cetypes.GroupDefinitionTypeDimension,
				Key:  aws.String("SERVICE"),
			},
		},
	}

	for {
		output, err := c.client.GetSavingsPlansCoverage(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to get savings plans coverage: %w", err)
		}

		for _, row := range output.SavingsPlansCoverages {
			category, ok := serviceToCategory[row.Attributes["SERVICE"]]
			if !ok || row.Coverage == nil {
				continue
			}
			acc := totals[category]
			if acc == nil {
				acc = &accumulator{}
				totals[category] = acc
			}
			acc.covered += parseAmount(row.Coverage.SpendCoveredBySavingsPlans)
			acc.total += parseAmount(row.Coverage.TotalCost)
		}

		if output.NextToken == nil {
			break
		}
		input.NextToken = output.NextToken
	}

	windowHours := end.Sub(start).Hours()
	result := make(map[plan.Category]Coverage, len(totals))
	for category, acc := range totals {
		cov := Coverage{
			OnDemandEquivalentSpend: acc.total,
			WindowHours:             windowHours,
		}
		if acc.total > 0 {
			cov.CoveragePercent = acc.covered / acc.total * 100
		}
		result[category] = cov
	}
	return result, nil
}

// GetPurchaseRecommendation returns the vendor's suggested hourly
// commitment for one category, or nil when the vendor has no suggestion
// for the requested (category, term, payment option) triple.
func (c *RealCostExplorerClient) GetPurchaseRecommendation(
	ctx context.Context,
	req RecommendationRequest,
) (*Recommendation, error) {
	input := &costexplorer.GetSavingsPlansPurchaseRecommendationInput{
		SavingsPlansType:     savingsPlansTypeForCategory(req.Category),
		TermInYears:          termInYears(req.Term),
		PaymentOption:        paymentOption(req.PaymentOption),
		LookbackPeriodInDays: lookbackPeriod(req.LookbackDays),
	}

	output, err := c.client.GetSavingsPlansPurchaseRecommendation(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to get purchase recommendation for %s: %w", req.Category, err)
	}

	spRec := output.SavingsPlansPurchaseRecommendation
	if spRec == nil || len(spRec.SavingsPlansPurchaseRecommendationDetails) == 0 {
		return nil, nil
	}

	// The recommendation aggregates all usage the category's plan type can
	// cover; details are summed so multi-account payers still get one
	// commitment figure.
	rec := &Recommendation{Category: req.Category}
	for _, detail := range spRec.SavingsPlansPurchaseRecommendationDetails {
		rec.HourlyCommitment += parseAmount(detail.HourlyCommitmentToPurchase)
		rec.EstimatedMonthlySavings += parseAmount(detail.EstimatedMonthlySavingsAmount)
		if pct := parseAmount(detail.EstimatedSavingsPercentage); pct > rec.EstimatedSavingsPercent {
			rec.EstimatedSavingsPercent = pct
		}
	}
	if output.Metadata != nil && output.Metadata.RecommendationId != nil {
		rec.RecommendationID = *output.Metadata.RecommendationId
	}

	if rec.HourlyCommitment <= 0 {
		return nil, nil
	}
	return rec, nil
}

// parseAmount parses a Cost Explorer decimal string, treating nil and
// malformed values as zero. The API reports all monetary amounts as
// strings.
func parseAmount(s *string) float64 {
	if s == nil {
		return 0
	}
	v, err := strconv.ParseFloat(*s, 64)
	if err != nil {
		return 0
	}
	return v
}

func savingsPlansTypeForCategory(category plan.Category) cetypes.SupportedSavingsPlansType {
	switch category {
	case plan.CategoryCompute:
		return cetypes.SupportedSavingsPlansTypeComputeSp
	case plan.CategorySageMaker:
		return cetypes.SupportedSavingsPlansTypeSagemakerSp
	case plan.CategoryDatabase:
		// The SDK has not caught up with the Database Savings Plans launch;
		// the enum is an open string type so the raw value works.
		return cetypes.SupportedSavingsPlansType("DATABASE_SP")
	default:
		return cetypes.SupportedSavingsPlansTypeComputeSp
	}
}

func termInYears(term plan.Term) cetypes.TermInYears {
	if term == plan.TermThreeYears {
		return cetypes.TermInYearsThreeYears
	}
	return cetypes.TermInYearsOneYear
}

func paymentOption(payment plan.PaymentOption) cetypes.PaymentOption {
	switch payment {
	case plan.PaymentAllUpfront:
		return cetypes.PaymentOptionAllUpfront
	case plan.PaymentPartialUpfront:
		return cetypes.PaymentOptionPartialUpfront
	default:
		return cetypes.PaymentOptionNoUpfront
	}
}

func lookbackPeriod(days int) cetypes.LookbackPeriodInDays {
	switch days {
	case 7:
		return cetypes.LookbackPeriodInDaysSevenDays
	case 60:
		return cetypes.LookbackPeriodInDaysSixtyDays
	default:
		return cetypes.LookbackPeriodInDaysThirtyDays
	}
}
