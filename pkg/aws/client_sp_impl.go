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
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/savingsplans"
	sptypes "github.com/aws/aws-sdk-go-v2/service/savingsplans/types"
	"github.com/aws/smithy-go"

	"github.com/nextdoor/procura/pkg/plan"
)

// Term durations in seconds as the offerings API encodes them.
const (
	durationOneYear    = 31536000
	durationThreeYears = 94608000
)

// RealSavingsPlansClient implements SavingsPlansClient against the AWS
// Savings Plans API.
type RealSavingsPlansClient struct {
	client *savingsplans.Client
	region string
}

// NewRealSavingsPlansClient creates a Savings Plans client with the
// specified credentials.
func NewRealSavingsPlansClient(region string, creds aws.CredentialsProvider, endpointURL string) *RealSavingsPlansClient {
	opts := savingsplans.Options{
		Region:      region,
		Credentials: creds,
	}
	if endpointURL != "" {
		opts.BaseEndpoint = &endpointURL
	}
	return &RealSavingsPlansClient{
		client: savingsplans.New(opts),
		region: region,
	}
}

// DescribeActiveSavingsPlans returns all active Savings Plans for the
// account, paging through the full list.
func (c *RealSavingsPlansClient) DescribeActiveSavingsPlans(ctx context.Context) ([]SavingsPlan, error) {
	input := &savingsplans.DescribeSavingsPlansInput{
		States: []sptypes.SavingsPlanState{sptypes.SavingsPlanStateActive},
	}

	var plans []SavingsPlan
	for {
		output, err := c.client.DescribeSavingsPlans(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to describe savings plans: %w", err)
		}

		for _, sp := range output.SavingsPlans {
			plans = append(plans, SavingsPlan{
				SavingsPlanID:    aws.ToString(sp.SavingsPlanId),
				SavingsPlanARN:   aws.ToString(sp.SavingsPlanArn),
				Category:         categoryForPlanType(sp.SavingsPlanType),
				State:            string(sp.State),
				HourlyCommitment: parseCommitment(sp.Commitment),
				Start:            parsePlanTime(sp.Start),
				End:              parsePlanTime(sp.End),
			})
		}

		if output.NextToken == nil || *output.NextToken == "" {
			break
		}
		input.NextToken = output.NextToken
	}
	return plans, nil
}

// ResolveOffering returns the offering id for a (category, term, payment
// option) triple. The offerings catalog has exactly one entry per triple.
func (c *RealSavingsPlansClient) ResolveOffering(
	ctx context.Context,
	category plan.Category,
	term plan.Term,
	payment plan.PaymentOption,
) (string, error) {
	duration := int64(durationOneYear)
	if term == plan.TermThreeYears {
		duration = durationThreeYears
	}

	output, err := c.client.DescribeSavingsPlansOfferings(ctx, &savingsplans.DescribeSavingsPlansOfferingsInput{
		PlanTypes:      []sptypes.SavingsPlanType{planTypeForCategory(category)},
		Durations:      []int64{duration},
		PaymentOptions: []sptypes.SavingsPlanPaymentOption{spPaymentOption(payment)},
		Currencies:     []sptypes.CurrencyCode{sptypes.CurrencyCodeUsd},
		MaxResults:     1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to resolve offering for %s %s %s: %w", category, term, payment, err)
	}
	if len(output.SearchResults) == 0 {
		return "", fmt.Errorf("no offering found for %s %s %s", category, term, payment)
	}
	return aws.ToString(output.SearchResults[0].OfferingId), nil
}

// CreateSavingsPlan executes a purchase. Vendor rejections are wrapped in
// PurchaseError with the API error code; the caller classifies them.
func (c *RealSavingsPlansClient) CreateSavingsPlan(ctx context.Context, input CreateSavingsPlanInput) (string, error) {
	req := &savingsplans.CreateSavingsPlanInput{
		SavingsPlanOfferingId: aws.String(input.OfferingID),
		Commitment:            aws.String(strconv.FormatFloat(input.HourlyCommitment, 'f', 4, 64)),
		ClientToken:           aws.String(input.ClientToken),
	}
	if input.UpfrontPaymentAmount > 0 {
		req.UpfrontPaymentAmount = aws.String(strconv.FormatFloat(input.UpfrontPaymentAmount, 'f', 2, 64))
	}
	if len(input.Tags) > 0 {
		req.Tags = input.Tags
	}

	output, err := c.client.CreateSavingsPlan(ctx, req)
	if err != nil {
		code := ""
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			code = apiErr.ErrorCode()
		}
		return "", &PurchaseError{Code: code, Err: err}
	}
	return aws.ToString(output.SavingsPlanId), nil
}

// categoryForPlanType maps a vendor plan type onto a procura category.
// EC2 Instance plans count toward compute coverage; unmanaged types map
// to the empty category.
func categoryForPlanType(t sptypes.SavingsPlanType) plan.Category {
	switch t {
	case sptypes.SavingsPlanTypeCompute, sptypes.SavingsPlanTypeEc2Instance:
		return plan.CategoryCompute
	case sptypes.SavingsPlanTypeSagemaker:
		return plan.CategorySageMaker
	case sptypes.SavingsPlanType("Database"):
		return plan.CategoryDatabase
	default:
		return plan.Category("")
	}
}

func planTypeForCategory(category plan.Category) sptypes.SavingsPlanType {
	switch category {
	case plan.CategorySageMaker:
		return sptypes.SavingsPlanTypeSagemaker
	case plan.CategoryDatabase:
		return sptypes.SavingsPlanType("Database")
	default:
		return sptypes.SavingsPlanTypeCompute
	}
}

func spPaymentOption(payment plan.PaymentOption) sptypes.SavingsPlanPaymentOption {
	switch payment {
	case plan.PaymentAllUpfront:
		return sptypes.SavingsPlanPaymentOptionAllUpfront
	case plan.PaymentPartialUpfront:
		return sptypes.SavingsPlanPaymentOptionPartialUpfront
	default:
		return sptypes.SavingsPlanPaymentOptionNoUpfront
	}
}

func parseCommitment(s *string) float64 {
	if s == nil {
		return 0
	}
	v, err := strconv.ParseFloat(*s, 64)
	if err != nil {
		return 0
	}
	return v
}

func parsePlanTime(s *string) time.Time {
	if s == nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return time.Time{}
	}
	return t
}
