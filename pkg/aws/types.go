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
	"fmt"
	"time"

	"github.com/nextdoor/procura/pkg/plan"
)

// AccountConfig identifies the AWS account (and optional delegated role)
// that cost, recommendation, and purchase API calls are bound to.
type AccountConfig struct {
	// AccountID is the 12-digit AWS account ID. May be empty when the
	// ambient identity is used.
	AccountID string

	// AssumeRoleARN is the IAM role to assume. When empty, the default
	// credential chain is used directly.
	AssumeRoleARN string

	// Region is the AWS region for the bound clients.
	Region string

	// SessionName is the STS session name recorded in CloudTrail.
	SessionName string
}

// Coverage is one category's Savings Plans coverage over a query window.
type Coverage struct {
	// CoveragePercent is the fraction of eligible spend covered by active
	// Savings Plans, in [0,100].
	CoveragePercent float64

	// OnDemandEquivalentSpend is the total eligible spend over the query
	// window in USD (covered + uncovered, valued at on-demand rates). It is
	// the denominator for converting hourly commitments into coverage
	// percentage points. Zero means the vendor returned no usage data.
	OnDemandEquivalentSpend float64

	// WindowHours is the length of the query window in hours, used to
	// convert the spend total into an hourly denominator.
	WindowHours float64
}

// HourlyDenominator returns the on-demand-equivalent spend per hour, or 0
// when the window produced no data.
func (c Coverage) HourlyDenominator() float64 {
	if c.WindowHours <= 0 {
		return 0
	}
	return c.OnDemandEquivalentSpend / c.WindowHours
}

// RecommendationRequest parameterizes a vendor recommendation query.
type RecommendationRequest struct {
	Category      plan.Category
	Term          plan.Term
	PaymentOption plan.PaymentOption
	LookbackDays  int
}

// Recommendation is the vendor's purchase suggestion for one category.
type Recommendation struct {
	Category plan.Category

	// HourlyCommitment is the suggested commitment in USD per hour.
	HourlyCommitment float64

	// RecommendationID is the opaque vendor identifier, kept for audit.
	RecommendationID string

	// EstimatedSavingsPercent and EstimatedMonthlySavings are advisory
	// figures surfaced in notifications.
	EstimatedSavingsPercent float64
	EstimatedMonthlySavings float64
}

// SavingsPlan is an existing commitment returned by the describe API.
type SavingsPlan struct {
	SavingsPlanID  string
	SavingsPlanARN string

	// Category is the procura category the plan maps to. Plans of types the
	// purchasing system does not manage map to an empty category.
	Category plan.Category

	State            string
	HourlyCommitment float64
	Start            time.Time
	End              time.Time
}

// CreateSavingsPlanInput is the purchase request sent to the vendor.
type CreateSavingsPlanInput struct {
	OfferingID       string
	HourlyCommitment float64

	// UpfrontPaymentAmount is the upfront portion in USD; zero for
	// no-upfront purchases.
	UpfrontPaymentAmount float64

	// ClientToken is the idempotency token; retried calls with the same
	// token return the original plan without charging twice.
	ClientToken string

	Tags map[string]string
}

// Message is a received queue message.
type Message struct {
	MessageID     string
	Body          string
	ReceiptHandle string
}

// AssumeRoleError is a fatal configuration error: the delegated role could
// not be assumed.
type AssumeRoleError struct {
	RoleARN string
	Err     error
}

func (e *AssumeRoleError) Error() string {
	return fmt.Sprintf("failed to assume role %s: %v", e.RoleARN, e.Err)
}

func (e *AssumeRoleError) Unwrap() error { return e.Err }

// PurchaseError is a vendor rejection of a CreateSavingsPlan call. The
// purchaser records it and leaves the message for a visibility-timeout
// retry.
type PurchaseError struct {
	// Code is the vendor error code when one could be extracted.
	Code string
	Err  error
}

func (e *PurchaseError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("savings plan purchase rejected (%s): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("savings plan purchase rejected: %v", e.Err)
}

func (e *PurchaseError) Unwrap() error { return e.Err }
