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

package plan

import (
	"fmt"
	"math"
	"time"
)

// PurchaseIntent is a proposed Savings Plan purchase awaiting execution.
// It is produced by the scheduler, serialized into the review queue, and
// re-validated by the purchaser before the vendor purchase call.
//
// Intents are immutable once stamped with an idempotency token: the token
// covers the fields that identify the purchase, so any mutation would break
// vendor-side retry coalescing.
type PurchaseIntent struct {
	// Category is the Savings Plans family this intent buys into.
	Category Category `json:"category"`

	// HourlyCommitment is the committed spend in USD per hour. Always > 0.
	HourlyCommitment float64 `json:"hourlyCommitment"`

	// Term is the commitment duration.
	Term Term `json:"term"`

	// PaymentOption is how the commitment is paid.
	PaymentOption PaymentOption `json:"paymentOption"`

	// UpfrontFraction is the fraction of the total commitment paid upfront.
	// 1 for all-upfront, 0 for no-upfront, (0,1) for partial-upfront.
	UpfrontFraction float64 `json:"upfrontFraction"`

	// ProjectedGainPercent is the coverage the purchase is expected to add,
	// in absolute percentage points. The purchaser recomputes the projection
	// against live coverage; this stamped value is the fallback when the
	// live denominator is unavailable.
	ProjectedGainPercent float64 `json:"projectedGainPercent"`

	// IdempotencyToken is stable across retries of the same decision and is
	// forwarded to the vendor purchase API as the client token.
	IdempotencyToken string `json:"idempotencyToken"`

	// SourceRecommendationID is the opaque vendor recommendation id this
	// intent was derived from, kept for audit.
	SourceRecommendationID string `json:"sourceRecommendationId"`

	// CreatedAt is when the scheduler produced this intent.
	CreatedAt time.Time `json:"createdAt"`
}

// ValidationError describes why a purchase intent is invalid. Invalid
// intents are discarded at dequeue time without execution.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid purchase intent: %s %s", e.Field, e.Reason)
}

// Validate checks the intent invariants from the scheduler/purchaser
// contract. It returns a *ValidationError describing the first violation.
func (i *PurchaseIntent) Validate() error {
	if _, err := ParseCategory(string(i.Category)); err != nil {
		return &ValidationError{Field: "category", Reason: fmt.Sprintf("%q is not a known category", i.Category)}
	}
	if _, err := ParseTerm(string(i.Term)); err != nil {
		return &ValidationError{Field: "term", Reason: fmt.Sprintf("%q is not a known term", i.Term)}
	}
	if _, err := ParsePaymentOption(string(i.PaymentOption)); err != nil {
		return &ValidationError{Field: "paymentOption", Reason: fmt.Sprintf("%q is not a known payment option", i.PaymentOption)}
	}
	if !i.Category.Allows(i.Term, i.PaymentOption) {
		return &ValidationError{
			Field:  "term/paymentOption",
			Reason: fmt.Sprintf("(%s, %s) is not sold for category %s", i.Term, i.PaymentOption, i.Category),
		}
	}
	if math.IsNaN(i.HourlyCommitment) || math.IsInf(i.HourlyCommitment, 0) || i.HourlyCommitment <= 0 {
		return &ValidationError{Field: "hourlyCommitment", Reason: "must be a finite value > 0"}
	}
	if math.IsNaN(i.UpfrontFraction) || i.UpfrontFraction < 0 || i.UpfrontFraction > 1 {
		return &ValidationError{Field: "upfrontFraction", Reason: "must be within [0,1]"}
	}
	switch i.PaymentOption {
	case PaymentAllUpfront:
		if i.UpfrontFraction != 1 {
			return &ValidationError{Field: "upfrontFraction", Reason: "must be 1 for all-upfront"}
		}
	case PaymentNoUpfront:
		if i.UpfrontFraction != 0 {
			return &ValidationError{Field: "upfrontFraction", Reason: "must be 0 for no-upfront"}
		}
	}
	if math.IsNaN(i.ProjectedGainPercent) || i.ProjectedGainPercent < 0 || i.ProjectedGainPercent > 100 {
		return &ValidationError{Field: "projectedGainPercent", Reason: "must be within [0,100]"}
	}
	if i.IdempotencyToken == "" {
		return &ValidationError{Field: "idempotencyToken", Reason: "must not be empty"}
	}
	if i.CreatedAt.IsZero() {
		return &ValidationError{Field: "createdAt", Reason: "must be set"}
	}
	return nil
}
