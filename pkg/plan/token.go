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
	"time"

	"github.com/mitchellh/hashstructure/v2"
)

// tokenInput is the tuple the idempotency token is derived from. Two intents
// with the same category, term, payment option, hourly commitment (rounded
// to 4 decimal places), source recommendation, and run month hash to the
// same token, so vendor-side deduplication coalesces retried purchases.
type tokenInput struct {
	Category         Category
	Term             Term
	PaymentOption    PaymentOption
	Hourly           string
	RecommendationID string
	Month            string
}

// IdempotencyToken computes the stable token for a purchase decision made
// at runTime. The month component scopes deduplication to one scheduling
// epoch: the same decision re-emitted in a later month is a new purchase.
func IdempotencyToken(
	category Category,
	term Term,
	payment PaymentOption,
	hourlyCommitment float64,
	recommendationID string,
	runTime time.Time,
) string {
	in := tokenInput{
		Category:         category,
		Term:             term,
		PaymentOption:    payment,
		Hourly:           fmt.Sprintf("%.4f", hourlyCommitment),
		RecommendationID: recommendationID,
		Month:            runTime.UTC().Format("2006-01"),
	}
	// FormatV2 hashing is deterministic for a fixed struct shape; errors are
	// only possible for unhashable kinds, which tokenInput cannot contain.
	h, err := hashstructure.Hash(in, hashstructure.FormatV2, nil)
	if err != nil {
		panic(fmt.Sprintf("hashing idempotency token input: %v", err))
	}
	return fmt.Sprintf("procura-%016x", h)
}
