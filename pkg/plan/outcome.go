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

// OutcomeKind classifies the result of executing one purchase intent.
type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomeSkipped OutcomeKind = "skipped"
	OutcomeFailed  OutcomeKind = "failed"
)

// SkipReason explains why an intent was skipped without a purchase attempt.
type SkipReason string

const (
	// SkipInvalid marks a queue message that failed intent validation.
	// The message is deleted; retrying cannot make it valid.
	SkipInvalid SkipReason = "invalid"

	// SkipCapExceeded marks an intent whose projected coverage would exceed
	// the configured hard cap. The message is deleted.
	SkipCapExceeded SkipReason = "cap_exceeded"
)

// PurchaseOutcome records what happened to one intent during a purchaser
// run. Exactly one of SkipReason and Error is meaningful, depending on Kind.
type PurchaseOutcome struct {
	Intent PurchaseIntent
	Kind   OutcomeKind

	// SavingsPlanID is the vendor plan identifier, set on success.
	SavingsPlanID string

	// SkipReason is set when Kind is OutcomeSkipped.
	SkipReason SkipReason

	// Error is the redacted vendor error description, set when Kind is
	// OutcomeFailed.
	Error string
}
