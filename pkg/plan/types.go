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

// Package plan defines the domain model for Savings Plans purchasing:
// plan categories with their vendor-imposed constraints, purchase intents,
// idempotency tokens, and purchase outcomes.
//
// The types here are the contract between the scheduler (which produces
// purchase intents) and the purchaser (which executes them). They carry no
// AWS SDK types so every other package can depend on them freely.
package plan

import "fmt"

// Category identifies a Savings Plans family. The set is closed; each
// category carries vendor constraints on allowed terms and payment options.
type Category string

const (
	// CategoryCompute covers EC2, Fargate, and Lambda usage.
	CategoryCompute Category = "compute"

	// CategoryDatabase covers RDS, Aurora, and related database engines.
	// The vendor only sells these as 1-year / no-upfront.
	CategoryDatabase Category = "database"

	// CategorySageMaker covers SageMaker usage.
	CategorySageMaker Category = "sagemaker"
)

// AllCategories lists every known category in deterministic order.
var AllCategories = []Category{CategoryCompute, CategoryDatabase, CategorySageMaker}

// ParseCategory converts a string into a Category.
func ParseCategory(s string) (Category, error) {
	switch Category(s) {
	case CategoryCompute, CategoryDatabase, CategorySageMaker:
		return Category(s), nil
	}
	return "", fmt.Errorf("unknown savings plan category %q", s)
}

// Term is the commitment duration of a Savings Plan.
type Term string

const (
	TermOneYear    Term = "1-year"
	TermThreeYears Term = "3-year"
)

// ParseTerm converts a string into a Term.
func ParseTerm(s string) (Term, error) {
	switch Term(s) {
	case TermOneYear, TermThreeYears:
		return Term(s), nil
	}
	return "", fmt.Errorf("unknown term %q", s)
}

// Years returns the term length in years.
func (t Term) Years() int {
	if t == TermThreeYears {
		return 3
	}
	return 1
}

// PaymentOption is how the commitment is paid.
type PaymentOption string

const (
	PaymentAllUpfront     PaymentOption = "all-upfront"
	PaymentPartialUpfront PaymentOption = "partial-upfront"
	PaymentNoUpfront      PaymentOption = "no-upfront"
)

// ParsePaymentOption converts a string into a PaymentOption.
func ParsePaymentOption(s string) (PaymentOption, error) {
	switch PaymentOption(s) {
	case PaymentAllUpfront, PaymentPartialUpfront, PaymentNoUpfront:
		return PaymentOption(s), nil
	}
	return "", fmt.Errorf("unknown payment option %q", s)
}

// Constraints describes the (term, payment option) pairs the vendor sells
// for a category.
type Constraints struct {
	Terms          []Term
	PaymentOptions []PaymentOption
}

// categoryConstraints is the vendor constraint table. Configuration that
// violates it is rejected at load time; the recommendation fetcher also
// forces requests into this table regardless of user configuration.
var categoryConstraints = map[Category]Constraints{
	CategoryCompute: {
		Terms:          []Term{TermOneYear, TermThreeYears},
		PaymentOptions: []PaymentOption{PaymentAllUpfront, PaymentPartialUpfront, PaymentNoUpfront},
	},
	CategoryDatabase: {
		Terms:          []Term{TermOneYear},
		PaymentOptions: []PaymentOption{PaymentNoUpfront},
	},
	CategorySageMaker: {
		Terms:          []Term{TermOneYear},
		PaymentOptions: []PaymentOption{PaymentAllUpfront},
	},
}

// ConstraintsFor returns the vendor constraints for a category.
func ConstraintsFor(c Category) Constraints {
	return categoryConstraints[c]
}

// Allows reports whether the vendor sells the given (term, payment option)
// pair for this category.
func (c Category) Allows(term Term, payment PaymentOption) bool {
	cons, ok := categoryConstraints[c]
	if !ok {
		return false
	}
	termOK := false
	for _, t := range cons.Terms {
		if t == term {
			termOK = true
			break
		}
	}
	if !termOK {
		return false
	}
	for _, p := range cons.PaymentOptions {
		if p == payment {
			return true
		}
	}
	return false
}
