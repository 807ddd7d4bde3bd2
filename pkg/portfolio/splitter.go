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

// Package portfolio splits a sized purchase across a category's
// configured (term, payment option) mix, preserving the total hourly
// commitment.
package portfolio

import (
	"github.com/nextdoor/procura/pkg/config"
	"github.com/nextdoor/procura/pkg/plan"
)

// Splitter turns one hourly total into weighted purchase intent
// fragments. The fragments carry no idempotency token; the scheduler
// stamps them after the cap check.
type Splitter struct {
	// MinFragmentHourly is the smallest $/hour a fragment may carry.
	// Smaller fragments are folded into the largest fragment to prevent
	// micro-purchases. Zero means config.DefaultMinFragmentHourly.
	MinFragmentHourly float64
}

// Split emits one fragment per mix entry with positive weight, iterating
// in deterministic order (term, then payment option, lexicographic). The
// mix has been validated against the category constraint table at config
// load, so no pair is dropped here.
//
// The fragments' hourly commitments sum to hourlyTotal within floating
// tolerance.
func (s *Splitter) Split(
	category plan.Category,
	hourlyTotal float64,
	mix map[config.MixKey]float64,
	partialUpfrontPercent float64,
) []plan.PurchaseIntent {
	if hourlyTotal <= 0 {
		return nil
	}

	minFragment := s.MinFragmentHourly
	if minFragment <= 0 {
		minFragment = config.DefaultMinFragmentHourly
	}

	var fragments []plan.PurchaseIntent
	for _, key := range config.SortedMixKeys(mix) {
		weight := mix[key]
		if weight <= 0 {
			continue
		}
		fragments = append(fragments, plan.PurchaseIntent{
			Category:         category,
			HourlyCommitment: hourlyTotal * weight,
			Term:             key.Term,
			PaymentOption:    key.Payment,
			UpfrontFraction:  upfrontFraction(key.Payment, partialUpfrontPercent),
		})
	}

	return coalesce(fragments, minFragment)
}

// coalesce folds fragments below minFragment into the largest fragment.
// When every fragment is below the minimum they all collapse into one.
func coalesce(fragments []plan.PurchaseIntent, minFragment float64) []plan.PurchaseIntent {
	if len(fragments) <= 1 {
		return fragments
	}

	largest := 0
	for i := range fragments {
		if fragments[i].HourlyCommitment > fragments[largest].HourlyCommitment {
			largest = i
		}
	}
	largestTerm := fragments[largest].Term
	largestPayment := fragments[largest].PaymentOption

	kept := fragments[:0]
	var folded float64
	for i := range fragments {
		if i != largest && fragments[i].HourlyCommitment < minFragment {
			folded += fragments[i].HourlyCommitment
			continue
		}
		kept = append(kept, fragments[i])
	}
	for i := range kept {
		if kept[i].Term == largestTerm && kept[i].PaymentOption == largestPayment {
			kept[i].HourlyCommitment += folded
			break
		}
	}
	return kept
}

func upfrontFraction(payment plan.PaymentOption, partialUpfrontPercent float64) float64 {
	switch payment {
	case plan.PaymentAllUpfront:
		return 1
	case plan.PaymentPartialUpfront:
		if partialUpfrontPercent <= 0 {
			partialUpfrontPercent = config.DefaultPartialUpfrontPercent
		}
		return partialUpfrontPercent / 100
	default:
		return 0
	}
}
