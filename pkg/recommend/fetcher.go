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

// Package recommend fetches vendor purchase recommendations for enabled
// categories in parallel. Each category gets its own timeout; a failed
// category yields a nil entry and the run continues with the rest.
package recommend

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/nextdoor/procura/pkg/aws"
	"github.com/nextdoor/procura/pkg/plan"
)

// DefaultTimeout bounds each per-category recommendation call.
const DefaultTimeout = 30 * time.Second

// Request names one category to fetch, with the term and payment option
// the recommendation should be priced against.
type Request struct {
	Category      plan.Category
	Term          plan.Term
	PaymentOption plan.PaymentOption
}

// Fetcher fans recommendation queries out across categories.
type Fetcher struct {
	CostExplorer aws.CostExplorerClient
	LookbackDays int

	// Timeout applies per category. Zero means DefaultTimeout.
	Timeout time.Duration

	Log logr.Logger
}

// Fetch returns a map with one entry per request. A nil entry means the
// vendor has no suggestion or the call failed; either way the category
// takes no action this run.
//
// The vendor constraint table overrides the requested term and payment
// option, so a misconfigured mix can never query a pair the vendor does
// not sell.
func (f *Fetcher) Fetch(ctx context.Context, requests []Request) map[plan.Category]*aws.Recommendation {
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	results := make(map[plan.Category]*aws.Recommendation, len(requests))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, req := range requests {
		req := constrain(req)

		wg.Add(1)
		go func() {
			defer wg.Done()

			callCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			rec, err := f.CostExplorer.GetPurchaseRecommendation(callCtx, aws.RecommendationRequest{
				Category:      req.Category,
				Term:          req.Term,
				PaymentOption: req.PaymentOption,
				LookbackDays:  f.LookbackDays,
			})
			if err != nil {
				// Partial failure is allowed: this category yields nil and
				// the other fetches continue.
				f.Log.Error(err, "recommendation fetch failed", "category", req.Category)
				rec = nil
			}

			mu.Lock()
			results[req.Category] = rec
			mu.Unlock()
		}()
	}

	wg.Wait()
	return results
}

// constrain forces a request into the vendor constraint table. When the
// requested pair is not sold for the category, the category's first
// allowed term and payment option are used instead.
func constrain(req Request) Request {
	if req.Category.Allows(req.Term, req.PaymentOption) {
		return req
	}
	cons := plan.ConstraintsFor(req.Category)
	if len(cons.Terms) > 0 {
		req.Term = cons.Terms[0]
	}
	if len(cons.PaymentOptions) > 0 {
		req.PaymentOption = cons.PaymentOptions[0]
	}
	return req
}
