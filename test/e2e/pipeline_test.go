//go:build e2e
// +build e2e

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

package e2e

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nextdoor/procura/internal/purchaser"
	"github.com/nextdoor/procura/internal/scheduler"
	"github.com/nextdoor/procura/pkg/aws"
	"github.com/nextdoor/procura/pkg/config"
	"github.com/nextdoor/procura/pkg/metrics"
	"github.com/nextdoor/procura/pkg/plan"
)

// pipeline bundles a scheduler and a purchaser over one shared mock
// client, the way a deployment shares a queue and a billing account.
type pipeline struct {
	client *aws.MockClient
	cfg    *config.Config
	sched  *scheduler.Scheduler
	purch  *purchaser.Purchaser
	now    time.Time
}

func newPipeline(cfg *config.Config) *pipeline {
	client := aws.NewMockClient()
	now := time.Date(2026, 8, 1, 6, 0, 0, 0, time.UTC)
	p := &pipeline{client: client, cfg: cfg, now: now}
	p.sched = &scheduler.Scheduler{
		AWSClient: client,
		Config:    cfg,
		Metrics:   metrics.NewMetrics(prometheus.NewRegistry()),
		Log:       logr.Discard(),
		Now:       func() time.Time { return p.now },
	}
	p.purch = &purchaser.Purchaser{
		AWSClient: client,
		Config:    cfg,
		Metrics:   metrics.NewMetrics(prometheus.NewRegistry()),
		Log:       logr.Discard(),
		Now:       func() time.Time { return p.now },
	}
	return p
}

func (p *pipeline) costExplorer() *aws.MockCostExplorerClient {
	ce, err := p.client.CostExplorer(context.Background(), aws.AccountConfig{})
	Expect(err).NotTo(HaveOccurred())
	return ce.(*aws.MockCostExplorerClient)
}

func (p *pipeline) savingsPlans() *aws.MockSavingsPlansClient {
	sp, err := p.client.SavingsPlans(context.Background(), aws.AccountConfig{})
	Expect(err).NotTo(HaveOccurred())
	return sp.(*aws.MockSavingsPlansClient)
}

// seedCoverage cans compute coverage at percent with an hourly on-demand
// denominator of denom, so each committed $/h adds 100/denom points.
func (p *pipeline) seedCoverage(percent, denom float64) {
	p.costExplorer().CoverageByCategory[plan.CategoryCompute] = aws.Coverage{
		CoveragePercent:         percent,
		OnDemandEquivalentSpend: denom * 168,
		WindowHours:             168,
	}
}

func (p *pipeline) seedRecommendation(hourly float64) {
	p.costExplorer().Recommendations[plan.CategoryCompute] = &aws.Recommendation{
		Category:         plan.CategoryCompute,
		HourlyCommitment: hourly,
		RecommendationID: "rec-e2e",
	}
}

func (p *pipeline) queuedIntents() []plan.PurchaseIntent {
	var intents []plan.PurchaseIntent
	for _, body := range p.client.QueueClientInstance.Bodies() {
		var intent plan.PurchaseIntent
		Expect(json.Unmarshal([]byte(body), &intent)).To(Succeed())
		intents = append(intents, intent)
	}
	return intents
}

func (p *pipeline) enqueue(intent plan.PurchaseIntent) {
	Expect(intent.Validate()).To(Succeed())
	body, err := json.Marshal(intent)
	Expect(err).NotTo(HaveOccurred())
	Expect(p.client.QueueClientInstance.SendMessage(
		context.Background(), string(body), intent.IdempotencyToken)).To(Succeed())
}

// settlePurchases applies the coverage effect of executed purchases back
// into the canned coverage data, standing in for the billing pipeline
// that reflects new plans in the next coverage window.
func (p *pipeline) settlePurchases(denom float64) {
	cov := p.costExplorer().CoverageByCategory[plan.CategoryCompute]
	for _, call := range p.savingsPlans().CreateCalls {
		cov.CoveragePercent += call.HourlyCommitment * 100 / denom
	}
	p.costExplorer().CoverageByCategory[plan.CategoryCompute] = cov
}

func computeConfig() *config.Config {
	return &config.Config{
		QueueURL:              "https://sqs.us-west-2.amazonaws.com/123456789012/procura-intents",
		QueueMode:             config.QueueModeReplace,
		Strategy:              config.StrategyConfig{Variant: "fixed", Fixed: config.FixedStrategyConfig{MaxPurchasePercent: 5}},
		CoverageTargetPercent: 80,
		MaxCoverageCapPercent: 90,
		LookbackDays:          30,
		RenewalWindowDays:     7,
		PurchaseBatchSize:     10,
		Plans: map[string]config.PlanConfig{
			"compute": {
				Enabled: true,
				Mix:     map[string]float64{"3-year/no-upfront": 1.0},
			},
		},
	}
}

func e2eIntent(hourly, gain float64, recID string, now time.Time) plan.PurchaseIntent {
	return plan.PurchaseIntent{
		Category:             plan.CategoryCompute,
		HourlyCommitment:     hourly,
		Term:                 plan.TermThreeYears,
		PaymentOption:        plan.PaymentNoUpfront,
		ProjectedGainPercent: gain,
		IdempotencyToken: plan.IdempotencyToken(
			plan.CategoryCompute, plan.TermThreeYears, plan.PaymentNoUpfront, hourly, recID, now),
		SourceRecommendationID: recID,
		CreatedAt:              now,
	}
}

var _ = Describe("purchasing pipeline", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Describe("fixed strategy, first run", func() {
		It("queues the configured fraction and the purchaser executes it", func() {
			p := newPipeline(computeConfig())
			p.seedCoverage(0, 100)
			p.seedRecommendation(100)

			Expect(p.sched.Run(ctx)).To(Succeed())

			intents := p.queuedIntents()
			Expect(intents).To(HaveLen(1))
			Expect(intents[0].HourlyCommitment).To(BeNumerically("~", 5.0, 1e-9))

			Expect(p.purch.Run(ctx)).To(Succeed())

			sp := p.savingsPlans()
			Expect(sp.CreateCalls).To(HaveLen(1))
			Expect(sp.CreateCalls[0].HourlyCommitment).To(BeNumerically("~", 5.0, 1e-9))
			Expect(p.client.QueueClientInstance.MessageCount()).To(BeZero())
		})

		It("never touches the queue in dry-run mode", func() {
			cfg := computeConfig()
			cfg.DryRun = true
			p := newPipeline(cfg)
			p.seedCoverage(0, 100)
			p.seedRecommendation(100)

			Expect(p.sched.Run(ctx)).To(Succeed())

			Expect(p.client.QueueClientInstance.MessageCount()).To(BeZero())
			Expect(p.client.QueueClientInstance.SendCallCount).To(BeZero())
			Expect(p.client.QueueClientInstance.PurgeCallCount).To(BeZero())
		})
	})

	Describe("conservative strategy with a small gap", func() {
		It("queues nothing and reports no action", func() {
			cfg := computeConfig()
			cfg.Strategy = config.StrategyConfig{
				Variant: "conservative",
				Conservative: config.ConservativeStrategyConfig{
					MinGapThreshold:    5,
					MaxPurchasePercent: 10,
				},
			}
			cfg.CoverageTargetPercent = 90
			cfg.SendNoAction = true
			p := newPipeline(cfg)
			p.seedCoverage(88, 100)
			p.seedRecommendation(20)

			Expect(p.sched.Run(ctx)).To(Succeed())

			Expect(p.client.QueueClientInstance.MessageCount()).To(BeZero())
			Expect(p.client.NotifierClientInstance.Published).To(HaveLen(1))
			Expect(p.client.NotifierClientInstance.Published[0].Subject).To(ContainSubstring("no action"))
		})
	})

	Describe("dichotomy ramp across monthly runs", func() {
		It("halves the purchase fraction as coverage approaches target", func() {
			cfg := computeConfig()
			cfg.Strategy = config.StrategyConfig{
				Variant: "dichotomy",
				Dichotomy: config.DichotomyStrategyConfig{
					MaxPurchasePercent: 50,
					MinPurchasePercent: 1,
				},
			}
			cfg.CoverageTargetPercent = 90
			cfg.MaxCoverageCapPercent = 90
			p := newPipeline(cfg)
			p.seedCoverage(0, 100)
			p.seedRecommendation(100)

			expected := []float64{50, 25, 12.5}
			for run, want := range expected {
				p.now = p.now.AddDate(0, run, 0)

				Expect(p.sched.Run(ctx)).To(Succeed())
				intents := p.queuedIntents()
				Expect(intents).To(HaveLen(1))
				Expect(intents[0].HourlyCommitment).To(BeNumerically("~", want, 1e-6))

				Expect(p.purch.Run(ctx)).To(Succeed())
				p.settlePurchases(100)
				p.savingsPlans().CreateCalls = nil
			}

			cov := p.costExplorer().CoverageByCategory[plan.CategoryCompute]
			Expect(cov.CoveragePercent).To(BeNumerically("~", 87.5, 1e-6))
		})
	})

	Describe("cap enforcement at purchase time", func() {
		It("executes until the cap and skips the rest, deleting both messages", func() {
			p := newPipeline(computeConfig())
			p.seedCoverage(80, 100)

			// Two queued intents, each projecting +10 points on an 80% base
			// with a 90% cap.
			p.enqueue(e2eIntent(10, 10, "rec-a", p.now))
			p.enqueue(e2eIntent(10, 10, "rec-b", p.now))

			Expect(p.purch.Run(ctx)).To(Succeed())

			sp := p.savingsPlans()
			Expect(sp.CreateCallCount).To(Equal(1))
			Expect(p.client.QueueClientInstance.MessageCount()).To(BeZero())

			Expect(p.client.NotifierClientInstance.Published).To(HaveLen(1))
			published := p.client.NotifierClientInstance.Published[0]
			Expect(published.Subject).To(Equal("Savings Plans purchaser: 1 purchased, 1 skipped, 0 failed"))
			Expect(published.Body).To(ContainSubstring("cap_exceeded"))
		})
	})

	Describe("idempotent retry after a vendor failure", func() {
		It("reuses the same client token and creates one plan", func() {
			p := newPipeline(computeConfig())
			p.seedCoverage(50, 100)
			p.enqueue(e2eIntent(5, 5, "rec-retry", p.now))

			sp := p.savingsPlans()
			sp.CreateErrors = []error{
				&aws.PurchaseError{Code: "InternalServerException", Err: errors.New("transient")},
			}

			// First run fails the purchase; the message stays queued.
			Expect(p.purch.Run(ctx)).To(Succeed())
			Expect(p.client.QueueClientInstance.MessageCount()).To(Equal(1))

			// Second run retries and succeeds.
			Expect(p.purch.Run(ctx)).To(Succeed())
			Expect(p.client.QueueClientInstance.MessageCount()).To(BeZero())

			Expect(sp.CreateCalls).To(HaveLen(2))
			Expect(sp.CreateCalls[0].ClientToken).To(Equal(sp.CreateCalls[1].ClientToken))
		})
	})

	Describe("expiring plan adjustment", func() {
		It("plans against effective coverage, not raw coverage", func() {
			cfg := computeConfig()
			cfg.CoverageTargetPercent = 70
			p := newPipeline(cfg)

			// Raw coverage 85% with a $20/h plan (20 points) ending inside
			// the 7-day renewal window: effective coverage is 65%, below the
			// 70% target, so the scheduler buys.
			p.seedCoverage(85, 100)
			p.seedRecommendation(10)
			p.savingsPlans().ActivePlans = []aws.SavingsPlan{
				{
					SavingsPlanID:    "sp-expiring",
					Category:         plan.CategoryCompute,
					State:            "active",
					HourlyCommitment: 20,
					End:              p.now.AddDate(0, 0, 3),
				},
			}

			Expect(p.sched.Run(ctx)).To(Succeed())

			intents := p.queuedIntents()
			Expect(intents).To(HaveLen(1))
			Expect(intents[0].HourlyCommitment).To(BeNumerically("~", 0.5, 1e-9))

			Expect(p.client.NotifierClientInstance.Published).To(HaveLen(1))
			Expect(p.client.NotifierClientInstance.Published[0].Body).To(ContainSubstring("compute: 65.00%"))
		})
	})
})
