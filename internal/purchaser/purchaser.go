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

// Package purchaser runs the execution half of the purchasing pipeline:
// it drains reviewed intents from the queue, re-validates each against
// live coverage and the hard cap, and executes the surviving purchases.
package purchaser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/nextdoor/procura/pkg/aws"
	"github.com/nextdoor/procura/pkg/config"
	"github.com/nextdoor/procura/pkg/coverage"
	"github.com/nextdoor/procura/pkg/metrics"
	"github.com/nextdoor/procura/pkg/notify"
	"github.com/nextdoor/procura/pkg/plan"
	"github.com/nextdoor/procura/pkg/queue"
)

// hoursPerYear converts an hourly commitment into a term total for
// upfront payment sizing.
const hoursPerYear = 8760

// Purchaser orchestrates one purchasing run.
type Purchaser struct {
	AWSClient aws.Client
	Config    *config.Config
	Metrics   *metrics.Metrics
	Log       logr.Logger

	// Now is the clock used for the live coverage snapshot. Nil means
	// time.Now.
	Now func() time.Time
}

// Run executes one purchasing pass under the configured wall-clock
// deadline and records run metrics.
func (p *Purchaser) Run(ctx context.Context) error {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, p.Config.GetWallClockDeadline())
	defer cancel()

	err := p.run(ctx)
	p.Metrics.ObserveRun(metrics.RunPurchaser, started, err)
	if err != nil && p.Config.NotifyOnError {
		// The run context may already be past its deadline; the failure
		// notification gets its own window.
		notifyCtx, cancelNotify := context.WithTimeout(context.WithoutCancel(ctx), p.Config.GetAPITimeout())
		defer cancelNotify()
		if notifier, nerr := p.notifier(notifyCtx); nerr == nil {
			subject, body := notify.ErrorNotification("purchaser", err)
			notifier.Notify(notifyCtx, subject, body)
		}
	}
	return err
}

func (p *Purchaser) run(ctx context.Context) error {
	cfg := p.Config

	queueClient, err := p.AWSClient.Queue(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire queue client: %w", err)
	}
	intentQueue := &queue.IntentQueue{Client: queueClient, Log: p.Log}

	received, err := intentQueue.ReceiveIntents(ctx, int32(cfg.PurchaseBatchSize))
	if err != nil {
		return err
	}
	if len(received) == 0 {
		// Nothing under review. Exit silently: a notification here would
		// page on every idle cycle.
		p.Log.Info("queue empty, nothing to purchase")
		return nil
	}

	account := aws.AccountConfig{
		AccountID:     cfg.AccountID,
		AssumeRoleARN: cfg.AssumeRoleARN,
		Region:        cfg.DefaultRegion,
	}
	ceClient, err := p.AWSClient.CostExplorer(ctx, account)
	if err != nil {
		return fmt.Errorf("failed to acquire cost explorer client: %w", err)
	}
	spClient, err := p.AWSClient.SavingsPlans(ctx, account)
	if err != nil {
		return fmt.Errorf("failed to acquire savings plans client: %w", err)
	}

	// Live coverage is the baseline every intent is re-validated against.
	// Without it purchases cannot be executed safely, so failure aborts
	// the run and the messages stay queued.
	calc := &coverage.Calculator{
		CostExplorer:      ceClient,
		SavingsPlans:      spClient,
		RenewalWindowDays: cfg.RenewalWindowDays,
		Metrics:           p.Metrics,
		Log:               p.Log,
	}
	snap, err := calc.Snapshot(ctx, p.now(), plan.AllCategories)
	if err != nil {
		return fmt.Errorf("live coverage unavailable, aborting purchases: %w", err)
	}

	liveCurrent := make(map[plan.Category]float64, len(plan.AllCategories))
	for _, category := range plan.AllCategories {
		liveCurrent[category] = snap.Percent(category)
	}

	outcomes := make([]plan.PurchaseOutcome, 0, len(received))
	for _, r := range received {
		if ctx.Err() != nil {
			// Deadline expired mid-batch. Stop here; the unprocessed
			// messages stay queued for the next run.
			break
		}
		outcome := p.processIntent(ctx, intentQueue, spClient, snap, liveCurrent, r)
		outcomes = append(outcomes, outcome)
		p.recordOutcome(outcome)
	}

	// The summary covers whatever was processed, partial or not, and goes
	// out on a fresh context because the run's own may already be dead.
	notifyCtx, cancelNotify := context.WithTimeout(context.WithoutCancel(ctx), cfg.GetAPITimeout())
	defer cancelNotify()
	notifier, err := p.notifier(notifyCtx)
	if err != nil {
		return fmt.Errorf("failed to acquire notifier: %w", err)
	}
	subject, body := notify.PurchaseSummary(outcomes, liveCurrent)
	notifier.Notify(notifyCtx, subject, body)

	if ctx.Err() != nil {
		return fmt.Errorf("run deadline expired after %d of %d intents: %w",
			len(outcomes), len(received), ctx.Err())
	}
	return nil
}

// processIntent executes the per-message decision ladder: validate,
// cap-check against the live baseline, purchase. Deletion policy follows
// the outcome: invalid and cap-skipped messages are deleted (retrying
// cannot change the verdict), vendor failures stay queued for the
// visibility-timeout retry.
func (p *Purchaser) processIntent(
	ctx context.Context,
	intentQueue *queue.IntentQueue,
	spClient aws.SavingsPlansClient,
	snap *coverage.Snapshot,
	liveCurrent map[plan.Category]float64,
	r queue.ReceivedIntent,
) plan.PurchaseOutcome {
	cfg := p.Config
	intent := r.Intent

	if r.Err != nil {
		p.Log.Info("discarding invalid intent", "messageId", r.Message.MessageID, "error", r.Err.Error())
		p.deleteMessage(ctx, intentQueue, r.Message)
		return plan.PurchaseOutcome{Intent: intent, Kind: plan.OutcomeSkipped, SkipReason: plan.SkipInvalid}
	}

	// Project against live data, not the snapshot stamped at scheduling
	// time. The stamped gain is the fallback when the live denominator is
	// unknown.
	contribution := intent.HourlyCommitment * snap.PercentPerHourly(intent.Category)
	if contribution <= 0 {
		contribution = intent.ProjectedGainPercent
	}
	projected := liveCurrent[intent.Category] + contribution
	if projected > cfg.MaxCoverageCapPercent {
		p.Log.Info("skipping intent, projected coverage above cap",
			"category", intent.Category,
			"projected", projected,
			"cap", cfg.MaxCoverageCapPercent)
		p.deleteMessage(ctx, intentQueue, r.Message)
		return plan.PurchaseOutcome{Intent: intent, Kind: plan.OutcomeSkipped, SkipReason: plan.SkipCapExceeded}
	}

	offeringID, err := spClient.ResolveOffering(ctx, intent.Category, intent.Term, intent.PaymentOption)
	if err != nil {
		p.Log.Error(err, "failed to resolve offering", "category", intent.Category)
		return plan.PurchaseOutcome{Intent: intent, Kind: plan.OutcomeFailed, Error: notify.Redact(err)}
	}

	planID, err := spClient.CreateSavingsPlan(ctx, aws.CreateSavingsPlanInput{
		OfferingID:           offeringID,
		HourlyCommitment:     intent.HourlyCommitment,
		UpfrontPaymentAmount: upfrontAmount(intent),
		ClientToken:          intent.IdempotencyToken,
		Tags: map[string]string{
			"managed-by":                "procura",
			"procura:recommendation-id": intent.SourceRecommendationID,
		},
	})
	if err != nil {
		// The message stays queued; the idempotency token makes the retry
		// safe even if the vendor actually executed this attempt.
		p.Log.Error(err, "purchase failed",
			"category", intent.Category,
			"hourly", intent.HourlyCommitment,
			"token", intent.IdempotencyToken)
		return plan.PurchaseOutcome{Intent: intent, Kind: plan.OutcomeFailed, Error: notify.Redact(err)}
	}

	p.Log.Info("purchased savings plan",
		"category", intent.Category,
		"hourly", intent.HourlyCommitment,
		"planId", planID)
	p.deleteMessage(ctx, intentQueue, r.Message)

	// Move the in-memory baseline so the rest of the batch cannot
	// collectively overshoot the cap.
	liveCurrent[intent.Category] += contribution

	return plan.PurchaseOutcome{Intent: intent, Kind: plan.OutcomeSuccess, SavingsPlanID: planID}
}

func (p *Purchaser) deleteMessage(ctx context.Context, intentQueue *queue.IntentQueue, msg aws.Message) {
	if err := intentQueue.Delete(ctx, msg.ReceiptHandle); err != nil {
		// The message will reappear after the visibility timeout; the
		// idempotency token keeps the redo harmless.
		p.Log.Error(err, "failed to delete queue message", "messageId", msg.MessageID)
	}
}

func (p *Purchaser) recordOutcome(outcome plan.PurchaseOutcome) {
	category := string(outcome.Intent.Category)
	// Failed outcomes use a fixed reason label; the error text itself is
	// unbounded and belongs in logs and notifications, not label values.
	reason := string(outcome.SkipReason)
	if outcome.Kind == plan.OutcomeFailed {
		reason = "vendor_error"
	}
	p.Metrics.PurchaseOutcomes.WithLabelValues(category, string(outcome.Kind), reason).Inc()
	if outcome.Kind == plan.OutcomeSuccess {
		p.Metrics.PurchasedCommitment.WithLabelValues(category).Add(outcome.Intent.HourlyCommitment)
	}
}

// upfrontAmount converts the intent's upfront fraction into the dollar
// amount the purchase API expects: the fraction applied to the full-term
// commitment.
func upfrontAmount(intent plan.PurchaseIntent) float64 {
	if intent.UpfrontFraction <= 0 {
		return 0
	}
	totalCommitment := intent.HourlyCommitment * hoursPerYear * float64(intent.Term.Years())
	return totalCommitment * intent.UpfrontFraction
}

func (p *Purchaser) notifier(ctx context.Context) (*notify.Notifier, error) {
	client, err := p.AWSClient.Notifier(ctx)
	if err != nil {
		return nil, err
	}
	return &notify.Notifier{Client: client, Log: p.Log}, nil
}

func (p *Purchaser) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}
