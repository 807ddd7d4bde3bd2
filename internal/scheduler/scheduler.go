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

// Package scheduler runs the decision half of the purchasing pipeline:
// it snapshots coverage, fetches vendor recommendations, sizes purchases
// through the configured strategy, splits them across the portfolio mix,
// and enqueues the resulting intents for review.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/nextdoor/procura/pkg/aws"
	"github.com/nextdoor/procura/pkg/config"
	"github.com/nextdoor/procura/pkg/coverage"
	"github.com/nextdoor/procura/pkg/metrics"
	"github.com/nextdoor/procura/pkg/notify"
	"github.com/nextdoor/procura/pkg/plan"
	"github.com/nextdoor/procura/pkg/portfolio"
	"github.com/nextdoor/procura/pkg/queue"
	"github.com/nextdoor/procura/pkg/recommend"
	"github.com/nextdoor/procura/pkg/strategy"
)

// Scheduler orchestrates one scheduling run.
type Scheduler struct {
	AWSClient aws.Client
	Config    *config.Config
	Metrics   *metrics.Metrics
	Log       logr.Logger

	// Now is the clock used for snapshot times and idempotency tokens.
	// Nil means time.Now.
	Now func() time.Time
}

// Run executes one scheduling pass under the configured wall-clock
// deadline and records run metrics.
func (s *Scheduler) Run(ctx context.Context) error {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.Config.GetWallClockDeadline())
	defer cancel()

	err := s.run(ctx)
	s.Metrics.ObserveRun(metrics.RunScheduler, started, err)
	if err != nil && s.Config.NotifyOnError {
		// The run context may already be past its deadline; the failure
		// notification gets its own window.
		notifyCtx, cancelNotify := context.WithTimeout(context.WithoutCancel(ctx), s.Config.GetAPITimeout())
		defer cancelNotify()
		if notifier, nerr := s.notifier(notifyCtx); nerr == nil {
			subject, body := notify.ErrorNotification("scheduler", err)
			notifier.Notify(notifyCtx, subject, body)
		}
	}
	return err
}

func (s *Scheduler) run(ctx context.Context) error {
	cfg := s.Config
	now := s.now()

	categories := cfg.EnabledCategories()
	if len(categories) == 0 {
		s.Log.Info("no categories enabled, nothing to do")
		return nil
	}

	account := aws.AccountConfig{
		AccountID:     cfg.AccountID,
		AssumeRoleARN: cfg.AssumeRoleARN,
		Region:        cfg.DefaultRegion,
	}
	ceClient, err := s.AWSClient.CostExplorer(ctx, account)
	if err != nil {
		return fmt.Errorf("failed to acquire cost explorer client: %w", err)
	}
	spClient, err := s.AWSClient.SavingsPlans(ctx, account)
	if err != nil {
		return fmt.Errorf("failed to acquire savings plans client: %w", err)
	}

	// Coverage and recommendations are independent; gather both
	// concurrently.
	calc := &coverage.Calculator{
		CostExplorer:      ceClient,
		SavingsPlans:      spClient,
		RenewalWindowDays: cfg.RenewalWindowDays,
		Metrics:           s.Metrics,
		Log:               s.Log,
	}
	fetcher := &recommend.Fetcher{
		CostExplorer: ceClient,
		LookbackDays: cfg.LookbackDays,
		Timeout:      cfg.GetAPITimeout(),
		Log:          s.Log,
	}

	var (
		wg      sync.WaitGroup
		snap    *coverage.Snapshot
		snapErr error
		recs    map[plan.Category]*aws.Recommendation
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		snap, snapErr = calc.Snapshot(ctx, now, categories)
	}()
	go func() {
		defer wg.Done()
		recs = fetcher.Fetch(ctx, s.recommendationRequests(categories))
	}()
	wg.Wait()

	if snapErr != nil {
		// Coverage fetch failure degrades to zero coverage rather than
		// aborting: strategies still act on the recommendations, and the
		// cap re-validation at purchase time is the safety net.
		var fetchErr *coverage.FetchError
		if !errors.As(snapErr, &fetchErr) {
			return snapErr
		}
		s.Log.Error(snapErr, "coverage snapshot failed, proceeding with zero coverage")
		snap = &coverage.Snapshot{At: now, Categories: map[plan.Category]coverage.CategoryCoverage{}}
	}

	sizer, err := strategy.FromConfig(cfg.Strategy)
	if err != nil {
		return err
	}

	var intents []plan.PurchaseIntent
	for _, category := range categories {
		rec := recs[category]
		if rec == nil {
			s.Log.Info("no recommendation for category", "category", category)
			continue
		}
		s.Metrics.RecommendedHourly.WithLabelValues(string(category)).Set(rec.HourlyCommitment)

		intents = append(intents, s.planCategory(category, rec, snap, sizer, now)...)
	}

	coverageByCategory := make(map[plan.Category]float64, len(categories))
	for _, category := range categories {
		coverageByCategory[category] = snap.Percent(category)
	}

	notifier, err := s.notifier(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire notifier: %w", err)
	}

	if len(intents) == 0 {
		s.Log.Info("no purchase intents produced")
		if !cfg.DryRun && cfg.QueueMode == config.QueueModeReplace {
			// A replace run supersedes the previous one even when its
			// decision is "buy nothing"; stale intents must not stay
			// executable.
			queueClient, qerr := s.AWSClient.Queue(ctx)
			if qerr != nil {
				return fmt.Errorf("failed to acquire queue client: %w", qerr)
			}
			intentQueue := &queue.IntentQueue{Client: queueClient, Log: s.Log}
			if err := intentQueue.EnqueueAll(ctx, nil, cfg.QueueMode); err != nil {
				return err
			}
		}
		if cfg.SendNoAction {
			subject, body := notify.NoAction(coverageByCategory)
			notifier.Notify(ctx, subject, body)
		}
		return nil
	}

	if cfg.DryRun {
		// Identical in every other respect: the queue is never touched.
		s.Log.Info("dry run: skipping enqueue", "intents", len(intents))
		subject, body := notify.SchedulerSummary(intents, coverageByCategory, true)
		notifier.Notify(ctx, subject, body)
		return nil
	}

	queueClient, err := s.AWSClient.Queue(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire queue client: %w", err)
	}
	intentQueue := &queue.IntentQueue{Client: queueClient, Log: s.Log}
	if err := intentQueue.EnqueueAll(ctx, intents, cfg.QueueMode); err != nil {
		return err
	}
	for _, intent := range intents {
		s.Metrics.IntentsQueued.WithLabelValues(string(intent.Category)).Inc()
	}
	s.Log.Info("enqueued purchase intents", "count", len(intents), "mode", cfg.QueueMode)

	subject, body := notify.SchedulerSummary(intents, coverageByCategory, false)
	notifier.Notify(ctx, subject, body)
	return nil
}

// planCategory sizes, splits, cap-checks, and stamps the intents for one
// category.
func (s *Scheduler) planCategory(
	category plan.Category,
	rec *aws.Recommendation,
	snap *coverage.Snapshot,
	sizer strategy.Strategy,
	now time.Time,
) []plan.PurchaseIntent {
	cfg := s.Config
	current := snap.Percent(category)
	pph := snap.PercentPerHourly(category)

	decision := sizer.Decide(strategy.Input{
		CurrentPercent:    current,
		TargetPercent:     cfg.CoverageTargetPercent,
		RecommendedHourly: rec.HourlyCommitment,
		PercentPerHourly:  pph,
	})
	if decision.Hourly <= 0 {
		s.Log.Info("strategy declined purchase", "category", category, "reason", decision.Reason)
		return nil
	}
	s.Log.Info("strategy sized purchase",
		"category", category,
		"hourly", decision.Hourly,
		"reason", decision.Reason)

	pc := cfg.PlanFor(category)
	splitter := &portfolio.Splitter{MinFragmentHourly: cfg.MinFragmentHourly}
	fragments := splitter.Split(category, decision.Hourly, pc.ParsedMix(), pc.PartialUpfrontPercent)

	// Projected gain per fragment. With an unknown denominator the full
	// recommendation is assumed to exactly close the gap to target.
	gainPerHourly := pph
	if gainPerHourly <= 0 && rec.HourlyCommitment > 0 {
		gainPerHourly = (cfg.CoverageTargetPercent - current) / rec.HourlyCommitment
	}
	if gainPerHourly < 0 {
		gainPerHourly = 0
	}

	var totalGain float64
	for i := range fragments {
		fragments[i].ProjectedGainPercent = fragments[i].HourlyCommitment * gainPerHourly
		totalGain += fragments[i].ProjectedGainPercent
	}

	// Cap clamp: scale the whole category proportionally so the projection
	// never lands above the hard cap.
	if current+totalGain > cfg.MaxCoverageCapPercent {
		headroom := cfg.MaxCoverageCapPercent - current
		if headroom <= 0 || totalGain <= 0 {
			s.Log.Info("cap leaves no headroom, dropping intents",
				"category", category,
				"current", current,
				"cap", cfg.MaxCoverageCapPercent)
			return nil
		}
		scale := headroom / totalGain
		s.Log.Info("clamping intents to coverage cap",
			"category", category,
			"scale", scale,
			"cap", cfg.MaxCoverageCapPercent)
		for i := range fragments {
			fragments[i].HourlyCommitment *= scale
			fragments[i].ProjectedGainPercent *= scale
		}
	}

	for i := range fragments {
		fragments[i].SourceRecommendationID = rec.RecommendationID
		fragments[i].CreatedAt = now
		fragments[i].IdempotencyToken = plan.IdempotencyToken(
			fragments[i].Category,
			fragments[i].Term,
			fragments[i].PaymentOption,
			fragments[i].HourlyCommitment,
			rec.RecommendationID,
			now,
		)
	}
	return fragments
}

// recommendationRequests builds one request per category, priced against
// the category's highest-weight mix pair. Ties break by term then payment
// option, the canonical order.
func (s *Scheduler) recommendationRequests(categories []plan.Category) []recommend.Request {
	requests := make([]recommend.Request, 0, len(categories))
	for _, category := range categories {
		pc := s.Config.PlanFor(category)
		mix := pc.ParsedMix()

		var best config.MixKey
		bestWeight := -1.0
		for _, key := range config.SortedMixKeys(mix) {
			if mix[key] > bestWeight {
				best = key
				bestWeight = mix[key]
			}
		}
		requests = append(requests, recommend.Request{
			Category:      category,
			Term:          best.Term,
			PaymentOption: best.Payment,
		})
	}
	return requests
}

func (s *Scheduler) notifier(ctx context.Context) (*notify.Notifier, error) {
	client, err := s.AWSClient.Notifier(ctx)
	if err != nil {
		return nil, err
	}
	return &notify.Notifier{Client: client, Log: s.Log}, nil
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
