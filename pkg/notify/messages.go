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

package notify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/nextdoor/procura/pkg/plan"
)

// redactLimit bounds error text included in notifications; full errors
// stay in the logs.
const redactLimit = 160

// SchedulerSummary renders the scheduler run notification. Coverage maps
// effective percent per category; dryRun switches the subject so review
// traffic is distinguishable from real runs.
func SchedulerSummary(intents []plan.PurchaseIntent, coverage map[plan.Category]float64, dryRun bool) (string, string) {
	subject := "Savings Plans scheduler: queued purchase intents"
	if dryRun {
		subject = "Savings Plans scheduler (dry run): proposed purchase intents"
	}

	var b strings.Builder
	writeCoverage(&b, coverage)

	fmt.Fprintf(&b, "\nIntents (%d):\n", len(intents))
	for _, intent := range intents {
		fmt.Fprintf(&b, "  - %s %s %s: $%.4f/h (+%.2f%% projected), token %s\n",
			intent.Category, intent.Term, intent.PaymentOption,
			intent.HourlyCommitment, intent.ProjectedGainPercent, intent.IdempotencyToken)
	}
	if dryRun {
		b.WriteString("\nDry run: nothing was queued.\n")
	}
	return subject, b.String()
}

// NoAction renders the optional "nothing to do" notification.
func NoAction(coverage map[plan.Category]float64) (string, string) {
	var b strings.Builder
	b.WriteString("No purchase intents were produced this run.\n\n")
	writeCoverage(&b, coverage)
	return "Savings Plans scheduler: no action", b.String()
}

// PurchaseSummary renders the aggregated purchaser notification covering
// every processed intent and the post-run coverage.
func PurchaseSummary(outcomes []plan.PurchaseOutcome, coverageAfter map[plan.Category]float64) (string, string) {
	byKind := lo.GroupBy(outcomes, func(o plan.PurchaseOutcome) plan.OutcomeKind {
		return o.Kind
	})

	subject := fmt.Sprintf("Savings Plans purchaser: %d purchased, %d skipped, %d failed",
		len(byKind[plan.OutcomeSuccess]), len(byKind[plan.OutcomeSkipped]), len(byKind[plan.OutcomeFailed]))

	var b strings.Builder
	for _, o := range byKind[plan.OutcomeSuccess] {
		fmt.Fprintf(&b, "PURCHASED %s %s %s $%.4f/h -> plan %s\n",
			o.Intent.Category, o.Intent.Term, o.Intent.PaymentOption,
			o.Intent.HourlyCommitment, o.SavingsPlanID)
	}
	for _, o := range byKind[plan.OutcomeSkipped] {
		fmt.Fprintf(&b, "SKIPPED (%s) %s $%.4f/h\n",
			o.SkipReason, o.Intent.Category, o.Intent.HourlyCommitment)
	}
	for _, o := range byKind[plan.OutcomeFailed] {
		fmt.Fprintf(&b, "FAILED %s $%.4f/h: %s\n",
			o.Intent.Category, o.Intent.HourlyCommitment, o.Error)
	}

	b.WriteString("\nPost-run ")
	writeCoverage(&b, coverageAfter)
	return subject, b.String()
}

// ErrorNotification renders the notification sent when a run aborts.
func ErrorNotification(runKind string, err error) (string, string) {
	subject := fmt.Sprintf("Savings Plans %s: run failed", runKind)
	body := fmt.Sprintf("The %s run aborted with an error:\n\n  %s\n\nSee logs for details.\n",
		runKind, Redact(err))
	return subject, body
}

func writeCoverage(b *strings.Builder, coverage map[plan.Category]float64) {
	b.WriteString("Coverage:\n")

	categories := lo.Keys(coverage)
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })
	for _, category := range categories {
		fmt.Fprintf(b, "  - %s: %.2f%%\n", category, coverage[category])
	}
	if len(categories) == 0 {
		b.WriteString("  (no data)\n")
	}
}

// Redact flattens an error to a single bounded line so vendor responses
// with embedded payloads never land in a notification. The purchaser uses
// it when recording failed outcomes.
func Redact(err error) string {
	if err == nil {
		return "unknown error"
	}
	msg := strings.ReplaceAll(err.Error(), "\n", " ")
	if len(msg) > redactLimit {
		msg = msg[:redactLimit] + "..."
	}
	return msg
}
