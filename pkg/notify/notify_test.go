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
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextdoor/procura/pkg/aws"
	"github.com/nextdoor/procura/pkg/plan"
)

func TestNotifyRetriesTransientFailures(t *testing.T) {
	client := aws.NewMockNotifierClient()
	client.FailuresBeforeSuccess = 2

	n := &Notifier{Client: client, Log: logr.Discard()}
	n.Notify(context.Background(), "subject", "body")

	require.Len(t, client.Published, 1)
	assert.Equal(t, 3, client.PublishCallCount)
}

func TestNotifyGivesUpAfterRetries(t *testing.T) {
	client := aws.NewMockNotifierClient()
	client.PublishError = errors.New("topic gone")

	n := &Notifier{Client: client, Log: logr.Discard()}
	// Must not panic or block; the failure is logged and dropped.
	n.Notify(context.Background(), "subject", "body")

	assert.Empty(t, client.Published)
	assert.Equal(t, 3, client.PublishCallCount)
}

func TestSchedulerSummary(t *testing.T) {
	intents := []plan.PurchaseIntent{
		{
			Category:             plan.CategoryCompute,
			HourlyCommitment:     5,
			Term:                 plan.TermThreeYears,
			PaymentOption:        plan.PaymentNoUpfront,
			ProjectedGainPercent: 4.2,
			IdempotencyToken:     "procura-abc",
			CreatedAt:            time.Now(),
		},
	}
	coverage := map[plan.Category]float64{plan.CategoryCompute: 72.5}

	subject, body := SchedulerSummary(intents, coverage, false)
	assert.NotContains(t, subject, "dry run")
	assert.Contains(t, body, "compute: 72.50%")
	assert.Contains(t, body, "$5.0000/h")
	assert.Contains(t, body, "procura-abc")

	subject, body = SchedulerSummary(intents, coverage, true)
	assert.Contains(t, subject, "dry run")
	assert.Contains(t, body, "nothing was queued")
}

func TestNoAction(t *testing.T) {
	subject, body := NoAction(map[plan.Category]float64{plan.CategorySageMaker: 91})
	assert.Contains(t, subject, "no action")
	assert.Contains(t, body, "sagemaker: 91.00%")

	_, body = NoAction(nil)
	assert.Contains(t, body, "no data")
}

func TestPurchaseSummary(t *testing.T) {
	intent := plan.PurchaseIntent{
		Category:         plan.CategoryCompute,
		HourlyCommitment: 3.5,
		Term:             plan.TermThreeYears,
		PaymentOption:    plan.PaymentNoUpfront,
	}
	outcomes := []plan.PurchaseOutcome{
		{Intent: intent, Kind: plan.OutcomeSuccess, SavingsPlanID: "sp-0001"},
		{Intent: intent, Kind: plan.OutcomeSkipped, SkipReason: plan.SkipCapExceeded},
		{Intent: intent, Kind: plan.OutcomeFailed, Error: "rejected (ValidationException)"},
	}

	subject, body := PurchaseSummary(outcomes, map[plan.Category]float64{plan.CategoryCompute: 80})
	assert.Equal(t, "Savings Plans purchaser: 1 purchased, 1 skipped, 1 failed", subject)
	assert.Contains(t, body, "sp-0001")
	assert.Contains(t, body, "cap_exceeded")
	assert.Contains(t, body, "ValidationException")
	assert.Contains(t, body, "compute: 80.00%")
}

func TestErrorNotification(t *testing.T) {
	subject, body := ErrorNotification("purchaser", errors.New("live coverage unavailable"))
	assert.Contains(t, subject, "purchaser")
	assert.Contains(t, body, "live coverage unavailable")
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "unknown error", Redact(nil))

	multiline := errors.New("first line\nsecond line")
	assert.NotContains(t, Redact(multiline), "\n")

	long := errors.New(strings.Repeat("x", 500))
	redacted := Redact(long)
	assert.LessOrEqual(t, len(redacted), redactLimit+3)
	assert.True(t, strings.HasSuffix(redacted, "..."))
}
