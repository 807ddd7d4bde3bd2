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

package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextdoor/procura/pkg/aws"
	"github.com/nextdoor/procura/pkg/config"
	"github.com/nextdoor/procura/pkg/plan"
)

func testIntent(token string) plan.PurchaseIntent {
	return plan.PurchaseIntent{
		Category:               plan.CategoryCompute,
		HourlyCommitment:       2.5,
		Term:                   plan.TermThreeYears,
		PaymentOption:          plan.PaymentNoUpfront,
		UpfrontFraction:        0,
		ProjectedGainPercent:   4.2,
		IdempotencyToken:       token,
		SourceRecommendationID: "rec-1234",
		CreatedAt:              time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}
}

func newQueue() (*IntentQueue, *aws.MockQueueClient) {
	client := aws.NewMockQueueClient()
	return &IntentQueue{Client: client, Log: logr.Discard()}, client
}

func TestEnqueueAllReplacePurges(t *testing.T) {
	ctx := context.Background()
	q, client := newQueue()

	require.NoError(t, client.SendMessage(ctx, "stale", ""))

	err := q.EnqueueAll(ctx, []plan.PurchaseIntent{testIntent("procura-a"), testIntent("procura-b")},
		config.QueueModeReplace)
	require.NoError(t, err)

	assert.Equal(t, 1, client.PurgeCallCount)
	assert.Equal(t, 2, client.MessageCount())
	assert.NotContains(t, client.Bodies(), "stale")
}

func TestEnqueueAllAppendKeepsExisting(t *testing.T) {
	ctx := context.Background()
	q, client := newQueue()

	require.NoError(t, client.SendMessage(ctx, "under-review", ""))

	err := q.EnqueueAll(ctx, []plan.PurchaseIntent{testIntent("procura-a")}, config.QueueModeAppend)
	require.NoError(t, err)

	assert.Zero(t, client.PurgeCallCount)
	assert.Equal(t, 2, client.MessageCount())
}

func TestEnqueueRoundTrip(t *testing.T) {
	ctx := context.Background()
	q, _ := newQueue()

	want := testIntent("procura-roundtrip")
	require.NoError(t, q.EnqueueAll(ctx, []plan.PurchaseIntent{want}, config.QueueModeAppend))

	received, err := q.ReceiveIntents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, received, 1)
	require.NoError(t, received[0].Err)
	assert.Equal(t, want, received[0].Intent)
}

func TestReceiveIntentsMalformedBody(t *testing.T) {
	ctx := context.Background()
	q, client := newQueue()

	require.NoError(t, client.SendMessage(ctx, "{not json", ""))
	require.NoError(t, q.EnqueueAll(ctx, []plan.PurchaseIntent{testIntent("procura-ok")}, config.QueueModeAppend))

	received, err := q.ReceiveIntents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, received, 2)

	assert.Error(t, received[0].Err)
	assert.NoError(t, received[1].Err)
}

func TestReceiveIntentsInvalidIntent(t *testing.T) {
	ctx := context.Background()
	q, client := newQueue()

	// Well-formed JSON that violates the intent contract: database plans
	// are never sold as 3-year.
	bad := testIntent("procura-bad")
	bad.Category = plan.CategoryDatabase
	body, err := json.Marshal(bad)
	require.NoError(t, err)
	require.NoError(t, client.SendMessage(ctx, string(body), ""))

	received, err := q.ReceiveIntents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, received, 1)

	var validationErr *plan.ValidationError
	require.ErrorAs(t, received[0].Err, &validationErr)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	q, client := newQueue()

	require.NoError(t, q.EnqueueAll(ctx, []plan.PurchaseIntent{testIntent("procura-del")}, config.QueueModeAppend))
	received, err := q.ReceiveIntents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, received, 1)

	require.NoError(t, q.Delete(ctx, received[0].Message.ReceiptHandle))
	assert.Zero(t, client.MessageCount())
}
