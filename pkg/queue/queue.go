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

// Package queue carries purchase intents between the scheduler and the
// purchaser over a durable queue. Message bodies are JSON-encoded
// intents; the queue contents are the only persistent state between
// runs.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/nextdoor/procura/pkg/aws"
	"github.com/nextdoor/procura/pkg/config"
	"github.com/nextdoor/procura/pkg/plan"
)

// DefaultVisibilityTimeout hides received intents from other consumers
// long enough for a full purchaser pass.
const DefaultVisibilityTimeout = 5 * time.Minute

// ReceivedIntent pairs a queue message with its decoded intent. Err is
// set when the body does not decode or the intent fails validation; the
// purchaser deletes such messages and records a skip.
type ReceivedIntent struct {
	Message aws.Message
	Intent  plan.PurchaseIntent
	Err     error
}

// IntentQueue reads and writes purchase intents on a queue client.
type IntentQueue struct {
	Client aws.QueueClient

	// VisibilityTimeout for receives. Zero means
	// DefaultVisibilityTimeout.
	VisibilityTimeout time.Duration

	Log logr.Logger
}

// EnqueueAll sends every intent to the queue. In replace mode the queue
// is purged first so this run supersedes the previous one; append mode
// leaves prior intents under review untouched. The idempotency token is
// the deduplication id.
func (q *IntentQueue) EnqueueAll(ctx context.Context, intents []plan.PurchaseIntent, mode config.QueueMode) error {
	if mode == config.QueueModeReplace {
		if err := q.Client.PurgeQueue(ctx); err != nil {
			return fmt.Errorf("failed to purge queue before replace: %w", err)
		}
	}

	for _, intent := range intents {
		body, err := json.Marshal(intent)
		if err != nil {
			return fmt.Errorf("failed to encode intent for %s: %w", intent.Category, err)
		}
		if err := q.Client.SendMessage(ctx, string(body), intent.IdempotencyToken); err != nil {
			return fmt.Errorf("failed to enqueue intent for %s: %w", intent.Category, err)
		}
		q.Log.V(1).Info("enqueued purchase intent",
			"category", intent.Category,
			"hourly", intent.HourlyCommitment,
			"token", intent.IdempotencyToken)
	}
	return nil
}

// ReceiveIntents receives up to max messages and decodes each body.
// Decode and validation failures are reported per message, not as a call
// error, so one malformed body cannot block the batch.
func (q *IntentQueue) ReceiveIntents(ctx context.Context, max int32) ([]ReceivedIntent, error) {
	timeout := q.VisibilityTimeout
	if timeout <= 0 {
		timeout = DefaultVisibilityTimeout
	}

	messages, err := q.Client.ReceiveMessages(ctx, max, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to receive intents: %w", err)
	}

	received := make([]ReceivedIntent, 0, len(messages))
	for _, msg := range messages {
		r := ReceivedIntent{Message: msg}
		if err := json.Unmarshal([]byte(msg.Body), &r.Intent); err != nil {
			r.Err = fmt.Errorf("failed to decode intent body: %w", err)
		} else if err := r.Intent.Validate(); err != nil {
			r.Err = err
		}
		received = append(received, r)
	}
	return received, nil
}

// Delete removes a processed message.
func (q *IntentQueue) Delete(ctx context.Context, receiptHandle string) error {
	return q.Client.DeleteMessage(ctx, receiptHandle)
}
