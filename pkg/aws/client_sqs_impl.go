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

package aws

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// fifoGroupID groups all intents into one FIFO message group. Purchase
// ordering across categories does not matter, but a group id is mandatory
// on FIFO queues.
const fifoGroupID = "purchase-intents"

// RealQueueClient implements QueueClient against SQS. Both standard and
// FIFO queues are supported; deduplication ids are only sent to FIFO
// queues.
type RealQueueClient struct {
	client   *sqs.Client
	queueURL string
	fifo     bool
}

// NewRealQueueClient creates an SQS-backed queue client for the given
// queue URL using the ambient credentials in cfg.
func NewRealQueueClient(cfg aws.Config, queueURL string, endpointURL string) *RealQueueClient {
	opts := []func(*sqs.Options){}
	if endpointURL != "" {
		opts = append(opts, func(o *sqs.Options) {
			o.BaseEndpoint = &endpointURL
		})
	}
	return &RealQueueClient{
		client:   sqs.NewFromConfig(cfg, opts...),
		queueURL: queueURL,
		fifo:     strings.HasSuffix(queueURL, ".fifo"),
	}
}

// SendMessage enqueues a message body. On FIFO queues dedupID suppresses
// duplicate sends within the deduplication window; on standard queues it
// is ignored.
func (c *RealQueueClient) SendMessage(ctx context.Context, body string, dedupID string) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    &c.queueURL,
		MessageBody: &body,
	}
	if c.fifo {
		input.MessageGroupId = aws.String(fifoGroupID)
		if dedupID != "" {
			input.MessageDeduplicationId = &dedupID
		}
	}
	if _, err := c.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("failed to send message to queue: %w", err)
	}
	return nil
}

// ReceiveMessages returns up to max messages. SQS caps a single receive
// at 10; larger requests are clamped.
func (c *RealQueueClient) ReceiveMessages(ctx context.Context, max int32, visibilityTimeout time.Duration) ([]Message, error) {
	if max > 10 {
		max = 10
	}
	output, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            &c.queueURL,
		MaxNumberOfMessages: max,
		VisibilityTimeout:   int32(visibilityTimeout.Seconds()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive messages from queue: %w", err)
	}

	messages := make([]Message, 0, len(output.Messages))
	for _, m := range output.Messages {
		messages = append(messages, Message{
			MessageID:     aws.ToString(m.MessageId),
			Body:          aws.ToString(m.Body),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
		})
	}
	return messages, nil
}

// DeleteMessage removes a message by receipt handle.
func (c *RealQueueClient) DeleteMessage(ctx context.Context, receiptHandle string) error {
	if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &c.queueURL,
		ReceiptHandle: &receiptHandle,
	}); err != nil {
		return fmt.Errorf("failed to delete message from queue: %w", err)
	}
	return nil
}

// PurgeQueue removes all messages from the queue.
func (c *RealQueueClient) PurgeQueue(ctx context.Context) error {
	if _, err := c.client.PurgeQueue(ctx, &sqs.PurgeQueueInput{
		QueueUrl: &c.queueURL,
	}); err != nil {
		return fmt.Errorf("failed to purge queue: %w", err)
	}
	return nil
}

var _ QueueClient = (*RealQueueClient)(nil)
