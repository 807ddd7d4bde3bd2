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

// Package aws wraps the AWS SDK behind narrow, mockable interfaces for the
// purchasing pipeline: Cost Explorer for coverage and recommendations, the
// Savings Plans API for inventory and purchases, SQS for the intent queue,
// and SNS for notifications.
//
// Coverage, recommendation, and purchase clients can be bound to a
// delegated billing role via STS AssumeRole. The queue and notification
// clients always use the ambient identity; those resources live in the
// local account.
package aws

import (
	"context"
	"time"

	"github.com/nextdoor/procura/pkg/plan"
)

// Client is the main interface for interacting with AWS services. It
// provides per-service sub-clients with built-in support for cross-account
// AssumeRole operations.
type Client interface {
	// CostExplorer returns a CostExplorerClient bound to the specified
	// account. If accountConfig.AssumeRoleARN is set, the role is assumed;
	// otherwise the default credential chain is used.
	CostExplorer(ctx context.Context, accountConfig AccountConfig) (CostExplorerClient, error)

	// SavingsPlans returns a SavingsPlansClient bound to the specified
	// account.
	SavingsPlans(ctx context.Context, accountConfig AccountConfig) (SavingsPlansClient, error)

	// Queue returns the intent queue client. Always bound to the ambient
	// identity.
	Queue(ctx context.Context) (QueueClient, error)

	// Notifier returns the notification client. Always bound to the
	// ambient identity.
	Notifier(ctx context.Context) (NotifierClient, error)
}

// CostExplorerClient provides the Cost Explorer operations the pipeline
// needs. All calls are served from us-east-1 regardless of the configured
// region; that is where the vendor hosts the API.
type CostExplorerClient interface {
	// GetSavingsPlansCoverage returns per-category coverage over [start,
	// end). Categories with no usage data are absent from the map.
	GetSavingsPlansCoverage(ctx context.Context, start, end time.Time) (map[plan.Category]Coverage, error)

	// GetPurchaseRecommendation returns the vendor's suggestion for one
	// category, or nil when the vendor has nothing to suggest.
	GetPurchaseRecommendation(ctx context.Context, req RecommendationRequest) (*Recommendation, error)
}

// SavingsPlansClient provides access to the Savings Plans API.
type SavingsPlansClient interface {
	// DescribeActiveSavingsPlans returns all active Savings Plans for the
	// account. The API is not region-specific.
	DescribeActiveSavingsPlans(ctx context.Context) ([]SavingsPlan, error)

	// ResolveOffering returns the vendor offering id for a (category, term,
	// payment option) triple.
	ResolveOffering(ctx context.Context, category plan.Category, term plan.Term, payment plan.PaymentOption) (string, error)

	// CreateSavingsPlan executes a purchase and returns the new plan id.
	// The call is idempotent under input.ClientToken.
	CreateSavingsPlan(ctx context.Context, input CreateSavingsPlanInput) (string, error)
}

// QueueClient provides the durable queue operations for purchase intents.
type QueueClient interface {
	// SendMessage enqueues a message body. dedupID is applied when the
	// underlying queue supports deduplication.
	SendMessage(ctx context.Context, body string, dedupID string) error

	// ReceiveMessages returns up to max messages, hiding them from other
	// consumers for the visibility timeout.
	ReceiveMessages(ctx context.Context, max int32, visibilityTimeout time.Duration) ([]Message, error)

	// DeleteMessage removes a message by receipt handle.
	DeleteMessage(ctx context.Context, receiptHandle string) error

	// PurgeQueue removes all messages. Only the scheduler calls this, and
	// only in replace mode.
	PurgeQueue(ctx context.Context) error
}

// NotifierClient publishes human-facing notifications.
type NotifierClient interface {
	Publish(ctx context.Context, subject, body string) error
}

// ClientConfig configures AWS client creation.
type ClientConfig struct {
	// DefaultRegion is the AWS region for API calls.
	DefaultRegion string

	// QueueURL is the SQS queue holding purchase intents.
	QueueURL string

	// TopicARN is the SNS topic for notifications. When empty, Notifier
	// returns a no-op client.
	TopicARN string

	// HTTPTimeout is the timeout for HTTP requests to AWS APIs.
	// Default: 30 seconds.
	HTTPTimeout time.Duration
}

// NewClient creates a new AWS client with the specified configuration.
// The client handles credential management and AssumeRole operations.
func NewClient(ctx context.Context, config ClientConfig) (Client, error) {
	return NewRealClient(ctx, config)
}
