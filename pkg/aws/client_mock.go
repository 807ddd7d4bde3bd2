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
	"sync"
	"time"

	"github.com/nextdoor/procura/pkg/plan"
)

// MockClient is a mock implementation of the Client interface for testing.
// It provides configurable responses and tracks method calls.
type MockClient struct {
	mu sync.RWMutex

	// CostExplorerClients maps AccountID to MockCostExplorerClient
	CostExplorerClients map[string]*MockCostExplorerClient

	// SavingsPlansClients maps AccountID to MockSavingsPlansClient
	SavingsPlansClients map[string]*MockSavingsPlansClient

	// QueueClientInstance is the shared mock queue client
	QueueClientInstance *MockQueueClient

	// NotifierClientInstance is the shared mock notifier client
	NotifierClientInstance *MockNotifierClient

	// AssumeRoleCalls tracks all AssumeRole attempts
	AssumeRoleCalls []AssumeRoleCall

	// Errors can be set to simulate AWS API errors
	CostExplorerError error
	SavingsPlansError error
	QueueError        error
	NotifierError     error
}

// AssumeRoleCall records an AssumeRole operation for testing.
type AssumeRoleCall struct {
	AccountID     string
	AssumeRoleARN string
	SessionName   string
}

// NewMockClient creates a new MockClient with initialized sub-clients.
func NewMockClient() *MockClient {
	return &MockClient{
		CostExplorerClients:    make(map[string]*MockCostExplorerClient),
		SavingsPlansClients:    make(map[string]*MockSavingsPlansClient),
		QueueClientInstance:    NewMockQueueClient(),
		NotifierClientInstance: NewMockNotifierClient(),
		AssumeRoleCalls:        []AssumeRoleCall{},
	}
}

// CostExplorer returns a mock CostExplorerClient for the specified account.
func (m *MockClient) CostExplorer(_ context.Context, accountConfig AccountConfig) (CostExplorerClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CostExplorerError != nil {
		return nil, m.CostExplorerError
	}
	m.trackAssumeRole(accountConfig)

	client, exists := m.CostExplorerClients[accountConfig.AccountID]
	if !exists {
		client = NewMockCostExplorerClient()
		m.CostExplorerClients[accountConfig.AccountID] = client
	}
	return client, nil
}

// SavingsPlans returns a mock SavingsPlansClient for the specified account.
func (m *MockClient) SavingsPlans(_ context.Context, accountConfig AccountConfig) (SavingsPlansClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SavingsPlansError != nil {
		return nil, m.SavingsPlansError
	}
	m.trackAssumeRole(accountConfig)

	client, exists := m.SavingsPlansClients[accountConfig.AccountID]
	if !exists {
		client = NewMockSavingsPlansClient()
		m.SavingsPlansClients[accountConfig.AccountID] = client
	}
	return client, nil
}

// Queue returns the mock QueueClient.
func (m *MockClient) Queue(_ context.Context) (QueueClient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.QueueError != nil {
		return nil, m.QueueError
	}
	return m.QueueClientInstance, nil
}

// Notifier returns the mock NotifierClient.
func (m *MockClient) Notifier(_ context.Context) (NotifierClient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.NotifierError != nil {
		return nil, m.NotifierError
	}
	return m.NotifierClientInstance, nil
}

// trackAssumeRole records an AssumeRole call if an ARN is specified.
// Caller must hold m.mu.
func (m *MockClient) trackAssumeRole(accountConfig AccountConfig) {
	if accountConfig.AssumeRoleARN == "" {
		return
	}
	m.AssumeRoleCalls = append(m.AssumeRoleCalls, AssumeRoleCall{
		AccountID:     accountConfig.AccountID,
		AssumeRoleARN: accountConfig.AssumeRoleARN,
		SessionName:   accountConfig.SessionName,
	})
}

// MockCostExplorerClient is a mock implementation of CostExplorerClient
// for testing.
type MockCostExplorerClient struct {
	mu sync.RWMutex

	// CoverageByCategory is returned from GetSavingsPlansCoverage.
	CoverageByCategory map[plan.Category]Coverage

	// Recommendations maps category to the canned recommendation. A missing
	// entry means the vendor has no suggestion.
	Recommendations map[plan.Category]*Recommendation

	// Error injection for testing error paths
	CoverageError       error
	RecommendationError error

	// RecommendationErrorFor injects an error only for one category,
	// simulating partial fan-out failure.
	RecommendationErrorFor map[plan.Category]error

	// CallCounts tracks method call counts
	CoverageCallCount       int
	RecommendationCallCount int

	// RecommendationRequests records every recommendation query.
	RecommendationRequests []RecommendationRequest
}

// NewMockCostExplorerClient creates a new MockCostExplorerClient.
func NewMockCostExplorerClient() *MockCostExplorerClient {
	return &MockCostExplorerClient{
		CoverageByCategory:     make(map[plan.Category]Coverage),
		Recommendations:        make(map[plan.Category]*Recommendation),
		RecommendationErrorFor: make(map[plan.Category]error),
	}
}

// GetSavingsPlansCoverage returns the canned coverage data.
func (m *MockCostExplorerClient) GetSavingsPlansCoverage(
	_ context.Context,
	_, _ time.Time,
) (map[plan.Category]Coverage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CoverageCallCount++
	if m.CoverageError != nil {
		return nil, m.CoverageError
	}

	result := make(map[plan.Category]Coverage, len(m.CoverageByCategory))
	for k, v := range m.CoverageByCategory {
		result[k] = v
	}
	return result, nil
}

// GetPurchaseRecommendation returns the canned recommendation for the
// requested category.
func (m *MockCostExplorerClient) GetPurchaseRecommendation(
	_ context.Context,
	req RecommendationRequest,
) (*Recommendation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RecommendationCallCount++
	m.RecommendationRequests = append(m.RecommendationRequests, req)

	if m.RecommendationError != nil {
		return nil, m.RecommendationError
	}
	if err := m.RecommendationErrorFor[req.Category]; err != nil {
		return nil, err
	}

	rec, ok := m.Recommendations[req.Category]
	if !ok {
		return nil, nil
	}
	out := *rec
	return &out, nil
}

// MockSavingsPlansClient is a mock implementation of SavingsPlansClient
// for testing.
type MockSavingsPlansClient struct {
	mu sync.RWMutex

	// ActivePlans is returned from DescribeActiveSavingsPlans.
	ActivePlans []SavingsPlan

	// OfferingIDs maps "category/term/payment" to an offering id. Missing
	// entries resolve to a deterministic synthetic id.
	OfferingIDs map[string]string

	// PurchasedPlanIDs are returned from successive CreateSavingsPlan calls.
	// When exhausted, ids are generated.
	PurchasedPlanIDs []string

	// Error injection for testing error paths
	DescribeError error
	ResolveError  error
	CreateError   error

	// CreateErrors returns one error per successive CreateSavingsPlan call;
	// nil entries succeed. Takes precedence over CreateError when non-empty.
	CreateErrors []error

	// CreateHook runs at the start of every CreateSavingsPlan call when
	// set. Tests use it to cancel contexts or record timing mid-batch.
	CreateHook func(ctx context.Context, input CreateSavingsPlanInput)

	// CallCounts tracks method call counts
	DescribeCallCount int
	ResolveCallCount  int
	CreateCallCount   int

	// CreateCalls records every purchase request.
	CreateCalls []CreateSavingsPlanInput
}

// NewMockSavingsPlansClient creates a new MockSavingsPlansClient.
func NewMockSavingsPlansClient() *MockSavingsPlansClient {
	return &MockSavingsPlansClient{
		ActivePlans: []SavingsPlan{},
		OfferingIDs: make(map[string]string),
	}
}

// DescribeActiveSavingsPlans returns the canned plan inventory.
func (m *MockSavingsPlansClient) DescribeActiveSavingsPlans(_ context.Context) ([]SavingsPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.DescribeCallCount++
	if m.DescribeError != nil {
		return nil, m.DescribeError
	}
	plans := make([]SavingsPlan, len(m.ActivePlans))
	copy(plans, m.ActivePlans)
	return plans, nil
}

// ResolveOffering returns the configured offering id, or a synthetic one.
func (m *MockSavingsPlansClient) ResolveOffering(
	_ context.Context,
	category plan.Category,
	term plan.Term,
	payment plan.PaymentOption,
) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ResolveCallCount++
	if m.ResolveError != nil {
		return "", m.ResolveError
	}

	key := fmt.Sprintf("%s/%s/%s", category, term, payment)
	if id, ok := m.OfferingIDs[key]; ok {
		return id, nil
	}
	return "offering-" + key, nil
}

// CreateSavingsPlan records the purchase and returns the next canned plan
// id, or a generated one.
func (m *MockSavingsPlansClient) CreateSavingsPlan(ctx context.Context, input CreateSavingsPlanInput) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CreateHook != nil {
		m.CreateHook(ctx, input)
	}

	call := m.CreateCallCount
	m.CreateCallCount++
	m.CreateCalls = append(m.CreateCalls, input)

	if len(m.CreateErrors) > 0 {
		if call < len(m.CreateErrors) && m.CreateErrors[call] != nil {
			return "", m.CreateErrors[call]
		}
	} else if m.CreateError != nil {
		return "", m.CreateError
	}

	if call < len(m.PurchasedPlanIDs) {
		return m.PurchasedPlanIDs[call], nil
	}
	return fmt.Sprintf("sp-mock-%04d", call), nil
}

// mockQueueMessage is a message held by the in-memory queue.
type mockQueueMessage struct {
	id      string
	body    string
	dedupID string
}

// MockQueueClient is an in-memory implementation of QueueClient for
// testing. Messages survive receives until deleted, mirroring SQS
// visibility semantics without the timeout.
type MockQueueClient struct {
	mu sync.RWMutex

	messages []mockQueueMessage
	nextID   int

	// FIFO applies deduplication by dedup id on SendMessage.
	FIFO bool

	// Error injection for testing error paths
	SendError    error
	ReceiveError error
	DeleteError  error
	PurgeError   error

	// CallCounts tracks method call counts
	SendCallCount    int
	ReceiveCallCount int
	DeleteCallCount  int
	PurgeCallCount   int
}

// NewMockQueueClient creates a new MockQueueClient.
func NewMockQueueClient() *MockQueueClient {
	return &MockQueueClient{}
}

// SendMessage enqueues a message body.
func (m *MockQueueClient) SendMessage(_ context.Context, body string, dedupID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SendCallCount++
	if m.SendError != nil {
		return m.SendError
	}

	if m.FIFO && dedupID != "" {
		for _, msg := range m.messages {
			if msg.dedupID == dedupID {
				return nil
			}
		}
	}

	m.nextID++
	m.messages = append(m.messages, mockQueueMessage{
		id:      fmt.Sprintf("msg-%04d", m.nextID),
		body:    body,
		dedupID: dedupID,
	})
	return nil
}

// ReceiveMessages returns up to max messages without removing them.
func (m *MockQueueClient) ReceiveMessages(_ context.Context, max int32, _ time.Duration) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ReceiveCallCount++
	if m.ReceiveError != nil {
		return nil, m.ReceiveError
	}

	n := int(max)
	if n > len(m.messages) {
		n = len(m.messages)
	}
	messages := make([]Message, 0, n)
	for _, msg := range m.messages[:n] {
		messages = append(messages, Message{
			MessageID:     msg.id,
			Body:          msg.body,
			ReceiptHandle: "receipt-" + msg.id,
		})
	}
	return messages, nil
}

// DeleteMessage removes a message by receipt handle.
func (m *MockQueueClient) DeleteMessage(_ context.Context, receiptHandle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.DeleteCallCount++
	if m.DeleteError != nil {
		return m.DeleteError
	}

	for i, msg := range m.messages {
		if "receipt-"+msg.id == receiptHandle {
			m.messages = append(m.messages[:i], m.messages[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("no message with receipt handle %q", receiptHandle)
}

// PurgeQueue removes all messages.
func (m *MockQueueClient) PurgeQueue(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PurgeCallCount++
	if m.PurgeError != nil {
		return m.PurgeError
	}
	m.messages = nil
	return nil
}

// MessageCount returns the number of messages currently in the queue.
func (m *MockQueueClient) MessageCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages)
}

// Bodies returns the bodies of all messages currently in the queue.
func (m *MockQueueClient) Bodies() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bodies := make([]string, 0, len(m.messages))
	for _, msg := range m.messages {
		bodies = append(bodies, msg.body)
	}
	return bodies
}

// PublishedNotification records a Publish call for testing.
type PublishedNotification struct {
	Subject string
	Body    string
}

// MockNotifierClient is a mock implementation of NotifierClient for
// testing.
type MockNotifierClient struct {
	mu sync.RWMutex

	// Published records every notification in order.
	Published []PublishedNotification

	// PublishError is returned from Publish when set.
	PublishError error

	// FailuresBeforeSuccess fails the first N Publish calls, then
	// succeeds. Used to exercise retry behavior.
	FailuresBeforeSuccess int

	// PublishCallCount tracks Publish calls including failed ones.
	PublishCallCount int
}

// NewMockNotifierClient creates a new MockNotifierClient.
func NewMockNotifierClient() *MockNotifierClient {
	return &MockNotifierClient{}
}

// Publish records the notification. A dead context fails the publish,
// mirroring the real SNS client.
func (m *MockNotifierClient) Publish(ctx context.Context, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PublishCallCount++
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	if m.PublishError != nil {
		return m.PublishError
	}
	if m.FailuresBeforeSuccess > 0 {
		m.FailuresBeforeSuccess--
		return fmt.Errorf("simulated publish failure")
	}

	m.Published = append(m.Published, PublishedNotification{Subject: subject, Body: body})
	return nil
}

var (
	_ Client             = (*MockClient)(nil)
	_ CostExplorerClient = (*MockCostExplorerClient)(nil)
	_ SavingsPlansClient = (*MockSavingsPlansClient)(nil)
	_ QueueClient        = (*MockQueueClient)(nil)
	_ NotifierClient     = (*MockNotifierClient)(nil)
)
