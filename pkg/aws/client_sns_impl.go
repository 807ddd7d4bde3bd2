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

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// RealNotifierClient implements NotifierClient against SNS.
type RealNotifierClient struct {
	client   *sns.Client
	topicARN string
}

// NewRealNotifierClient creates an SNS-backed notifier publishing to the
// given topic using the ambient credentials in cfg.
func NewRealNotifierClient(cfg aws.Config, topicARN string, endpointURL string) *RealNotifierClient {
	opts := []func(*sns.Options){}
	if endpointURL != "" {
		opts = append(opts, func(o *sns.Options) {
			o.BaseEndpoint = &endpointURL
		})
	}
	return &RealNotifierClient{
		client:   sns.NewFromConfig(cfg, opts...),
		topicARN: topicARN,
	}
}

// Publish sends a notification to the topic.
func (c *RealNotifierClient) Publish(ctx context.Context, subject, body string) error {
	if _, err := c.client.Publish(ctx, &sns.PublishInput{
		TopicArn: &c.topicARN,
		Subject:  &subject,
		Message:  &body,
	}); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// NoopNotifierClient discards notifications. Used when no topic is
// configured so callers never branch on notification availability.
type NoopNotifierClient struct{}

// Publish discards the notification.
func (c *NoopNotifierClient) Publish(_ context.Context, _, _ string) error {
	return nil
}

var (
	_ NotifierClient = (*RealNotifierClient)(nil)
	_ NotifierClient = (*NoopNotifierClient)(nil)
)
