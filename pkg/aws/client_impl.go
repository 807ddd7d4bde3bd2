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
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// RealClient is a production implementation of the Client interface that
// makes real calls to AWS APIs using the AWS SDK v2.
//
// This implementation handles:
//   - Credential management using the AWS SDK default credential chain
//   - STS AssumeRole operations for cross-account billing access
//   - Caching of per-account sub-clients to avoid repeated AssumeRole calls
//
// For testing, use MockClient instead.
type RealClient struct {
	config      ClientConfig
	awsCfg      aws.Config
	stsClient   *sts.Client
	ceClients   map[string]*RealCostExplorerClient // Cached per-account Cost Explorer clients
	spClients   map[string]*RealSavingsPlansClient // Cached per-account Savings Plans clients
	queueClient *RealQueueClient                   // Shared queue client (ambient identity)
	notifier    NotifierClient                     // Shared notification client (ambient identity)
	endpointURL string                             // Optional endpoint URL (for LocalStack testing)
	mu          sync.Mutex
}

// NewRealClient creates a new RealClient with the specified configuration.
// The client uses the AWS SDK default credential chain for authentication.
func NewRealClient(ctx context.Context, cfg ClientConfig) (*RealClient, error) {
	return NewRealClientWithEndpoint(ctx, cfg, "")
}

// NewRealClientWithEndpoint creates a RealClient that routes every API call
// through endpointURL. For LocalStack testing, set endpointURL to
// "http://localhost:4566".
func NewRealClientWithEndpoint(ctx context.Context, cfg ClientConfig, endpointURL string) (*RealClient, error) {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}

	// Load AWS configuration using the default credential chain:
	// 1. Environment variables (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY)
	// 2. Shared credentials file (~/.aws/credentials)
	// 3. IAM role (if running on EC2 or ECS)
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.DefaultRegion),
		awsconfig.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	stsOpts := []func(*sts.Options){}
	if endpointURL != "" {
		stsOpts = append(stsOpts, func(o *sts.Options) {
			o.BaseEndpoint = &endpointURL
		})
	}

	return &RealClient{
		config:      cfg,
		awsCfg:      awsCfg,
		stsClient:   sts.NewFromConfig(awsCfg, stsOpts...),
		ceClients:   make(map[string]*RealCostExplorerClient),
		spClients:   make(map[string]*RealSavingsPlansClient),
		endpointURL: endpointURL,
	}, nil
}

// CostExplorer returns a CostExplorerClient for the specified account.
// If accountConfig.AssumeRoleARN is set, it will assume that role using STS.
// The client is cached per-account to avoid repeated AssumeRole calls.
func (c *RealClient) CostExplorer(ctx context.Context, accountConfig AccountConfig) (CostExplorerClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cacheKey := accountConfig.AccountID + ":" + accountConfig.Region
	if client, ok := c.ceClients[cacheKey]; ok {
		return client, nil
	}

	creds, err := c.getCredentials(ctx, accountConfig)
	if err != nil {
		return nil, err
	}

	client := NewRealCostExplorerClient(creds, c.endpointURL)
	c.ceClients[cacheKey] = client
	return client, nil
}

// SavingsPlans returns a SavingsPlansClient for the specified account.
// If accountConfig.AssumeRoleARN is set, it will assume that role using STS.
// The client is cached per-account to avoid repeated AssumeRole calls.
func (c *RealClient) SavingsPlans(ctx context.Context, accountConfig AccountConfig) (SavingsPlansClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cacheKey := accountConfig.AccountID + ":" + accountConfig.Region
	if client, ok := c.spClients[cacheKey]; ok {
		return client, nil
	}

	creds, err := c.getCredentials(ctx, accountConfig)
	if err != nil {
		return nil, err
	}

	region := accountConfig.Region
	if region == "" {
		region = c.config.DefaultRegion
	}
	client := NewRealSavingsPlansClient(region, creds, c.endpointURL)
	c.spClients[cacheKey] = client
	return client, nil
}

// Queue returns the intent queue client. The queue lives in the local
// account, so the ambient identity is always used.
func (c *RealClient) Queue(_ context.Context) (QueueClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.config.QueueURL == "" {
		return nil, fmt.Errorf("no queue URL configured")
	}
	if c.queueClient == nil {
		c.queueClient = NewRealQueueClient(c.awsCfg, c.config.QueueURL, c.endpointURL)
	}
	return c.queueClient, nil
}

// Notifier returns the notification client. When no topic is configured a
// no-op client is returned so callers never need to branch.
func (c *RealClient) Notifier(_ context.Context) (NotifierClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.notifier == nil {
		if c.config.TopicARN == "" {
			c.notifier = &NoopNotifierClient{}
		} else {
			c.notifier = NewRealNotifierClient(c.awsCfg, c.config.TopicARN, c.endpointURL)
		}
	}
	return c.notifier, nil
}

// getCredentials returns credentials for the specified account.
// If AssumeRoleARN is set, it performs an STS AssumeRole operation and
// returns static credentials for the assumed role. Otherwise it returns
// the default credential chain provider unchanged.
func (c *RealClient) getCredentials(ctx context.Context, accountConfig AccountConfig) (aws.CredentialsProvider, error) {
	if accountConfig.AssumeRoleARN == "" {
		return c.awsCfg.Credentials, nil
	}

	sessionName := accountConfig.SessionName
	if sessionName == "" {
		sessionName = "procura-" + accountConfig.AccountID
	}

	result, err := c.stsClient.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         &accountConfig.AssumeRoleARN,
		RoleSessionName: &sessionName,
	})
	if err != nil {
		return nil, &AssumeRoleError{RoleARN: accountConfig.AssumeRoleARN, Err: err}
	}

	return credentials.StaticCredentialsProvider{
		Value: aws.Credentials{
			AccessKeyID:     *result.Credentials.AccessKeyId,
			SecretAccessKey: *result.Credentials.SecretAccessKey,
			SessionToken:    *result.Credentials.SessionToken,
		},
	}, nil
}
