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

	"github.com/go-logr/logr"
)

// CredentialMonitor periodically validates access to the billing account
// and caches the result. The readiness probe reads the cached status, so
// probe traffic never fans out into AssumeRole calls.
type CredentialMonitor struct {
	validator Validator
	account   AccountConfig
	interval  time.Duration
	log       logr.Logger

	mu        sync.RWMutex
	lastErr   error
	lastCheck time.Time
	checked   bool
}

// NewCredentialMonitor creates a monitor that validates the given account
// every interval once Start is called.
func NewCredentialMonitor(validator Validator, account AccountConfig, interval time.Duration, log logr.Logger) *CredentialMonitor {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &CredentialMonitor{
		validator: validator,
		account:   account,
		interval:  interval,
		log:       log,
	}
}

// Start runs the check loop until ctx is canceled. The first check runs
// immediately so readiness does not wait a full interval.
func (m *CredentialMonitor) Start(ctx context.Context) {
	m.check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *CredentialMonitor) check(ctx context.Context) {
	err := m.validator.ValidateAccountAccess(ctx, m.account)

	m.mu.Lock()
	m.lastErr = err
	m.lastCheck = time.Now()
	m.checked = true
	m.mu.Unlock()

	if err != nil {
		m.log.Error(err, "credential check failed", "accountId", m.account.AccountID)
	} else {
		m.log.V(1).Info("credential check succeeded", "accountId", m.account.AccountID)
	}
}

// Ready returns nil when the most recent credential check succeeded. It
// returns an error before the first check completes and when the last
// check failed.
func (m *CredentialMonitor) Ready() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.checked {
		return fmt.Errorf("credential check has not completed yet")
	}
	if m.lastErr != nil {
		return fmt.Errorf("last credential check at %s failed: %w",
			m.lastCheck.Format(time.RFC3339), m.lastErr)
	}
	return nil
}
