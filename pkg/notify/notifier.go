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

// Package notify publishes human-facing run summaries. Notification
// failures are logged and never mask the run's own outcome.
package notify

import (
	"context"

	"github.com/avast/retry-go/v4"
	"github.com/go-logr/logr"

	"github.com/nextdoor/procura/pkg/aws"
)

// Notifier publishes notifications with bounded retries.
type Notifier struct {
	Client aws.NotifierClient
	Log    logr.Logger
}

// Notify publishes subject and body, retrying transient failures. A
// notification that still fails after retries is logged and dropped;
// notifications are best-effort by contract.
func (n *Notifier) Notify(ctx context.Context, subject, body string) {
	err := retry.Do(
		func() error {
			return n.Client.Publish(ctx, subject, body)
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		n.Log.Error(err, "failed to publish notification", "subject", subject)
		return
	}
	n.Log.V(1).Info("published notification", "subject", subject)
}
