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
	"fmt"
	"net/http"
)

// HealthChecker serves a named readiness check over HTTP. The check
// function is expected to read cached state, such as
// CredentialMonitor.Ready, so probe traffic never fans out into AWS
// calls.
//
// It is designed for readiness probes, not liveness probes: temporary
// AWS API failures should keep the process out of rotation, not get it
// killed.
type HealthChecker struct {
	name  string
	check func() error
}

// NewHealthChecker creates a health checker that serves the given check
// function.
func NewHealthChecker(name string, check func() error) *HealthChecker {
	return &HealthChecker{
		name:  name,
		check: check,
	}
}

// Name returns the name of this health checker for logging purposes.
func (h *HealthChecker) Name() string {
	return h.name
}

// ServeHTTP answers 200 when the check passes and 503 with the check
// error otherwise.
func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	if err := h.check(); err != nil {
		http.Error(w, fmt.Sprintf("%s: %v", h.name, err), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}
