/*
Copyright 2026 Aperture Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Task lifecycle states. A task starts in PROCESSING and moves exactly once
// to COMPLETED or FAILED; terminal states never transition again.
const (
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// Error classifications recorded on failed tasks. These mirror the provider
// callback codes plus the failure modes the platform itself can produce.
const (
	ErrorContentPolicy    = "content_policy_violation"
	ErrorInternal         = "internal_error"
	ErrorGenerationFailed = "generation_failed"
	ErrorUnknown          = "unknown_error"
	ErrorProviderRejected = "provider_rejected"
	ErrorTimeout          = "timeout"
)

// EnhancementTask tracks one AI enhancement request from submission to its
// terminal outcome. The task keeps its own identifier; the external
// provider's task id is stored alongside because callbacks echo only the
// provider's id.
type EnhancementTask struct {
	TaskID          string          `json:"task_id"`
	UserID          string          `json:"user_id"`
	InputImageURL   string          `json:"input_image_url"`
	EnhancementType string          `json:"enhancement_type"`
	Prompt          string          `json:"prompt"`
	Strength        float64         `json:"strength"`
	Provider        string          `json:"provider"`
	ProviderTaskID  string          `json:"provider_task_id"`
	Status          string          `json:"status"`
	ResultURL       string          `json:"result_url,omitempty"`
	ErrorKind       string          `json:"error_kind,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	Refunded        bool            `json:"refunded"`
	CreditCost      int64           `json:"credit_cost"`
	CostUSD         decimal.Decimal `json:"cost_usd"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	FailedAt        *time.Time      `json:"failed_at,omitempty"`
}

// IsTerminal reports whether the task has reached a final state.
func (t *EnhancementTask) IsTerminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// ErrorKindForCode maps a provider callback code to an error classification.
func ErrorKindForCode(code int) string {
	switch code {
	case 400:
		return ErrorContentPolicy
	case 500:
		return ErrorInternal
	case 501:
		return ErrorGenerationFailed
	default:
		return ErrorUnknown
	}
}
