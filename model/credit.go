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

// Subscription tiers and the starter allowance each one grants when a
// credit account is first provisioned.
const (
	TierFree = "free"
	TierPlus = "plus"
	TierPro  = "pro"
)

// AllowanceForTier returns the monthly credit allowance for a subscription
// tier. Unknown tiers get the free allowance.
func AllowanceForTier(tier string) int64 {
	switch tier {
	case TierPlus:
		return 10
	case TierPro:
		return 25
	default:
		return 0
	}
}

// CreditAccount is the authoritative credit balance of one user. The balance
// is only ever mutated through ledger operations (reserve/restore); it must
// never go negative.
type CreditAccount struct {
	AccountID        string    `json:"account_id"`
	UserID           string    `json:"user_id"`
	Balance          int64     `json:"balance"`
	ConsumedThisMonth int64    `json:"consumed_this_month"`
	MonthlyAllowance int64     `json:"monthly_allowance"`
	SubscriptionTier string    `json:"subscription_tier"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Credit transaction types. Deductions and refunds correlate 1:1 with an
// enhancement task through TaskID.
const (
	TransactionDeduction = "deduction"
	TransactionRefund    = "refund"
)

// CreditTransaction is one append-only ledger entry. Rows are immutable once
// written.
type CreditTransaction struct {
	TransactionID string          `json:"transaction_id"`
	UserID        string          `json:"user_id"`
	Type          string          `json:"transaction_type"`
	Credits       int64           `json:"credits"`
	CostUSD       decimal.Decimal `json:"cost_usd"`
	Provider      string          `json:"provider"`
	TaskID        string          `json:"task_id"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
}

// RefundRecord is one row of the refund audit log, written exactly once per
// refunded task. PlatformLoss records the provider-side credits the platform
// absorbed; the provider already consumed them, so a user refund is a
// business loss.
type RefundRecord struct {
	RefundID        string    `json:"refund_id"`
	TaskID          string    `json:"task_id"`
	UserID          string    `json:"user_id"`
	CreditsRefunded int64     `json:"credits_refunded"`
	RefundReason    string    `json:"refund_reason"`
	PlatformLoss    int64     `json:"platform_loss"`
	PreviousBalance int64     `json:"previous_balance"`
	NewBalance      int64     `json:"new_balance"`
	CreatedAt       time.Time `json:"created_at"`
}
