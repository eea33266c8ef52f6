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

package database

import (
	"context"
	"time"

	"github.com/aperturehq/aperture/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	credit // Credit account and ledger operations
	task   // Enhancement task operations
	refund // Refund chokepoint and audit operations
}

// credit defines methods for the credit ledger.
type credit interface {
	CreateAccount(ctx context.Context, account model.CreditAccount) (model.CreditAccount, error)              // Provisions a credit account
	GetAccountByUserID(ctx context.Context, userID string) (*model.CreditAccount, error)                      // Retrieves an account by owning user
	ReserveCredits(ctx context.Context, userID string, amount int64, txn *model.CreditTransaction) error      // Atomically debits a balance and appends the deduction entry
	GetCreditTransactions(ctx context.Context, userID string, limit, offset int) ([]model.CreditTransaction, error) // Lists ledger entries for a user
}

// task defines methods for the enhancement task store.
type task interface {
	CreateTask(ctx context.Context, t *model.EnhancementTask) (*model.EnhancementTask, error)               // Inserts a task in its initial processing state
	GetTaskByID(ctx context.Context, taskID string) (*model.EnhancementTask, error)                        // Retrieves a task by internal id
	GetTaskByProviderID(ctx context.Context, provider, providerTaskID string) (*model.EnhancementTask, error) // Retrieves a task by the provider's task id
	UpdateProviderTaskID(ctx context.Context, taskID, providerTaskID string) error                         // Records the provider's id after dispatch
	ResolveTaskSuccess(ctx context.Context, taskID, resultURL string) (bool, error)                        // Transitions processing -> completed; false if already terminal
	ResolveTaskFailure(ctx context.Context, taskID, errorKind, errorMessage string) (bool, error)          // Transitions processing -> failed; false if already terminal
	GetStaleProcessingTasks(ctx context.Context, olderThan time.Time, limit int) ([]*model.EnhancementTask, error) // Finds tasks stuck in processing
}

// refund defines methods for the refund engine's single authoritative chokepoint.
type refund interface {
	ProcessRefund(ctx context.Context, task *model.EnhancementTask, amount, platformLoss int64, reason string) (*model.RefundRecord, error) // Atomic check-and-set refund
	GetRefundRecords(ctx context.Context, limit, offset int) ([]model.RefundRecord, error)                                                 // Lists the refund audit log
	GetRefundRecordByTaskID(ctx context.Context, taskID string) (*model.RefundRecord, error)                                               // Retrieves the audit row for one task
}
