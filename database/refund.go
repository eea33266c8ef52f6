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
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aperturehq/aperture/internal/apierror"
	"github.com/aperturehq/aperture/model"
)

// ErrAlreadyRefunded signals that the task's refund flag was already set.
// Callers treat it as a successful no-op.
var ErrAlreadyRefunded = errors.New("task already refunded")

// ProcessRefund restores a task's credits inside one database transaction.
// The refunded flag flips first with a guard on its previous value; when the
// flag was already set the transaction rolls back and ErrAlreadyRefunded is
// returned, so a task can never be refunded twice no matter how many callers
// race. Any failure after the flag flip also rolls back, leaving the flag
// clear for a retry.
func (d Datasource) ProcessRefund(ctx context.Context, task *model.EnhancementTask, amount, platformLoss int64, reason string) (*model.RefundRecord, error) {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin refund transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx,
		`UPDATE enhancement_tasks SET refunded = TRUE, updated_at = NOW()
		 WHERE task_id = $1 AND refunded = FALSE`,
		task.TaskID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark task refunded", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark task refunded", err)
	}
	if rows == 0 {
		return nil, ErrAlreadyRefunded
	}

	var newBalance int64
	err = tx.QueryRowContext(ctx,
		`UPDATE credit_accounts SET balance = balance + $1, updated_at = NOW()
		 WHERE user_id = $2
		 RETURNING balance`,
		amount, task.UserID).Scan(&newBalance)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrAccountNotFound, fmt.Sprintf("Credit account for user '%s' not found", task.UserID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to restore credits", err)
	}

	record := &model.RefundRecord{
		RefundID:        model.GenerateUUIDWithSuffix("ref"),
		TaskID:          task.TaskID,
		UserID:          task.UserID,
		CreditsRefunded: amount,
		RefundReason:    reason,
		PlatformLoss:    platformLoss,
		PreviousBalance: newBalance - amount,
		NewBalance:      newBalance,
		CreatedAt:       time.Now(),
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO credit_transactions (transaction_id, user_id, transaction_type, credits, cost_usd, provider, task_id, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		model.GenerateUUIDWithSuffix("txn"), task.UserID, model.TransactionRefund, amount,
		task.CostUSD.String(), task.Provider, task.TaskID, reason, record.CreatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record refund entry", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO refund_audit_log (refund_id, task_id, user_id, credits_refunded, refund_reason, platform_loss, previous_balance, new_balance, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		record.RefundID, record.TaskID, record.UserID, record.CreditsRefunded, record.RefundReason,
		record.PlatformLoss, record.PreviousBalance, record.NewBalance, record.CreatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to write refund audit row", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit refund", err)
	}
	return record, nil
}

// GetRefundRecords lists the refund audit log, newest first.
func (d Datasource) GetRefundRecords(ctx context.Context, limit, offset int) ([]model.RefundRecord, error) {
	rows, err := d.Conn.QueryContext(ctx,
		`SELECT refund_id, task_id, user_id, credits_refunded, COALESCE(refund_reason, ''), platform_loss, previous_balance, new_balance, created_at
		 FROM refund_audit_log
		 ORDER BY created_at DESC
		 LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve refund records", err)
	}
	defer rows.Close()

	records := []model.RefundRecord{}
	for rows.Next() {
		record := model.RefundRecord{}
		err = rows.Scan(&record.RefundID, &record.TaskID, &record.UserID, &record.CreditsRefunded,
			&record.RefundReason, &record.PlatformLoss, &record.PreviousBalance, &record.NewBalance, &record.CreatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan refund record", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating refund records", err)
	}
	return records, nil
}

// GetRefundRecordByTaskID retrieves the audit row of a refunded task.
func (d Datasource) GetRefundRecordByTaskID(ctx context.Context, taskID string) (*model.RefundRecord, error) {
	row := d.Conn.QueryRowContext(ctx,
		`SELECT refund_id, task_id, user_id, credits_refunded, COALESCE(refund_reason, ''), platform_loss, previous_balance, new_balance, created_at
		 FROM refund_audit_log WHERE task_id = $1`, taskID)

	record := model.RefundRecord{}
	err := row.Scan(&record.RefundID, &record.TaskID, &record.UserID, &record.CreditsRefunded,
		&record.RefundReason, &record.PlatformLoss, &record.PreviousBalance, &record.NewBalance, &record.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("No refund recorded for task '%s'", taskID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve refund record", err)
	}
	return &record, nil
}
