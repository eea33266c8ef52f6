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
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/aperturehq/aperture/internal/apierror"
	"github.com/aperturehq/aperture/model"
)

func newTestDatasource(t *testing.T) (Datasource, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database Connection", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return Datasource{Conn: db}, mock
}

func failedTask() *model.EnhancementTask {
	return &model.EnhancementTask{
		TaskID:     "task_1",
		UserID:     "user_1",
		Provider:   "nanobanana",
		Status:     model.StatusFailed,
		CreditCost: 1,
		CostUSD:    decimal.NewFromFloat(0.025),
	}
}

func TestProcessRefund(t *testing.T) {
	d, mock := newTestDatasource(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE enhancement_tasks SET refunded = TRUE").
		WithArgs("task_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("UPDATE credit_accounts SET balance = balance \\+").
		WithArgs(int64(1), "user_1").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(8)))
	mock.ExpectExec("INSERT INTO credit_transactions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO refund_audit_log").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	record, err := d.ProcessRefund(ctx, failedTask(), 1, 4, "provider failure: internal_error")
	assert.NoError(t, err)
	assert.Equal(t, int64(1), record.CreditsRefunded)
	assert.Equal(t, int64(7), record.PreviousBalance)
	assert.Equal(t, int64(8), record.NewBalance)
	assert.Equal(t, int64(4), record.PlatformLoss)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessRefundAlreadyRefunded(t *testing.T) {
	d, mock := newTestDatasource(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE enhancement_tasks SET refunded = TRUE").
		WithArgs("task_1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := d.ProcessRefund(ctx, failedTask(), 1, 4, "task timed out")
	assert.ErrorIs(t, err, ErrAlreadyRefunded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessRefundAuditFailureRollsBack(t *testing.T) {
	d, mock := newTestDatasource(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE enhancement_tasks SET refunded = TRUE").
		WithArgs("task_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("UPDATE credit_accounts SET balance = balance \\+").
		WithArgs(int64(1), "user_1").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(8)))
	mock.ExpectExec("INSERT INTO credit_transactions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO refund_audit_log").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := d.ProcessRefund(ctx, failedTask(), 1, 4, "task timed out")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessRefundMissingAccount(t *testing.T) {
	d, mock := newTestDatasource(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE enhancement_tasks SET refunded = TRUE").
		WithArgs("task_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("UPDATE credit_accounts SET balance = balance \\+").
		WithArgs(int64(1), "user_1").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}))
	mock.ExpectRollback()

	_, err := d.ProcessRefund(ctx, failedTask(), 1, 4, "task timed out")
	assert.Error(t, err)

	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrAccountNotFound, apiErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
