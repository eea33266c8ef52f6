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
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/aperturehq/aperture/internal/apierror"
	"github.com/aperturehq/aperture/model"
)

func TestReserveCredits(t *testing.T) {
	d, mock := newTestDatasource(t)
	ctx := context.Background()

	userID := gofakeit.UUID()
	taskID := gofakeit.UUID()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE credit_accounts").
		WithArgs(int64(2), userID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO credit_transactions").
		WithArgs(sqlmock.AnyArg(), userID, model.TransactionDeduction, int64(2), "0.05",
			"seedream", taskID, model.StatusProcessing, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	txn := model.CreditTransaction{
		TaskID:   taskID,
		Provider: "seedream",
		CostUSD:  decimal.NewFromFloat(0.05),
		Status:   model.StatusProcessing,
	}
	err := d.ReserveCredits(ctx, userID, 2, &txn)
	assert.NoError(t, err)
	assert.NotEmpty(t, txn.TransactionID)
	assert.Equal(t, model.TransactionDeduction, txn.Type)
	assert.Equal(t, int64(2), txn.Credits)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveCreditsInsufficient(t *testing.T) {
	d, mock := newTestDatasource(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE credit_accounts").
		WithArgs(int64(2), "user_1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("user_1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	txn := model.CreditTransaction{}
	err := d.ReserveCredits(ctx, "user_1", 2, &txn)
	assert.Error(t, err)

	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrInsufficientCredits, apiErr.Code)

	// No ledger entry was written for the failed reservation.
	assert.Empty(t, txn.TransactionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveCreditsMissingAccount(t *testing.T) {
	d, mock := newTestDatasource(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE credit_accounts").
		WithArgs(int64(1), "user_missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("user_missing").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	err := d.ReserveCredits(ctx, "user_missing", 1, &model.CreditTransaction{})
	assert.Error(t, err)

	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrAccountNotFound, apiErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTaskPreservesPresetID(t *testing.T) {
	d, mock := newTestDatasource(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO enhancement_tasks").
		WillReturnResult(sqlmock.NewResult(0, 1))

	task, err := d.CreateTask(ctx, &model.EnhancementTask{
		TaskID:        "task_preset",
		UserID:        "user_1",
		InputImageURL: "https://images.example.com/input.png",
		Provider:      "nanobanana",
		CreditCost:    1,
		CostUSD:       decimal.NewFromFloat(0.025),
	})
	assert.NoError(t, err)

	// The ledger entry written during reservation references this id, so it
	// must survive the insert.
	assert.Equal(t, "task_preset", task.TaskID)
	assert.Equal(t, model.StatusProcessing, task.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveTaskSuccessAlreadyTerminal(t *testing.T) {
	d, mock := newTestDatasource(t)
	ctx := context.Background()

	mock.ExpectExec("UPDATE enhancement_tasks").
		WithArgs(model.StatusCompleted, "https://cdn.example.com/results/task_1.png",
			"task_1", model.StatusProcessing).
		WillReturnResult(sqlmock.NewResult(0, 0))

	transitioned, err := d.ResolveTaskSuccess(ctx, "task_1", "https://cdn.example.com/results/task_1.png")
	assert.NoError(t, err)
	assert.False(t, transitioned)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveTaskFailure(t *testing.T) {
	d, mock := newTestDatasource(t)
	ctx := context.Background()

	mock.ExpectExec("UPDATE enhancement_tasks").
		WithArgs(model.StatusFailed, model.ErrorTimeout, "no provider callback before timeout",
			"task_1", model.StatusProcessing).
		WillReturnResult(sqlmock.NewResult(0, 1))

	transitioned, err := d.ResolveTaskFailure(ctx, "task_1", model.ErrorTimeout, "no provider callback before timeout")
	assert.NoError(t, err)
	assert.True(t, transitioned)
	assert.NoError(t, mock.ExpectationsWereMet())
}
