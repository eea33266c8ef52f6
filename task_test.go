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

package aperture

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/aperturehq/aperture/internal/apierror"
	"github.com/aperturehq/aperture/model"
)

func TestSubmitEnhancement(t *testing.T) {
	a, mock, gateway, _ := newTestAperture(t)
	ctx := context.Background()

	expectAccount(mock, "user_1", 10)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE credit_accounts").
		WithArgs(int64(1), "user_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO credit_transactions").
		WithArgs(sqlmock.AnyArg(), "user_1", model.TransactionDeduction, int64(1), "0.025",
			"nanobanana", sqlmock.AnyArg(), model.StatusProcessing, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec("INSERT INTO enhancement_tasks").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE enhancement_tasks SET provider_task_id").
		WithArgs("prov_abc123", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	task, err := a.SubmitEnhancement(ctx, &EnhancementRequest{
		UserID:        "user_1",
		InputImageURL: "https://images.example.com/input.png",
		Prompt:        "restore and upscale",
	})
	assert.NoError(t, err)
	assert.NotEmpty(t, task.TaskID)
	assert.Equal(t, model.StatusProcessing, task.Status)
	assert.Equal(t, "nanobanana", task.Provider)
	assert.Equal(t, "prov_abc123", task.ProviderTaskID)
	assert.Equal(t, int64(1), task.CreditCost)
	assert.Equal(t, 1, gateway.submissions)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitEnhancementExplicitProvider(t *testing.T) {
	a, mock, gateway, _ := newTestAperture(t)
	ctx := context.Background()

	expectAccount(mock, "user_1", 10)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE credit_accounts").
		WithArgs(int64(2), "user_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO credit_transactions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec("INSERT INTO enhancement_tasks").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE enhancement_tasks SET provider_task_id").
		WillReturnResult(sqlmock.NewResult(0, 1))

	task, err := a.SubmitEnhancement(ctx, &EnhancementRequest{
		UserID:        "user_1",
		InputImageURL: "https://images.example.com/input.png",
		Provider:      "seedream",
	})
	assert.NoError(t, err)
	assert.Equal(t, "seedream", task.Provider)
	assert.Equal(t, int64(2), task.CreditCost)
	assert.Equal(t, 1, gateway.submissions)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitEnhancementUnknownProvider(t *testing.T) {
	a, mock, gateway, _ := newTestAperture(t)

	_, err := a.SubmitEnhancement(context.Background(), &EnhancementRequest{
		UserID:        "user_1",
		InputImageURL: "https://images.example.com/input.png",
		Provider:      "unknown-model",
	})
	assert.Error(t, err)

	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrBadRequest, apiErr.Code)
	assert.Equal(t, 0, gateway.submissions)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitEnhancementInsufficientCredits(t *testing.T) {
	a, mock, gateway, _ := newTestAperture(t)
	ctx := context.Background()

	expectAccount(mock, "user_1", 0)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE credit_accounts").
		WithArgs(int64(1), "user_1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("user_1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := a.SubmitEnhancement(ctx, &EnhancementRequest{
		UserID:        "user_1",
		InputImageURL: "https://images.example.com/input.png",
	})
	assert.Error(t, err)

	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrInsufficientCredits, apiErr.Code)

	// No task row and no provider submission when the reservation fails.
	assert.Equal(t, 0, gateway.submissions)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitEnhancementProvisionsFirstTimeUser(t *testing.T) {
	a, mock, gateway, _ := newTestAperture(t)
	ctx := context.Background()

	// A first submission provisions a free tier account, then fails the
	// reservation on its zero balance rather than reporting a missing account.
	mock.ExpectQuery("SELECT .* FROM credit_accounts WHERE user_id").
		WithArgs("user_new").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO credit_accounts").
		WithArgs(sqlmock.AnyArg(), "user_new", int64(0), int64(0), int64(0),
			model.TierFree, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE credit_accounts").
		WithArgs(int64(1), "user_new").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("user_new").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := a.SubmitEnhancement(ctx, &EnhancementRequest{
		UserID:        "user_new",
		InputImageURL: "https://images.example.com/input.png",
	})
	assert.Error(t, err)

	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrInsufficientCredits, apiErr.Code)
	assert.Equal(t, 0, gateway.submissions)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitEnhancementProviderRejectionRefunds(t *testing.T) {
	a, mock, gateway, _ := newTestAperture(t)
	ctx := context.Background()

	gateway.err = errors.New("quota exceeded")

	expectAccount(mock, "user_1", 10)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE credit_accounts").
		WithArgs(int64(1), "user_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO credit_transactions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec("INSERT INTO enhancement_tasks").
		WillReturnResult(sqlmock.NewResult(0, 1))

	// Synchronous rejection fails the task and refunds in one flow.
	mock.ExpectExec("UPDATE enhancement_tasks").
		WithArgs(model.StatusFailed, model.ErrorProviderRejected, "quota exceeded",
			sqlmock.AnyArg(), model.StatusProcessing).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectRefund(mock, "user_1", 1, 10)

	_, err := a.SubmitEnhancement(ctx, &EnhancementRequest{
		UserID:        "user_1",
		InputImageURL: "https://images.example.com/input.png",
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTaskCachesTerminalTasks(t *testing.T) {
	a, mock, _, _ := newTestAperture(t)
	ctx := context.Background()

	task := processingTask("task_1", "user_1", "nanobanana", "prov_abc123")
	task.Status = model.StatusCompleted
	task.ResultURL = "https://cdn.example.com/results/task_1.png"

	// Only one database read is expected; the second call hits the cache.
	mock.ExpectQuery("SELECT .* FROM enhancement_tasks WHERE task_id").
		WithArgs("task_1").
		WillReturnRows(taskRow(task))

	first, err := a.GetTask(ctx, "task_1")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, first.Status)

	second, err := a.GetTask(ctx, "task_1")
	assert.NoError(t, err)
	assert.Equal(t, first.TaskID, second.TaskID)
	assert.Equal(t, first.ResultURL, second.ResultURL)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTaskProcessingNotCached(t *testing.T) {
	a, mock, _, _ := newTestAperture(t)
	ctx := context.Background()

	task := processingTask("task_2", "user_1", "nanobanana", "prov_abc123")

	mock.ExpectQuery("SELECT .* FROM enhancement_tasks WHERE task_id").
		WithArgs("task_2").
		WillReturnRows(taskRow(task))
	mock.ExpectQuery("SELECT .* FROM enhancement_tasks WHERE task_id").
		WithArgs("task_2").
		WillReturnRows(taskRow(task))

	_, err := a.GetTask(ctx, "task_2")
	assert.NoError(t, err)

	// Processing tasks can still change, so every poll reads the database.
	_, err = a.GetTask(ctx, "task_2")
	assert.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTaskStatusOwnership(t *testing.T) {
	a, mock, _, _ := newTestAperture(t)
	ctx := context.Background()

	task := processingTask("task_3", "user_1", "nanobanana", "prov_abc123")

	mock.ExpectQuery("SELECT .* FROM enhancement_tasks WHERE task_id").
		WithArgs("task_3").
		WillReturnRows(taskRow(task))

	_, err := a.GetTaskStatus(ctx, "task_3", "user_2")
	assert.Error(t, err)

	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrNotFound, apiErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
