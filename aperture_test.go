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
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/aperturehq/aperture/config"
	"github.com/aperturehq/aperture/database"
	"github.com/aperturehq/aperture/internal/cache"
	"github.com/aperturehq/aperture/model"
)

type mockGateway struct {
	providerTaskID string
	err            error
	submissions    int
}

func (m *mockGateway) Submit(_ context.Context, _ string, _ config.ProviderService, _ ProviderRequest) (string, error) {
	m.submissions++
	if m.err != nil {
		return "", m.err
	}
	return m.providerTaskID, nil
}

type mockAssetStore struct {
	durableURL string
	err        error
}

func (m *mockAssetStore) PersistResult(_ context.Context, _, sourceURL string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	if m.durableURL != "" {
		return m.durableURL, nil
	}
	return sourceURL, nil
}

var errAssetStorage = errors.New("bucket unreachable")

var taskRowColumns = []string{
	"task_id", "user_id", "input_image_url", "enhancement_type", "prompt",
	"strength", "provider", "provider_task_id", "status", "result_url",
	"error_kind", "error_message", "refunded", "credit_cost", "cost_usd",
	"created_at", "updated_at", "completed_at", "failed_at",
}

func taskRow(task *model.EnhancementTask) *sqlmock.Rows {
	return sqlmock.NewRows(taskRowColumns).AddRow(
		task.TaskID, task.UserID, task.InputImageURL, task.EnhancementType, task.Prompt,
		task.Strength, task.Provider, task.ProviderTaskID, task.Status, task.ResultURL,
		task.ErrorKind, task.ErrorMessage, task.Refunded, task.CreditCost, task.CostUSD.String(),
		task.CreatedAt, task.UpdatedAt, task.CompletedAt, task.FailedAt,
	)
}

func processingTask(taskID, userID, provider, providerTaskID string) *model.EnhancementTask {
	now := time.Now()
	return &model.EnhancementTask{
		TaskID:         taskID,
		UserID:         userID,
		InputImageURL:  "https://images.example.com/input.png",
		Prompt:         "restore and upscale",
		Provider:       provider,
		ProviderTaskID: providerTaskID,
		Status:         model.StatusProcessing,
		CreditCost:     1,
		CostUSD:        decimal.NewFromFloat(0.025),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// expectRefund registers the expectations for one full refund transaction.
func expectRefund(mock sqlmock.Sqlmock, userID string, amount, newBalance int64) {
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE enhancement_tasks SET refunded = TRUE").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("UPDATE credit_accounts SET balance = balance \\+").
		WithArgs(amount, userID).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(newBalance))
	mock.ExpectExec("INSERT INTO credit_transactions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO refund_audit_log").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

// expectAccount registers the account lookup a submission performs before
// reserving credits.
func expectAccount(mock sqlmock.Sqlmock, userID string, balance int64) {
	now := time.Now()
	mock.ExpectQuery("SELECT .* FROM credit_accounts WHERE user_id").
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows(accountColumns).
			AddRow("acct_1", userID, balance, int64(0), int64(10), model.TierPlus, now, now))
}

func newTestAperture(t *testing.T) (*Aperture, sqlmock.Sqlmock, *mockGateway, *mockAssetStore) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("an error '%s' occurred when starting miniredis", err)
	}
	t.Cleanup(mr.Close)

	config.MockConfig(&config.Configuration{
		Redis: config.RedisConfig{Dns: mr.Addr()},
		Provider: config.ProviderConfig{
			CallbackURL: "https://api.example.com/v1/webhooks",
			Default:     "nanobanana",
			Services: map[string]config.ProviderService{
				"nanobanana": {
					URL:             "https://provider.example.com/generate",
					CreditCost:      1,
					PlatformCredits: 4,
					CostUSD:         "0.025",
					TimeoutSeconds:  5,
				},
				"seedream": {
					URL:        "https://seedream.example.com/generate",
					CreditCost: 2,
					CostUSD:    "0.05",
				},
			},
		},
		Queue: config.QueueConfig{EventQueue: "aperture:events"},
	})

	// Register the event queue up front: asynq's Inspector reports "queue not
	// found" for a queue that has never held a task.
	if _, err := mr.SAdd("asynq:queues", "aperture:events"); err != nil {
		t.Fatalf("an error '%s' occurred when registering the event queue", err)
	}

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database Connection", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cnf, err := config.Fetch()
	if err != nil {
		t.Fatalf("an error '%s' was not expected fetching config", err)
	}

	gateway := &mockGateway{providerTaskID: "prov_abc123"}
	assets := &mockAssetStore{}

	a := &Aperture{
		datasource: &database.Datasource{Conn: db},
		redis:      client,
		queue:      NewQueue(cnf),
		gateway:    gateway,
		assets:     assets,
		cache:      cache.NewCacheFromClient(client),
	}
	return a, mock, gateway, assets
}
