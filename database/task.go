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
	"fmt"
	"time"

	"github.com/aperturehq/aperture/internal/apierror"
	"github.com/aperturehq/aperture/model"
)

const taskColumns = `task_id, user_id, input_image_url, COALESCE(enhancement_type, ''), COALESCE(prompt, ''),
	COALESCE(strength, 0), provider, COALESCE(provider_task_id, ''), status, COALESCE(result_url, ''),
	COALESCE(error_kind, ''), COALESCE(error_message, ''), refunded, credit_cost, cost_usd,
	created_at, updated_at, completed_at, failed_at`

func scanTask(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.EnhancementTask, error) {
	task := model.EnhancementTask{}
	var costUSD string
	var completedAt, failedAt sql.NullTime

	err := scanner.Scan(&task.TaskID, &task.UserID, &task.InputImageURL, &task.EnhancementType,
		&task.Prompt, &task.Strength, &task.Provider, &task.ProviderTaskID, &task.Status,
		&task.ResultURL, &task.ErrorKind, &task.ErrorMessage, &task.Refunded, &task.CreditCost,
		&costUSD, &task.CreatedAt, &task.UpdatedAt, &completedAt, &failedAt)
	if err != nil {
		return nil, err
	}

	task.CostUSD, err = decimalFromString(costUSD)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}
	if failedAt.Valid {
		task.FailedAt = &failedAt.Time
	}
	return &task, nil
}

// CreateTask inserts a new task in its initial processing state. Reservation
// of credits happens before this call; a task row always represents credits
// already held.
func (d Datasource) CreateTask(ctx context.Context, t *model.EnhancementTask) (*model.EnhancementTask, error) {
	if t.TaskID == "" {
		t.TaskID = model.GenerateUUIDWithSuffix("task")
	}
	t.Status = model.StatusProcessing
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt

	_, err := d.Conn.ExecContext(ctx,
		`INSERT INTO enhancement_tasks (task_id, user_id, input_image_url, enhancement_type, prompt, strength, provider, provider_task_id, status, refunded, credit_cost, cost_usd, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE, $10, $11, $12, $12)`,
		t.TaskID, t.UserID, t.InputImageURL, t.EnhancementType, t.Prompt, t.Strength,
		t.Provider, t.ProviderTaskID, t.Status, t.CreditCost, t.CostUSD.String(), t.CreatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create enhancement task", err)
	}
	return t, nil
}

// GetTaskByID retrieves a task by its internal id.
func (d Datasource) GetTaskByID(ctx context.Context, taskID string) (*model.EnhancementTask, error) {
	row := d.Conn.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM enhancement_tasks WHERE task_id = $1`, taskColumns), taskID)

	task, err := scanTask(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Task '%s' not found", taskID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve task", err)
	}
	return task, nil
}

// GetTaskByProviderID retrieves a task by the id the provider assigned at
// submission time. Callbacks identify tasks only by this id.
func (d Datasource) GetTaskByProviderID(ctx context.Context, provider, providerTaskID string) (*model.EnhancementTask, error) {
	row := d.Conn.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM enhancement_tasks WHERE provider = $1 AND provider_task_id = $2`, taskColumns),
		provider, providerTaskID)

	task, err := scanTask(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Task for provider '%s' id '%s' not found", provider, providerTaskID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve task", err)
	}
	return task, nil
}

// UpdateProviderTaskID records the provider's task id once the provider has
// accepted the submission.
func (d Datasource) UpdateProviderTaskID(ctx context.Context, taskID, providerTaskID string) error {
	result, err := d.Conn.ExecContext(ctx,
		`UPDATE enhancement_tasks SET provider_task_id = $1, updated_at = NOW() WHERE task_id = $2`,
		providerTaskID, taskID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update provider task id", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update provider task id", err)
	}
	if rows == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Task '%s' not found", taskID), nil)
	}
	return nil
}

// ResolveTaskSuccess transitions a processing task to completed. Returns
// false without error when the task is already terminal, which makes
// duplicate callbacks harmless.
func (d Datasource) ResolveTaskSuccess(ctx context.Context, taskID, resultURL string) (bool, error) {
	result, err := d.Conn.ExecContext(ctx,
		`UPDATE enhancement_tasks
		 SET status = $1, result_url = $2, completed_at = NOW(), updated_at = NOW()
		 WHERE task_id = $3 AND status = $4`,
		model.StatusCompleted, resultURL, taskID, model.StatusProcessing)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to complete task", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to complete task", err)
	}
	return rows > 0, nil
}

// ResolveTaskFailure transitions a processing task to failed with its error
// classification. Returns false without error when the task is already
// terminal.
func (d Datasource) ResolveTaskFailure(ctx context.Context, taskID, errorKind, errorMessage string) (bool, error) {
	result, err := d.Conn.ExecContext(ctx,
		`UPDATE enhancement_tasks
		 SET status = $1, error_kind = $2, error_message = $3, failed_at = NOW(), updated_at = NOW()
		 WHERE task_id = $4 AND status = $5`,
		model.StatusFailed, errorKind, errorMessage, taskID, model.StatusProcessing)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to fail task", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to fail task", err)
	}
	return rows > 0, nil
}

// GetStaleProcessingTasks finds tasks that have sat in processing past the
// given cutoff. The recovery sweep fails and refunds these.
func (d Datasource) GetStaleProcessingTasks(ctx context.Context, olderThan time.Time, limit int) ([]*model.EnhancementTask, error) {
	rows, err := d.Conn.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM enhancement_tasks
		 WHERE status = $1 AND created_at < $2
		 ORDER BY created_at ASC
		 LIMIT $3`, taskColumns),
		model.StatusProcessing, olderThan, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve stale tasks", err)
	}
	defer rows.Close()

	tasks := []*model.EnhancementTask{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan stale task", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating stale tasks", err)
	}
	return tasks, nil
}
