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
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/wacul/ptr"
	"go.opentelemetry.io/otel"

	"github.com/aperturehq/aperture/config"
	"github.com/aperturehq/aperture/internal/apierror"
	"github.com/aperturehq/aperture/internal/notification"
	"github.com/aperturehq/aperture/model"
)

var tracer = otel.Tracer("Enhancement lifecycle")

// terminal task statuses are immutable, so cached copies never go stale
const taskCacheTTL = 24 * time.Hour

func taskCacheKey(taskID string) string {
	return fmt.Sprintf("task:%s", taskID)
}

// EnhancementRequest is a user's submission before it becomes a task.
type EnhancementRequest struct {
	UserID          string  `json:"user_id"`
	InputImageURL   string  `json:"input_image_url"`
	EnhancementType string  `json:"enhancement_type"`
	Prompt          string  `json:"prompt"`
	Strength        float64 `json:"strength"`
	Provider        string  `json:"provider"`
}

// providerService resolves the provider name and billing profile for a
// request, falling back to the configured default provider.
func providerService(cnf *config.Configuration, name string) (string, config.ProviderService, error) {
	if name == "" {
		name = cnf.Provider.Default
	}
	service, ok := cnf.Provider.Services[name]
	if !ok {
		return "", config.ProviderService{}, apierror.NewAPIError(apierror.ErrBadRequest, fmt.Sprintf("Unknown provider '%s'", name), nil)
	}
	return name, service, nil
}

// SubmitEnhancement reserves the user's credits, records the task and
// dispatches it to the provider. Credits are reserved before the task row
// exists, so a visible task always represents credits already held. A
// synchronous provider rejection fails the task and refunds immediately.
func (a *Aperture) SubmitEnhancement(ctx context.Context, req *EnhancementRequest) (*model.EnhancementTask, error) {
	ctx, span := tracer.Start(ctx, "Submitting Enhancement")
	defer span.End()

	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	providerName, service, err := providerService(cnf, req.Provider)
	if err != nil {
		return nil, err
	}

	costUSD, err := decimal.NewFromString(service.CostUSD)
	if err != nil {
		costUSD = decimal.Zero
	}

	// First touch provisions a free tier account, so a brand new user fails
	// the reservation with insufficient credits rather than a missing account.
	if _, err := a.GetCreditAccount(ctx, req.UserID); err != nil {
		return nil, err
	}

	taskID := model.GenerateUUIDWithSuffix("task")

	deduction := model.CreditTransaction{
		TaskID:   taskID,
		Provider: providerName,
		CostUSD:  costUSD,
		Status:   model.StatusProcessing,
	}
	if err := a.datasource.ReserveCredits(ctx, req.UserID, service.CreditCost, &deduction); err != nil {
		return nil, err
	}

	task := &model.EnhancementTask{
		TaskID:          taskID,
		UserID:          req.UserID,
		InputImageURL:   req.InputImageURL,
		EnhancementType: req.EnhancementType,
		Prompt:          req.Prompt,
		Strength:        req.Strength,
		Provider:        providerName,
		CreditCost:      service.CreditCost,
		CostUSD:         costUSD,
	}
	task, err = a.datasource.CreateTask(ctx, task)
	if err != nil {
		// Credits are held with no task row to resolve them; an operator
		// has to reconcile from the deduction entry.
		notification.NotifyError(fmt.Errorf("task creation failed after credit reservation for user %s: %w", req.UserID, err))
		return nil, err
	}

	providerTaskID, err := a.gateway.Submit(ctx, providerName, service, ProviderRequest{
		TaskID:          task.TaskID,
		InputImageURL:   task.InputImageURL,
		EnhancementType: task.EnhancementType,
		Prompt:          task.Prompt,
		Strength:        task.Strength,
		CallbackURL:     fmt.Sprintf("%s/%s", cnf.Provider.CallbackURL, providerName),
	})
	if err != nil {
		logrus.Warnf("provider %s rejected task %s: %v", providerName, task.TaskID, err)
		if _, failErr := a.failAndRefund(ctx, task, model.ErrorProviderRejected, err.Error(), "provider rejected submission"); failErr != nil {
			return nil, failErr
		}
		return nil, err
	}

	if err := a.datasource.UpdateProviderTaskID(ctx, task.TaskID, providerTaskID); err != nil {
		return nil, err
	}
	task.ProviderTaskID = providerTaskID

	logrus.Infof("task %s submitted to %s as %s", task.TaskID, providerName, providerTaskID)
	return task, nil
}

// GetTask retrieves a task by id, serving terminal tasks from cache.
func (a *Aperture) GetTask(ctx context.Context, taskID string) (*model.EnhancementTask, error) {
	ctx, span := tracer.Start(ctx, "Getting Enhancement Task")
	defer span.End()

	if a.cache != nil {
		cached := model.EnhancementTask{}
		if err := a.cache.Get(ctx, taskCacheKey(taskID), &cached); err == nil && cached.TaskID != "" {
			return &cached, nil
		}
	}

	task, err := a.datasource.GetTaskByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.IsTerminal() {
		a.cacheTask(ctx, task)
	}
	return task, nil
}

// GetTaskStatus returns the task owned by the given user. Ownership is
// checked so one user cannot poll another's task.
func (a *Aperture) GetTaskStatus(ctx context.Context, taskID, userID string) (*model.EnhancementTask, error) {
	task, err := a.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.UserID != userID {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Task '%s' not found", taskID), nil)
	}
	return task, nil
}

func (a *Aperture) cacheTask(ctx context.Context, task *model.EnhancementTask) {
	if a.cache == nil {
		return
	}
	if err := a.cache.Set(ctx, taskCacheKey(task.TaskID), task, taskCacheTTL); err != nil {
		logrus.Warnf("failed to cache task %s: %v", task.TaskID, err)
	}
}

// failAndRefund moves a task to failed and refunds its credits. Returns
// false when the task was already terminal, in which case nothing changed.
func (a *Aperture) failAndRefund(ctx context.Context, task *model.EnhancementTask, errorKind, errorMessage, refundReason string) (bool, error) {
	transitioned, err := a.datasource.ResolveTaskFailure(ctx, task.TaskID, errorKind, errorMessage)
	if err != nil {
		return false, err
	}
	if !transitioned {
		logrus.Warnf("task %s already terminal, skipping failure for kind %s", task.TaskID, errorKind)
		return false, nil
	}

	task.Status = model.StatusFailed
	task.ErrorKind = errorKind
	task.ErrorMessage = errorMessage
	task.FailedAt = ptr.Time(time.Now())
	a.cacheTask(ctx, task)

	if err := a.RefundTask(ctx, task, refundReason); err != nil {
		return true, err
	}

	if err := a.SendLifecycleEvent(ctx, LifecycleEvent{
		Event:  EventTaskFailed,
		TaskID: task.TaskID,
		UserID: task.UserID,
		Payload: map[string]interface{}{
			"error_kind":    errorKind,
			"error_message": errorMessage,
		},
	}); err != nil {
		logrus.Warnf("failed to enqueue %s event for task %s: %v", EventTaskFailed, task.TaskID, err)
	}
	return true, nil
}
