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
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aperturehq/aperture/config"
	"github.com/aperturehq/aperture/database"
	redlock "github.com/aperturehq/aperture/internal/lock"
	"github.com/aperturehq/aperture/internal/notification"
	"github.com/aperturehq/aperture/model"
)

// RefundTask restores the credits a failed task reserved. Every refund path
// funnels through here and then through the datasource's single refund
// transaction, so concurrent callers for the same task collapse to one
// balance change and one audit row. A repeated call is a silent no-op.
func (a *Aperture) RefundTask(ctx context.Context, task *model.EnhancementTask, reason string) error {
	ctx, span := tracer.Start(ctx, "Refunding Task Credits")
	defer span.End()

	locker := redlock.NewLocker(a.redis, fmt.Sprintf("refund:%s", task.TaskID), model.GenerateUUIDWithSuffix("loc"))
	if err := locker.WaitLock(ctx, 30*time.Second, 10*time.Second); err != nil {
		logrus.Warnf("could not lock refund for task %s: %v", task.TaskID, err)
		// The database transaction is still safe without the lock.
	} else {
		defer func(locker *redlock.Locker, ctx context.Context) {
			if err := locker.Unlock(ctx); err != nil {
				logrus.Error("failed to release refund lock", err)
			}
		}(locker, ctx)
	}

	platformLoss := a.platformLoss(task)

	record, err := a.datasource.ProcessRefund(ctx, task, task.CreditCost, platformLoss, reason)
	if err != nil {
		if errors.Is(err, database.ErrAlreadyRefunded) {
			logrus.Warnf("task %s already refunded, skipping", task.TaskID)
			return nil
		}
		// Credits stay lost until this is retried or resolved by hand.
		notification.NotifyError(fmt.Errorf("refund failed for task %s (user %s, %d credits): %w",
			task.TaskID, task.UserID, task.CreditCost, err))
		return err
	}

	task.Refunded = true
	logrus.Infof("refunded %d credits to user %s for task %s (balance %d -> %d)",
		record.CreditsRefunded, record.UserID, record.TaskID, record.PreviousBalance, record.NewBalance)

	if err := a.SendLifecycleEvent(ctx, LifecycleEvent{
		Event:  EventCreditRefunded,
		TaskID: task.TaskID,
		UserID: task.UserID,
		Payload: map[string]interface{}{
			"credits_refunded": record.CreditsRefunded,
			"refund_reason":    record.RefundReason,
			"new_balance":      record.NewBalance,
		},
	}); err != nil {
		logrus.Warnf("failed to enqueue %s event for task %s: %v", EventCreditRefunded, task.TaskID, err)
	}
	return nil
}

// platformLoss computes the provider-side credits the platform absorbed for
// a refunded task.
func (a *Aperture) platformLoss(task *model.EnhancementTask) int64 {
	cnf, err := config.Fetch()
	if err != nil {
		return 0
	}
	service, ok := cnf.Provider.Services[task.Provider]
	if !ok {
		return 0
	}
	return service.PlatformCredits
}

// GetRefundRecords lists the refund audit log for operators.
func (a *Aperture) GetRefundRecords(ctx context.Context, limit, offset int) ([]model.RefundRecord, error) {
	ctx, span := tracer.Start(ctx, "Getting Refund Records")
	defer span.End()

	return a.datasource.GetRefundRecords(ctx, limit, offset)
}

// GetRefundRecordByTaskID retrieves the refund audit row of one task.
func (a *Aperture) GetRefundRecordByTaskID(ctx context.Context, taskID string) (*model.RefundRecord, error) {
	ctx, span := tracer.Start(ctx, "Getting Refund Record")
	defer span.End()

	return a.datasource.GetRefundRecordByTaskID(ctx, taskID)
}
