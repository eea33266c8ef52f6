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

	"github.com/sirupsen/logrus"
	"github.com/wacul/ptr"

	"github.com/aperturehq/aperture/internal/apierror"
	"github.com/aperturehq/aperture/model"
)

// ProviderCallback is the payload a provider posts when a task finishes.
// Code 200 carries result URLs; any other code classifies a failure.
type ProviderCallback struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		TaskID string `json:"taskId"`
		Info   struct {
			ResultImageURL  string   `json:"resultImageUrl"`
			ResultImageURLs []string `json:"result_image_urls"`
		} `json:"info"`
	} `json:"data"`
}

func (c *ProviderCallback) resultURL() string {
	if c.Data.Info.ResultImageURL != "" {
		return c.Data.Info.ResultImageURL
	}
	if len(c.Data.Info.ResultImageURLs) > 0 {
		return c.Data.Info.ResultImageURLs[0]
	}
	return ""
}

// ResolveProviderCallback applies a provider's terminal verdict to the
// matching task. Unknown task ids and repeated callbacks are logged and
// swallowed; the webhook surface always acknowledges, so returning an error
// here only makes the provider retry a callback that cannot succeed.
func (a *Aperture) ResolveProviderCallback(ctx context.Context, provider string, callback *ProviderCallback) error {
	ctx, span := tracer.Start(ctx, "Resolving Provider Callback")
	defer span.End()

	if callback.Data.TaskID == "" {
		logrus.Warnf("callback from %s without task id, dropping", provider)
		return nil
	}

	task, err := a.datasource.GetTaskByProviderID(ctx, provider, callback.Data.TaskID)
	if err != nil {
		apiErr, ok := err.(apierror.APIError)
		if !ok || apiErr.Code != apierror.ErrNotFound {
			logrus.Warnf("callback from %s for task %s failed: %v", provider, callback.Data.TaskID, err)
			return nil
		}
		// Some providers echo our task id back instead of their own.
		task, err = a.datasource.GetTaskByID(ctx, callback.Data.TaskID)
		if err != nil {
			logrus.Warnf("callback from %s for unknown task %s: %v", provider, callback.Data.TaskID, err)
			return nil
		}
	}

	if task.IsTerminal() {
		logrus.Warnf("duplicate callback from %s for terminal task %s, dropping", provider, task.TaskID)
		return nil
	}

	if callback.Code == 200 {
		return a.resolveSuccess(ctx, task, callback)
	}
	return a.resolveFailure(ctx, task, callback)
}

func (a *Aperture) resolveSuccess(ctx context.Context, task *model.EnhancementTask, callback *ProviderCallback) error {
	resultURL := callback.resultURL()
	if resultURL == "" {
		// A success without a result is a provider bug; classify it as a
		// generation failure so the user gets refunded.
		callback.Code = 501
		callback.Msg = "success callback carried no result url"
		return a.resolveFailure(ctx, task, callback)
	}

	durableURL, err := a.assets.PersistResult(ctx, task.TaskID, resultURL)
	if err != nil {
		// The enhancement itself succeeded. Keep the ephemeral provider URL
		// rather than failing a task the user already paid for.
		logrus.Warnf("failed to persist result for task %s, keeping provider url: %v", task.TaskID, err)
		durableURL = resultURL
	}

	transitioned, err := a.datasource.ResolveTaskSuccess(ctx, task.TaskID, durableURL)
	if err != nil {
		return err
	}
	if !transitioned {
		logrus.Warnf("task %s already terminal, dropping success callback", task.TaskID)
		return nil
	}

	task.Status = model.StatusCompleted
	task.ResultURL = durableURL
	task.CompletedAt = ptr.Time(time.Now())
	a.cacheTask(ctx, task)

	if err := a.SendLifecycleEvent(ctx, LifecycleEvent{
		Event:  EventTaskCompleted,
		TaskID: task.TaskID,
		UserID: task.UserID,
		Payload: map[string]interface{}{
			"result_url": durableURL,
		},
	}); err != nil {
		logrus.Warnf("failed to enqueue %s event for task %s: %v", EventTaskCompleted, task.TaskID, err)
	}

	logrus.Infof("task %s completed", task.TaskID)
	return nil
}

func (a *Aperture) resolveFailure(ctx context.Context, task *model.EnhancementTask, callback *ProviderCallback) error {
	errorKind := model.ErrorKindForCode(callback.Code)
	errorMessage := callback.Msg
	if errorMessage == "" {
		errorMessage = fmt.Sprintf("provider returned code %d", callback.Code)
	}

	_, err := a.failAndRefund(ctx, task, errorKind, errorMessage, fmt.Sprintf("provider failure: %s", errorKind))
	return err
}
