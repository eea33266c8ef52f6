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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"

	"github.com/aperturehq/aperture/config"
)

func TestSendLifecycleEvent(t *testing.T) {
	a, _, _, _ := newTestAperture(t)
	ctx := context.Background()

	cnf, err := config.Fetch()
	assert.NoError(t, err)
	cnf.Notification.Webhook.Url = "https://hooks.example.com/aperture"
	config.ConfigStore.Store(cnf)

	event := LifecycleEvent{
		Event:  EventTaskCompleted,
		TaskID: "task_1",
		UserID: "user_1",
		Payload: map[string]interface{}{
			"result_url": "https://cdn.example.com/results/task_1.png",
		},
	}
	assert.NoError(t, a.SendLifecycleEvent(ctx, event))

	tasks, err := a.queue.Inspector.ListPendingTasks(cnf.Queue.EventQueue)
	assert.NoError(t, err)
	assert.Len(t, tasks, 1)

	var queued LifecycleEvent
	assert.NoError(t, json.Unmarshal(tasks[0].Payload, &queued))
	assert.Equal(t, EventTaskCompleted, queued.Event)
	assert.Equal(t, "task_1", queued.TaskID)
}

func TestSendLifecycleEventDeduplicated(t *testing.T) {
	a, _, _, _ := newTestAperture(t)
	ctx := context.Background()

	cnf, err := config.Fetch()
	assert.NoError(t, err)
	cnf.Notification.Webhook.Url = "https://hooks.example.com/aperture"
	config.ConfigStore.Store(cnf)

	event := LifecycleEvent{Event: EventTaskFailed, TaskID: "task_1", UserID: "user_1"}
	assert.NoError(t, a.SendLifecycleEvent(ctx, event))

	// The task id pins the event, so the duplicate is refused by the queue.
	err = a.SendLifecycleEvent(ctx, event)
	assert.ErrorIs(t, err, asynq.ErrTaskIDConflict)

	tasks, err := a.queue.Inspector.ListPendingTasks(cnf.Queue.EventQueue)
	assert.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestSendLifecycleEventNoEndpointConfigured(t *testing.T) {
	a, _, _, _ := newTestAperture(t)

	err := a.SendLifecycleEvent(context.Background(), LifecycleEvent{
		Event:  EventCreditRefunded,
		TaskID: "task_1",
		UserID: "user_1",
	})
	assert.NoError(t, err)

	cnf, err := config.Fetch()
	assert.NoError(t, err)
	tasks, err := a.queue.Inspector.ListPendingTasks(cnf.Queue.EventQueue)
	assert.NoError(t, err)
	assert.Len(t, tasks, 0)
}

func TestProcessLifecycleEvent(t *testing.T) {
	_, _, _, _ = newTestAperture(t)

	var received LifecycleEvent
	var gotHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Aperture-Signature")
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cnf, err := config.Fetch()
	assert.NoError(t, err)
	cnf.Notification.Webhook.Url = server.URL
	cnf.Notification.Webhook.Headers = map[string]string{"X-Aperture-Signature": "sig-123"}
	config.ConfigStore.Store(cnf)

	payload, err := json.Marshal(LifecycleEvent{
		Event:  EventTaskCompleted,
		TaskID: "task_1",
		UserID: "user_1",
	})
	assert.NoError(t, err)

	task := asynq.NewTask(cnf.Queue.EventQueue, payload)
	assert.NoError(t, ProcessLifecycleEvent(context.Background(), task))
	assert.Equal(t, EventTaskCompleted, received.Event)
	assert.Equal(t, "sig-123", gotHeader)
}
