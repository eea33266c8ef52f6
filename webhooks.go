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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/hibiken/asynq"

	"github.com/aperturehq/aperture/config"
)

// Lifecycle event names fanned out to the configured webhook endpoint.
const (
	EventTaskCompleted  = "task.completed"
	EventTaskFailed     = "task.failed"
	EventCreditRefunded = "credit.refunded"
)

// LifecycleEvent is the notification emitted when a task reaches a terminal
// state or credits are refunded.
type LifecycleEvent struct {
	Event   string      `json:"event"`
	TaskID  string      `json:"task_id"`
	UserID  string      `json:"user_id"`
	Payload interface{} `json:"data"`
}

// processHTTP delivers a lifecycle event via HTTP POST request.
//
// Parameters:
// - data LifecycleEvent: The event to deliver.
//
// Returns:
// - error: An error if the request or processing fails.
func processHTTP(data LifecycleEvent) error {
	conf, err := config.Fetch()
	if err != nil {
		log.Println("Error fetching config:", err)
		return err
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Println("Error marshaling data:", err)
		return err
	}
	payload := bytes.NewBuffer(jsonData)

	req, err := http.NewRequest("POST", conf.Notification.Webhook.Url, payload)
	if err != nil {
		log.Println("Error creating request:", err)
		return err
	}

	for key, value := range conf.Notification.Webhook.Headers {
		req.Header.Set(key, value)
	}

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		log.Println("Error sending request:", err)
		return err
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			logrus.Error(err)
		}
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("Request failed with status code: %d\n", resp.StatusCode)
		return nil
	}

	log.Println("Lifecycle event delivered:", data.Event)
	return nil
}

// SendLifecycleEvent enqueues a lifecycle event for delivery. Events are
// dropped silently when no webhook endpoint is configured.
//
// Parameters:
// - ctx context.Context: The context for the operation.
// - event LifecycleEvent: The event to enqueue.
//
// Returns:
// - error: An error if the event could not be enqueued.
func (a *Aperture) SendLifecycleEvent(ctx context.Context, event LifecycleEvent) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}

	if conf.Notification.Webhook.Url == "" {
		return nil
	}
	return a.queue.Enqueue(ctx, event)
}

// ProcessLifecycleEvent processes a lifecycle event task from the queue.
//
// Parameters:
// - _ context.Context: The context for the operation.
// - task *asynq.Task: The task containing the event data.
//
// Returns:
// - error: An error if the delivery fails.
func ProcessLifecycleEvent(_ context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}

	if conf.Notification.Webhook.Url == "" {
		return nil
	}
	var event LifecycleEvent
	if err := json.Unmarshal(task.Payload(), &event); err != nil {
		log.Printf("Error unmarshaling task payload: %v", err)
		return err
	}
	log.Printf("Processing lifecycle event: %s\n", event.Event)
	return processHTTP(event)
}
