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
	"log"

	"github.com/hibiken/asynq"

	"github.com/aperturehq/aperture/config"
	redis_db "github.com/aperturehq/aperture/internal/redis-db"
)

// Queue wraps the asynq client used to hand lifecycle events to the worker
// process.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// NewQueue initializes a new Queue instance with the provided configuration.
//
// Parameters:
// - conf *config.Configuration: The configuration for the queue.
//
// Returns:
// - *Queue: A pointer to the newly created Queue instance.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// Enqueue puts a lifecycle event onto the event queue. The task id is the
// event's task id plus event name, so a duplicate resolution can never fan
// out the same notification twice.
func (q *Queue) Enqueue(ctx context.Context, event LifecycleEvent) error {
	ctx, span := tracer.Start(ctx, "Adding Lifecycle Event To Redis Queue")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	taskOptions := []asynq.Option{
		asynq.TaskID(event.TaskID + ":" + event.Event),
		asynq.Queue(cfg.Queue.EventQueue),
	}
	task := asynq.NewTask(cfg.Queue.EventQueue, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task, asynq.MaxRetry(5))
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued event: %s for %s", event.Event, event.TaskID)
	return nil
}
