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

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.elastic.co/apm/module/apmlogrus/v2"

	"github.com/aperturehq/aperture"
	"github.com/aperturehq/aperture/config"
	redis_db "github.com/aperturehq/aperture/internal/redis-db"
)

func init() {
	logrus.AddHook(&apmlogrus.Hook{})
}

func initializeQueues() map[string]int {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return nil
	}

	queues := make(map[string]int)
	queues[cfg.Queue.EventQueue] = 3
	return queues
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		asynq.Config{
			Concurrency: 1,
			Queues:      queues,
		},
	), nil
}

func initializeTaskHandlers(mux *asynq.ServeMux) {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return
	}

	mux.HandleFunc(cfg.Queue.EventQueue, aperture.ProcessLifecycleEvent)
}

// workerCommands defines the "workers" command to start worker processes.
// The workers deliver lifecycle events and run the stale task sweep that
// fails and refunds tasks whose provider never called back.
func workerCommands(a *apertureInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start aperture workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			phClient, shutdown, err := initializeObservability(ctx, conf)
			if err != nil {
				log.Fatal(err)
			}
			if shutdown != nil {
				defer func() {
					if err := shutdown(ctx); err != nil {
						log.Printf("Error during shutdown: %v", err)
					}
				}()
			}
			if phClient != nil {
				defer phClient.Close()
			}

			queues := initializeQueues()

			srv, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(mux)

			// Stale task sweep runs alongside the event workers.
			staleProcessor := aperture.NewStaleTaskProcessor(a.aperture)
			staleProcessor.Start(ctx)
			defer staleProcessor.Stop()

			// Start asynqmon server for health checks and monitoring
			redisOption, _ := redis_db.ParseRedisURL(conf.Redis.Dns)
			h := asynqmon.New(asynqmon.Options{
				RootPath: "/monitoring",
				RedisConnOpt: asynq.RedisClientOpt{
					Addr:      redisOption.Addr,
					Password:  redisOption.Password,
					DB:        redisOption.DB,
					TLSConfig: redisOption.TLSConfig,
				},
			})

			go func() {
				monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
				log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
				if err := http.ListenAndServe(monitoringAddr, h); err != nil {
					log.Fatalf("could not start asynqmon server: %v", err)
				}
			}()

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
