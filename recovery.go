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
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aperturehq/aperture/config"
	"github.com/aperturehq/aperture/model"
)

// StaleTaskProcessor periodically fails tasks stuck in processing past the
// configured threshold. A provider that never calls back must not hold a
// user's credits forever.
type StaleTaskProcessor struct {
	aperture     *Aperture
	batchSize    int
	maxWorkers   int
	pollInterval time.Duration
	stopCh       chan struct{}
	wg           sync.WaitGroup
	running      bool
	mu           sync.Mutex
}

func NewStaleTaskProcessor(aperture *Aperture) *StaleTaskProcessor {
	pollInterval := 60 * time.Second
	cfg, err := config.Fetch()
	if err == nil && cfg.Queue.StalePollIntervalSec > 0 {
		pollInterval = time.Duration(cfg.Queue.StalePollIntervalSec) * time.Second
	}

	return &StaleTaskProcessor{
		aperture:     aperture,
		batchSize:    500,
		maxWorkers:   10,
		pollInterval: pollInterval,
		stopCh:       make(chan struct{}),
	}
}

func (p *StaleTaskProcessor) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()

	logrus.Info("Stale task processor started")
}

func (p *StaleTaskProcessor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	logrus.Info("Stale task processor stopped")
}

func (p *StaleTaskProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *StaleTaskProcessor) run(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Stale task processor context cancelled")
			return
		case <-p.stopCh:
			logrus.Info("Stale task processor stop signal received")
			return
		case <-ticker.C:
			threshold := 30 * time.Minute
			if cfg, err := config.Fetch(); err == nil {
				threshold = cfg.StaleTaskAge()
			}
			p.sweepWithThreshold(ctx, threshold)
		}
	}
}

// SweepStaleTasks triggers an immediate sweep of tasks stuck in processing
// using the provided threshold. This is exposed for the manual trigger API
// endpoint.
func (a *Aperture) SweepStaleTasks(ctx context.Context, threshold time.Duration) (int, error) {
	if threshold <= 0 {
		if cfg, err := config.Fetch(); err == nil {
			threshold = cfg.StaleTaskAge()
		}
	}
	if threshold < 2*time.Minute {
		threshold = 2 * time.Minute
	}

	processor := NewStaleTaskProcessor(a)
	return processor.sweepWithThreshold(ctx, threshold), nil
}

func (p *StaleTaskProcessor) sweepWithThreshold(ctx context.Context, threshold time.Duration) int {
	staleTasks, err := p.aperture.datasource.GetStaleProcessingTasks(ctx, time.Now().Add(-threshold), p.batchSize)
	if err != nil {
		logrus.Errorf("failed to get stale processing tasks: %v", err)
		return 0
	}

	if len(staleTasks) == 0 {
		return 0
	}

	logrus.Infof("Failing %d stale processing tasks with %d workers (threshold=%v)", len(staleTasks), p.maxWorkers, threshold)

	sem := make(chan struct{}, p.maxWorkers)
	var batchWg sync.WaitGroup

	for _, task := range staleTasks {
		sem <- struct{}{}
		batchWg.Add(1)
		go func(t *model.EnhancementTask) {
			defer batchWg.Done()
			defer func() { <-sem }()
			if err := p.processStaleTask(ctx, t); err != nil {
				logrus.Errorf("failed to process stale task %s: %v", t.TaskID, err)
			}
		}(task)
	}

	batchWg.Wait()
	return len(staleTasks)
}

func (p *StaleTaskProcessor) processStaleTask(ctx context.Context, task *model.EnhancementTask) error {
	transitioned, err := p.aperture.failAndRefund(ctx, task, model.ErrorTimeout,
		"no provider callback before timeout", "task timed out")
	if err != nil {
		return err
	}
	if transitioned {
		logrus.Infof("stale task %s failed and refunded", task.TaskID)
	}
	return nil
}
