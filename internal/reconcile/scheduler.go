/*
Copyright 2025 The Kubernetes Authors.

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

// Package reconcile is the C7 Reconciler: a fixed-interval scheduler
// (Scheduler, adapted from this codebase's event-driven reconciler
// minus its file-watch path, since this provider has nothing
// filesystem-based to watch) driving the domain reconcile tick
// (Handler) that closes the gap between desired and actual VM counts.
package reconcile

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/metrics"
)

// Handler runs one full reconcile tick across every configured group.
type Handler interface {
	Reconcile(ctx context.Context) error
}

// SchedulerConfig configures the fixed-interval ticker.
type SchedulerConfig struct {
	Interval time.Duration
	Logger   logr.Logger
	Metrics  *metrics.Metrics
}

// Scheduler runs Handler.Reconcile on a fixed interval, skipping a
// tick entirely if the previous one has not yet finished rather than
// letting ticks overlap, per the reconciler's no-overlap contract.
//
//nolint:containedctx
type Scheduler struct {
	config  SchedulerConfig
	handler Handler
	logger  logr.Logger

	ticker  *time.Ticker
	running atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler builds a Scheduler. The caller owns cancel and should
// derive ctx from it, so that Stop() can also be triggered externally
// (e.g. the Cleanup scaling operation, §4.8).
func NewScheduler(ctx context.Context, cancel context.CancelFunc, config SchedulerConfig, handler Handler) *Scheduler {
	return &Scheduler{
		config:  config,
		handler: handler,
		logger:  config.Logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start runs an immediate first tick, then one every config.Interval.
func (s *Scheduler) Start() {
	s.ticker = time.NewTicker(s.config.Interval)

	s.wg.Add(1)

	go s.loop()
}

// Stop cancels the scheduler's context and waits for any in-flight
// tick to finish before returning.
func (s *Scheduler) Stop() {
	s.cancel()

	if s.ticker != nil {
		s.ticker.Stop()
	}

	s.wg.Wait()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	s.tick()

	for {
		select {
		case <-s.ticker.C:
			s.tick()
		case <-s.ctx.Done():
			s.logger.V(1).Info("reconcile scheduler shutting down")

			return
		}
	}
}

func (s *Scheduler) tick() {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.V(1).Info("skipping reconcile tick, previous tick still in flight")

		return
	}

	defer s.running.Store(false)

	start := time.Now()

	result := "ok"

	if err := s.handler.Reconcile(s.ctx); err != nil {
		s.logger.Error(err, "reconcile tick failed")

		result = "error"
	}

	duration := time.Since(start)

	s.config.Metrics.ObserveReconcileTick(duration, result)
	s.logger.V(2).Info("reconcile tick completed", "duration", duration)
}
