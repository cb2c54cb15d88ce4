// Copyright 2025 Bluenote Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ghapp

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"
	"github.com/rs/zerolog"
)

const (
	MetricsKeyQueueLength   = "github.event.queued"
	MetricsKeyActiveWorkers = "github.event.workers"
	MetricsKeyEventAge      = "github.event.age"
	MetricsKeyDroppedEvents = "github.event.dropped"
)

const (
	// values from metrics.NewTimer, which match those used by UNIX load averages
	histogramReservoirSize = 1028
	histogramAlpha         = 0.015
)

// ErrCapacityExceeded is returned by Schedule when a bounded scheduler
// cannot accept new deliveries.
var ErrCapacityExceeded = errors.New("scheduler: capacity exceeded")

// Task is one verified delivery waiting for its handler phase. Schedulers
// may run tasks for independent deliveries concurrently; handlers within
// one task always run sequentially.
type Task struct {
	Delivery *Delivery

	run func(ctx context.Context, d *Delivery) *DispatchResult
}

// Execute runs the task's handler phase and returns the dispatch result.
func (t Task) Execute(ctx context.Context) *DispatchResult {
	return t.run(ctx, t.Delivery)
}

// ResultCallback is called by asynchronous schedulers when a task
// completes, since the dispatch result is no longer observable through
// Schedule's return value.
type ResultCallback func(ctx context.Context, t Task, res *DispatchResult)

// DefaultResultCallback logs any handler errors in the result.
func DefaultResultCallback(ctx context.Context, t Task, res *DispatchResult) {
	logger := zerolog.Ctx(ctx)
	for _, herr := range res.HandlerErrors {
		logger.Error().Err(herr).Msg("Unexpected error handling webhook")
	}
}

// ContextDeriver creates a new independent context from a request's
// context. The new context must be based on context.Background(), not the
// input, so it outlives the HTTP request.
type ContextDeriver func(context.Context) context.Context

// DefaultContextDeriver copies the logger from the request's context to a
// new context.
func DefaultContextDeriver(ctx context.Context) context.Context {
	return zerolog.Ctx(ctx).WithContext(context.Background())
}

// Scheduler is a strategy for executing the handler phase of verified
// deliveries.
//
// Schedule may execute the task synchronously and return its result, or
// queue it and return a nil result immediately. It returns
// ErrCapacityExceeded if it cannot accept the task at the time of the
// call. Asynchronous schedulers must derive a fresh context so execution
// is not cut short when the originating request completes.
type Scheduler interface {
	Schedule(ctx context.Context, t Task) (*DispatchResult, error)
}

// SchedulerOption configures properties of a scheduler.
type SchedulerOption func(*schedulerCore)

// WithResultCallback sets the completion callback for an asynchronous
// scheduler. If not set, the scheduler uses DefaultResultCallback.
func WithResultCallback(onResult ResultCallback) SchedulerOption {
	return func(s *schedulerCore) {
		if onResult != nil {
			s.onResult = onResult
		}
	}
}

// WithContextDeriver sets the context deriver for an asynchronous
// scheduler. If not set, the scheduler uses DefaultContextDeriver.
func WithContextDeriver(deriver ContextDeriver) SchedulerOption {
	return func(s *schedulerCore) {
		if deriver != nil {
			s.deriver = deriver
		}
	}
}

// WithSchedulingMetrics enables metrics reporting for schedulers.
func WithSchedulingMetrics(r metrics.Registry) SchedulerOption {
	return func(s *schedulerCore) {
		metrics.NewRegisteredFunctionalGauge(MetricsKeyQueueLength, r, func() int64 {
			return int64(len(s.queue))
		})
		metrics.NewRegisteredFunctionalGauge(MetricsKeyActiveWorkers, r, func() int64 {
			return atomic.LoadInt64(&s.activeWorkers)
		})

		sample := metrics.NewExpDecaySample(histogramReservoirSize, histogramAlpha)
		s.taskAge = metrics.NewRegisteredHistogram(MetricsKeyEventAge, r, sample)
		s.dropped = metrics.NewRegisteredCounter(MetricsKeyDroppedEvents, r)
	}
}

type queuedTask struct {
	ctx context.Context
	t   time.Time
	d   Task
}

// core functionality and options for (async) schedulers
type schedulerCore struct {
	onResult ResultCallback
	deriver  ContextDeriver

	activeWorkers int64
	queue         chan queuedTask

	taskAge metrics.Histogram
	dropped metrics.Counter
}

func (s *schedulerCore) execute(ctx context.Context, t Task) {
	atomic.AddInt64(&s.activeWorkers, 1)
	defer atomic.AddInt64(&s.activeWorkers, -1)

	res := t.Execute(ctx)
	if s.onResult != nil {
		s.onResult(ctx, t, res)
	}
}

func (s *schedulerCore) derive(ctx context.Context) context.Context {
	if s.deriver == nil {
		return ctx
	}
	return s.deriver(ctx)
}

// DefaultScheduler returns a scheduler that executes tasks in the
// goroutine of the caller and returns the dispatch result.
func DefaultScheduler() Scheduler {
	return &defaultScheduler{}
}

type defaultScheduler struct{}

func (s *defaultScheduler) Schedule(ctx context.Context, t Task) (*DispatchResult, error) {
	return t.Execute(ctx), nil
}

// AsyncScheduler returns a scheduler that executes tasks in new
// goroutines. Goroutines are not reused and there is no limit on the
// number created.
func AsyncScheduler(opts ...SchedulerOption) Scheduler {
	s := &asyncScheduler{
		schedulerCore: schedulerCore{
			deriver:  DefaultContextDeriver,
			onResult: DefaultResultCallback,
		},
	}
	for _, opt := range opts {
		opt(&s.schedulerCore)
	}
	return s
}

type asyncScheduler struct {
	schedulerCore
}

func (s *asyncScheduler) Schedule(ctx context.Context, t Task) (*DispatchResult, error) {
	go s.execute(s.derive(ctx), t)
	return nil, nil
}

// QueueAsyncScheduler returns a scheduler that executes tasks in a fixed
// number of worker goroutines. If no workers are available, tasks queue
// until the queue is full.
func QueueAsyncScheduler(queueSize int, workers int, opts ...SchedulerOption) Scheduler {
	if queueSize < 0 {
		panic("QueueAsyncScheduler: queue size must be non-negative")
	}
	if workers < 1 {
		panic("QueueAsyncScheduler: worker count must be positive")
	}

	s := &queueScheduler{
		schedulerCore: schedulerCore{
			deriver:  DefaultContextDeriver,
			onResult: DefaultResultCallback,
			queue:    make(chan queuedTask, queueSize),
		},
	}
	for _, opt := range opts {
		opt(&s.schedulerCore)
	}

	for i := 0; i < workers; i++ {
		go func() {
			for qt := range s.queue {
				if s.taskAge != nil {
					s.taskAge.Update(time.Since(qt.t).Milliseconds())
				}
				s.execute(qt.ctx, qt.d)
			}
		}()
	}

	return s
}

type queueScheduler struct {
	schedulerCore
}

func (s *queueScheduler) Schedule(ctx context.Context, t Task) (*DispatchResult, error) {
	select {
	case s.queue <- queuedTask{ctx: s.derive(ctx), t: time.Now(), d: t}:
	default:
		if s.dropped != nil {
			s.dropped.Inc(1)
		}
		return nil, ErrCapacityExceeded
	}
	return nil, nil
}
