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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeTask(delivery *Delivery, run func(ctx context.Context, d *Delivery) *DispatchResult) Task {
	return Task{Delivery: delivery, run: run}
}

func TestDefaultSchedulerIsSynchronous(t *testing.T) {
	expected := &DispatchResult{Status: DispatchCompleted, Invoked: 1}

	s := DefaultScheduler()
	res, err := s.Schedule(context.Background(), makeTask(&Delivery{}, func(ctx context.Context, d *Delivery) *DispatchResult {
		return expected
	}))

	require.NoError(t, err)
	assert.Same(t, expected, res)
}

func TestAsyncSchedulerReportsResults(t *testing.T) {
	results := make(chan *DispatchResult, 1)

	s := AsyncScheduler(WithResultCallback(func(ctx context.Context, task Task, res *DispatchResult) {
		results <- res
	}))

	res, err := s.Schedule(context.Background(), makeTask(&Delivery{}, func(ctx context.Context, d *Delivery) *DispatchResult {
		return &DispatchResult{Status: DispatchCompleted, Invoked: 2}
	}))
	require.NoError(t, err)
	assert.Nil(t, res, "async scheduling returns no result")

	select {
	case res := <-results:
		assert.Equal(t, 2, res.Invoked)
	case <-time.After(time.Second):
		t.Fatal("result callback was never invoked")
	}
}

func TestAsyncSchedulerDerivesContext(t *testing.T) {
	type ctxKey struct{}

	contexts := make(chan context.Context, 1)

	s := AsyncScheduler(WithContextDeriver(func(ctx context.Context) context.Context {
		return context.WithValue(context.Background(), ctxKey{}, "derived")
	}))

	reqCtx, cancel := context.WithCancel(context.Background())
	_, err := s.Schedule(reqCtx, makeTask(&Delivery{}, func(ctx context.Context, d *Delivery) *DispatchResult {
		contexts <- ctx
		return &DispatchResult{Status: DispatchCompleted}
	}))
	require.NoError(t, err)

	// the originating request completes before the task runs
	cancel()

	select {
	case ctx := <-contexts:
		assert.Equal(t, "derived", ctx.Value(ctxKey{}))
		assert.NoError(t, ctx.Err(), "task context must outlive the request context")
	case <-time.After(time.Second):
		t.Fatal("task was never executed")
	}
}

func TestQueueAsyncSchedulerCapacity(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	blocking := makeTask(&Delivery{}, func(ctx context.Context, d *Delivery) *DispatchResult {
		close(started)
		<-release
		return &DispatchResult{Status: DispatchCompleted}
	})
	noop := makeTask(&Delivery{}, func(ctx context.Context, d *Delivery) *DispatchResult {
		return &DispatchResult{Status: DispatchCompleted}
	})

	s := QueueAsyncScheduler(1, 1)

	ctx := context.Background()

	// occupy the only worker, then fill the queue
	_, err := s.Schedule(ctx, blocking)
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("worker never started the first task")
	}

	_, err = s.Schedule(ctx, noop)
	require.NoError(t, err)

	_, err = s.Schedule(ctx, noop)
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	close(release)
}
