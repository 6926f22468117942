// Copyright 2025 Tom Barlow
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

package worker_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/loomwork/substrate/internal/backend/memory"
	"github.com/loomwork/substrate/internal/queue"
	"github.com/loomwork/substrate/internal/workflow"
	"github.com/loomwork/substrate/internal/worker"
)

// passthroughResilience invokes the wrapped call directly, with no rate
// limiting, breaking, or timeout; these tests exercise the worker pool's
// claim/execute/ack loop, not the resilience layer.
type passthroughResilience struct{}

func (passthroughResilience) Invoke(_ context.Context, _ string, call func(context.Context) (any, error)) (any, error) {
	return call(context.Background())
}

type recordingModules struct {
	fn func(ctx context.Context, inputs map[string]any, rc *workflow.RunContext) (any, error)
}

func (m recordingModules) Invoke(ctx context.Context, _ string, inputs map[string]any, rc *workflow.RunContext) (any, error) {
	return m.fn(ctx, inputs, rc)
}

func newSleepyWorkflow(id, userID string) *workflow.Workflow {
	return &workflow.Workflow{
		ID:     id,
		UserID: userID,
		Status: workflow.StatusActive,
		Config: workflow.Config{
			Steps: []workflow.Step{
				{ID: "s1", Module: "test.sleep"},
			},
		},
	}
}

func TestPool_ExecutesEnqueuedRunAndPersistsResult(t *testing.T) {
	be := memory.New()
	q := queue.NewMemoryQueue()

	wf := newSleepyWorkflow("wf1", "user1")
	require.NoError(t, be.PutWorkflow(context.Background(), wf))

	modules := recordingModules{fn: func(_ context.Context, _ map[string]any, _ *workflow.RunContext) (any, error) {
		return "done", nil
	}}
	executor := workflow.NewExecutor(modules, passthroughResilience{}, nil)

	pool := worker.New(q, be, nil, executor, worker.Config{Concurrency: 2}, nil)

	runID := uuid.NewString()
	require.NoError(t, q.Enqueue(context.Background(), &queue.Item{
		ID: runID, WorkflowID: wf.ID, RunID: runID, TriggeredBy: "manual",
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	require.Eventually(t, func() bool {
		run, err := be.GetRun(context.Background(), runID)
		return err == nil && run.Status == workflow.RunSuccess
	}, 2*time.Second, 10*time.Millisecond)

	pool.Stop(5 * time.Second)
}

// TestPool_SerializesRunsPerWorkflow exercises scenario S5: three runs of
// the same workflow enqueued simultaneously must execute one at a time,
// in FIFO order, even with many free worker slots.
func TestPool_SerializesRunsPerWorkflow(t *testing.T) {
	be := memory.New()
	q := queue.NewMemoryQueue()

	wf := newSleepyWorkflow("wf1", "user1")
	require.NoError(t, be.PutWorkflow(context.Background(), wf))

	var mu sync.Mutex
	var order []string
	concurrent := 0
	maxConcurrent := 0

	modules := recordingModules{fn: func(_ context.Context, inputs map[string]any, rc *workflow.RunContext) (any, error) {
		mu.Lock()
		concurrent++
		if concurrent > maxConcurrent {
			maxConcurrent = concurrent
		}
		mu.Unlock()

		time.Sleep(50 * time.Millisecond)

		mu.Lock()
		concurrent--
		order = append(order, rc.RunID())
		mu.Unlock()
		return nil, nil
	}}
	executor := workflow.NewExecutor(modules, passthroughResilience{}, nil)

	pool := worker.New(q, be, nil, executor, worker.Config{Concurrency: 8}, nil)

	runIDs := []string{uuid.NewString(), uuid.NewString(), uuid.NewString()}
	for _, id := range runIDs {
		require.NoError(t, q.Enqueue(context.Background(), &queue.Item{
			ID: id, WorkflowID: wf.ID, RunID: id, TriggeredBy: "manual",
		}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	}, 3*time.Second, 10*time.Millisecond)

	pool.Stop(5 * time.Second)

	require.Equal(t, 1, maxConcurrent, "same-workflow runs must never execute concurrently")
	require.Equal(t, runIDs, order, "same-workflow runs must execute in FIFO enqueue order")
}

func TestPool_DropsItemWhenWorkflowMissing(t *testing.T) {
	be := memory.New()
	q := queue.NewMemoryQueue()

	modules := recordingModules{fn: func(_ context.Context, _ map[string]any, _ *workflow.RunContext) (any, error) {
		return nil, nil
	}}
	executor := workflow.NewExecutor(modules, passthroughResilience{}, nil)
	pool := worker.New(q, be, nil, executor, worker.Config{Concurrency: 1}, nil)

	runID := uuid.NewString()
	require.NoError(t, q.Enqueue(context.Background(), &queue.Item{
		ID: runID, WorkflowID: "missing", RunID: runID, TriggeredBy: "manual",
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	require.Eventually(t, func() bool {
		return q.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)

	pool.Stop(5 * time.Second)
}
