package embedded

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixdeploy/fixdeploy/internal/interfaces"
)

func TestNewWorkerPool_Validation(t *testing.T) {
	t.Parallel()

	queue := NewQueue(10)
	defer queue.Close()
	tracker := NewTracker()
	executor := func(_ context.Context, _ *interfaces.QueuedDeployment) {}

	tests := []struct {
		name   string
		config WorkerPoolConfig
		errMsg string
	}{
		{
			name:   "missing queue",
			config: WorkerPoolConfig{Tracker: tracker, Executor: executor},
			errMsg: "queue is required",
		},
		{
			name:   "missing tracker",
			config: WorkerPoolConfig{Queue: queue, Executor: executor},
			errMsg: "tracker is required",
		},
		{
			name:   "missing executor",
			config: WorkerPoolConfig{Queue: queue, Tracker: tracker},
			errMsg: "executor is required",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewWorkerPool(tt.config)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestWorkerPool_ProcessesDeployments(t *testing.T) {
	t.Parallel()

	queue := NewQueue(10)
	tracker := NewTracker()

	var processed atomic.Int32
	executor := func(_ context.Context, deployment *interfaces.QueuedDeployment) {
		processed.Add(1)
		_ = tracker.SetStatus(deployment.ID, interfaces.DeploymentStatusSuccess)
	}

	pool, err := NewWorkerPool(WorkerPoolConfig{
		Workers:  1,
		Queue:    queue,
		Tracker:  tracker,
		Executor: executor,
	})
	require.NoError(t, err)

	pool.Start()

	ctx := context.Background()
	for _, id := range []string{"dep-1", "dep-2"} {
		require.NoError(t, tracker.Create(newTestRecord(id)))
		require.NoError(t, queue.Enqueue(ctx, queuedDeployment(id)))
	}

	require.Eventually(t, func() bool {
		return processed.Load() == 2
	}, 5*time.Second, 10*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, pool.Stop(stopCtx))
	queue.Close()

	for _, id := range []string{"dep-1", "dep-2"} {
		status, err := tracker.GetStatus(id)
		require.NoError(t, err)
		assert.Equal(t, interfaces.DeploymentStatusSuccess, status)
	}
}

func TestWorkerPool_RecoverFromPanic(t *testing.T) {
	t.Parallel()

	queue := NewQueue(10)
	tracker := NewTracker()

	var calls atomic.Int32
	executor := func(_ context.Context, deployment *interfaces.QueuedDeployment) {
		calls.Add(1)
		if deployment.ID == "dep-panic" {
			panic("boom")
		}
		_ = tracker.SetStatus(deployment.ID, interfaces.DeploymentStatusSuccess)
	}

	pool, err := NewWorkerPool(WorkerPoolConfig{
		Workers:  1,
		Queue:    queue,
		Tracker:  tracker,
		Executor: executor,
	})
	require.NoError(t, err)

	pool.Start()

	ctx := context.Background()
	for _, id := range []string{"dep-panic", "dep-ok"} {
		require.NoError(t, tracker.Create(newTestRecord(id)))
		require.NoError(t, queue.Enqueue(ctx, queuedDeployment(id)))
	}

	// The pool must survive the panic and process the next deployment
	require.Eventually(t, func() bool {
		return calls.Load() == 2
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		status, err := tracker.GetStatus("dep-panic")
		return err == nil && status == interfaces.DeploymentStatusFailed
	}, 5*time.Second, 10*time.Millisecond)

	record, err := tracker.GetByID("dep-panic")
	require.NoError(t, err)
	require.NotEmpty(t, record.Logs)
	assert.Contains(t, record.Logs[len(record.Logs)-1].Message, "panic during execution")

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, pool.Stop(stopCtx))
	queue.Close()
}

func TestWorkerPool_StopIdempotent(t *testing.T) {
	t.Parallel()

	queue := NewQueue(10)
	defer queue.Close()
	tracker := NewTracker()

	pool, err := NewWorkerPool(WorkerPoolConfig{
		Queue:    queue,
		Tracker:  tracker,
		Executor: func(_ context.Context, _ *interfaces.QueuedDeployment) {},
	})
	require.NoError(t, err)

	// Stop before Start is a no-op
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, pool.Stop(ctx))

	pool.Start()
	pool.Start() // second Start is a no-op
	require.NoError(t, pool.Stop(ctx))
}
