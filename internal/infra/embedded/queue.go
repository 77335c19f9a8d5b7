// Package embedded provides the in-memory infrastructure the server runs
// on: the deployment queue, the record tracker, and the worker pool.
package embedded

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fixdeploy/fixdeploy/internal/interfaces"
)

// Queue implements interfaces.DeploymentQueue using a Go channel
type Queue struct {
	mu          sync.RWMutex
	deployments chan *interfaces.QueuedDeployment
	closed      bool
	closeOnce   sync.Once

	// Metrics
	totalEnqueued  int64
	totalDequeued  int64
	oldestEnqueued time.Time
	totalWaitTime  time.Duration
}

// NewQueue creates a new embedded deployment queue
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 100 // Default capacity
	}

	return &Queue{
		deployments: make(chan *interfaces.QueuedDeployment, capacity),
	}
}

// Enqueue adds a deployment to the queue
func (q *Queue) Enqueue(ctx context.Context, deployment *interfaces.QueuedDeployment) error {
	if deployment == nil {
		return fmt.Errorf("deployment is nil")
	}
	if deployment.ID == "" {
		return fmt.Errorf("deployment ID is empty")
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("queue is closed")
	}
	if err := ctx.Err(); err != nil {
		q.mu.Unlock()
		return fmt.Errorf("enqueue canceled: %w", err)
	}
	q.mu.Unlock()

	select {
	case q.deployments <- deployment:
		q.mu.Lock()
		q.totalEnqueued++
		if q.oldestEnqueued.IsZero() || len(q.deployments) == 1 {
			q.oldestEnqueued = time.Now()
		}
		q.mu.Unlock()
		return nil
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	default:
		return fmt.Errorf("queue is full")
	}
}

// Dequeue retrieves the next deployment from the queue
// This is an internal method used by the worker pool
func (q *Queue) Dequeue(ctx context.Context) (*interfaces.QueuedDeployment, error) {
	select {
	case deployment := <-q.deployments:
		if deployment == nil {
			return nil, fmt.Errorf("queue is closed")
		}

		q.mu.Lock()
		q.totalDequeued++
		if deployment.CreatedAt.After(time.Time{}) {
			q.totalWaitTime += time.Since(deployment.CreatedAt)
		}
		if len(q.deployments) == 0 {
			q.oldestEnqueued = time.Time{}
		}
		q.mu.Unlock()

		return deployment, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("context canceled: %w", ctx.Err())
	}
}

// Close closes the queue
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		defer q.mu.Unlock()

		q.closed = true
		close(q.deployments)
	})
}

// Size returns the current number of deployments in the queue
func (q *Queue) Size() int {
	return len(q.deployments)
}

// Capacity returns the queue capacity
func (q *Queue) Capacity() int {
	return cap(q.deployments)
}

// GetMetrics returns queue metrics
func (q *Queue) GetMetrics() interfaces.QueueMetrics {
	q.mu.RLock()
	defer q.mu.RUnlock()

	metrics := interfaces.QueueMetrics{
		TotalEnqueued:    q.totalEnqueued,
		TotalDequeued:    q.totalDequeued,
		CurrentDepth:     len(q.deployments),
		OldestDeployment: q.oldestEnqueued,
	}

	if q.totalDequeued > 0 {
		metrics.AverageWaitTime = q.totalWaitTime / time.Duration(q.totalDequeued)
	}

	return metrics
}
