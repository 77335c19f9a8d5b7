package embedded

import (
	"context"
	"fmt"
	"sync"

	"github.com/gammazero/workerpool"

	"github.com/fixdeploy/fixdeploy/internal/interfaces"
	"github.com/fixdeploy/fixdeploy/pkg/logging"
)

// WorkerPool implements interfaces.WorkerPool using gammazero/workerpool
type WorkerPool struct {
	pool     *workerpool.WorkerPool
	queue    *Queue
	tracker  *Tracker
	executor DeploymentExecutor
	logger   *logging.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  bool
	mu       sync.Mutex
}

// DeploymentExecutor runs a dequeued deployment to completion. It owns the
// record's final status; the pool only steps in when the executor panics.
type DeploymentExecutor func(ctx context.Context, deployment *interfaces.QueuedDeployment)

// WorkerPoolConfig configures the worker pool
type WorkerPoolConfig struct {
	Workers  int
	Queue    *Queue
	Tracker  *Tracker
	Executor DeploymentExecutor
}

// NewWorkerPool creates a new embedded worker pool
func NewWorkerPool(config WorkerPoolConfig) (*WorkerPool, error) {
	if config.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if config.Tracker == nil {
		return nil, fmt.Errorf("tracker is required")
	}
	if config.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}

	if config.Workers <= 0 {
		config.Workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		pool:     workerpool.New(config.Workers),
		queue:    config.Queue,
		tracker:  config.Tracker,
		executor: config.Executor,
		logger:   logging.NewLogger("embedded-worker"),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start begins processing deployments from the queue
func (p *WorkerPool) Start() {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.processLoop()
}

// Stop gracefully stops the worker pool
func (p *WorkerPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	// Cancel the processing loop
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		// Success
	case <-ctx.Done():
		return fmt.Errorf("stop timeout: %w", ctx.Err())
	}

	// Wait for in-flight deployments to finish
	p.pool.StopWait()

	return nil
}

// processLoop continuously dequeues and processes deployments
func (p *WorkerPool) processLoop() {
	defer p.wg.Done()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Worker pool process loop panicked: %v", r)
		}
	}()

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
			deployment, err := p.queue.Dequeue(p.ctx)
			if err != nil {
				// Context canceled or queue closed
				if p.ctx.Err() != nil {
					return
				}
				continue
			}

			p.pool.Submit(func() {
				p.processDeployment(deployment)
			})
		}
	}
}

// processDeployment handles a single deployment
func (p *WorkerPool) processDeployment(deployment *interfaces.QueuedDeployment) {
	// Panic recovery keeps one bad deployment from taking down the pool
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Worker pool panic while processing deployment %s: %v", deployment.ID, r)

			if err := p.tracker.AppendLog(deployment.ID, fmt.Sprintf("ERROR: panic during execution: %v", r)); err != nil {
				p.logger.Error("Failed to append log after panic: %v", err)
			}
			if err := p.tracker.SetStatus(deployment.ID, interfaces.DeploymentStatusFailed); err != nil {
				p.logger.Error("Failed to update status after panic: %v", err)
			}
		}
	}()

	// Stamp the start time; records are created in status running
	if err := p.tracker.SetStatus(deployment.ID, interfaces.DeploymentStatusRunning); err != nil {
		p.logger.Error("Failed to mark deployment started: %v", err)
	}

	p.executor(p.ctx, deployment)
}

// GetWorkerCount returns the configured number of workers
func (p *WorkerPool) GetWorkerCount() int {
	return p.pool.Size()
}

// GetQueuedCount returns the number of deployments waiting for a worker
func (p *WorkerPool) GetQueuedCount() int {
	return p.pool.WaitingQueueSize()
}
