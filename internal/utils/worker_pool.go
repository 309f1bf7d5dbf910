package utils

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

var ErrPoolStopped = errors.New("worker pool stopped")

// Job runs on a pool worker. ctx is cancelled when the pool stops.
type Job func(ctx context.Context)

// WorkerPool 通用协程池
// A fixed number of workers drain a bounded queue; a panicking job is
// logged and does not take its worker down.
type WorkerPool struct {
	jobs      chan Job
	workerNum int
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewWorkerPool 创建一个新的协程池
func NewWorkerPool(workerNum, queueSize int, logger *zap.Logger) *WorkerPool {
	if workerNum <= 0 {
		workerNum = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		jobs:      make(chan Job, queueSize),
		workerNum: workerNum,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start 启动协程池
func (p *WorkerPool) Start() {
	p.startOnce.Do(func() {
		for i := 0; i < p.workerNum; i++ {
			p.wg.Add(1)
			go p.worker(i)
		}
		p.logger.Debug("worker pool started", zap.Int("workers", p.workerNum), zap.Int("queue", cap(p.jobs)))
	})
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case job := <-p.jobs:
			p.run(id, job)
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *WorkerPool) run(id int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker panic", zap.Int("worker", id), zap.Any("panic", r))
		}
	}()
	job(p.ctx)
}

// Submit 提交任务到协程池
// Blocks while the queue is full, until ctx ends or the pool stops.
func (p *WorkerPool) Submit(ctx context.Context, job Job) error {
	if p.ctx.Err() != nil {
		return ErrPoolStopped
	}
	select {
	case p.jobs <- job:
		return nil
	case <-p.ctx.Done():
		return ErrPoolStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit queues job without blocking and reports whether it was
// accepted.
func (p *WorkerPool) TrySubmit(job Job) bool {
	if p.ctx.Err() != nil {
		return false
	}
	select {
	case p.jobs <- job:
		return true
	default:
		return false
	}
}

// Stop 停止协程池
// Queued jobs that have not started are dropped; running jobs see their
// ctx cancelled and Stop waits for them.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		p.wg.Wait()
		p.logger.Debug("worker pool stopped")
	})
}
