package workqueue

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/dojohq/booking-management/internal/core/datamodel/webhookjob"
)

const (
	jobQueueSize = 100
	claimBatch   = 20
)

// RepositoryAPI persists jobs. ClaimBatch must hand each pending job to
// exactly one consumer even with several processes draining the table.
type RepositoryAPI interface {
	Enqueue(job *webhookjob.WebhookJob) error
	ClaimBatch(now time.Time, limit int) ([]*webhookjob.WebhookJob, error)
	MarkDone(id int64) error
	MarkRetry(id int64, attempts int, lastError string, nextRunAt time.Time) error
	MarkDead(id int64, attempts int, lastError string) error
}

// ProcessFunc handles one claimed payload. A nil return completes the
// job; an error schedules a retry with backoff until maxTries.
type ProcessFunc func(ctx context.Context, payload json.RawMessage) error

type job struct {
	ID       int64
	Payload  json.RawMessage
	Attempts int
}

type worker struct {
	id         int
	workerPool chan chan job
	jobChannel chan job
	logger     *slog.Logger
}

func newWorker(id int, workerPool chan chan job, logger *slog.Logger) *worker {
	return &worker{
		id:         id,
		workerPool: workerPool,
		jobChannel: make(chan job),
		logger:     logger,
	}
}

func (w *worker) start(ctx context.Context, wg *sync.WaitGroup, processFunc func(job)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			w.workerPool <- w.jobChannel

			select {
			case j := <-w.jobChannel:
				w.logger.Debug("worker processing webhook job", "worker_id", w.id, "job_id", j.ID)
				processFunc(j)
			case <-ctx.Done():
				w.logger.Debug("worker shutting down", "worker_id", w.id)
				return
			}
		}
	}()
}

// Consumer drains the webhook job table through a fixed worker pool.
// The poll loop claims batches and the dispatcher fans them out; jobs
// that keep failing are parked as dead after maxTries.
type Consumer struct {
	repo        RepositoryAPI
	processFunc ProcessFunc
	logger      *slog.Logger

	maxWorkers int
	pollEvery  time.Duration
	maxTries   int

	jobQueue   chan job
	workerPool chan chan job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func NewConsumer(repo RepositoryAPI, processFunc ProcessFunc, maxWorkers int, pollEvery time.Duration, maxTries int, logger *slog.Logger) *Consumer {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if maxTries < 1 {
		maxTries = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		repo:        repo,
		processFunc: processFunc,
		logger:      logger,
		maxWorkers:  maxWorkers,
		pollEvery:   pollEvery,
		maxTries:    maxTries,
		jobQueue:    make(chan job, jobQueueSize),
		workerPool:  make(chan chan job, maxWorkers),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Enqueue persists one callback payload for asynchronous processing.
func (c *Consumer) Enqueue(payload json.RawMessage) error {
	return c.repo.Enqueue(&webhookjob.WebhookJob{
		Payload:   payload,
		Status:    webhookjob.StatusPending,
		NextRunAt: time.Now(),
	})
}

// Start launches the worker pool, the dispatcher and the claim loop.
func (c *Consumer) Start() {
	c.once.Do(func() {
		for i := 0; i < c.maxWorkers; i++ {
			w := newWorker(i, c.workerPool, c.logger)
			w.start(c.ctx, &c.wg, c.processJob)
		}

		c.wg.Add(2)
		go c.dispatch()
		go c.claimLoop()

		c.logger.Info("webhook consumer started",
			"max_workers", c.maxWorkers,
			"poll_every", c.pollEvery)
	})
}

func (c *Consumer) claimLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			claimed, err := c.repo.ClaimBatch(time.Now(), claimBatch)
			if err != nil {
				c.logger.Error("webhook job claim failed", "error", err)
				continue
			}
			for _, j := range claimed {
				select {
				case c.jobQueue <- job{ID: j.ID, Payload: j.Payload, Attempts: j.Attempts}:
				case <-c.ctx.Done():
					return
				}
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Consumer) dispatch() {
	defer c.wg.Done()
	for {
		select {
		case j := <-c.jobQueue:
			select {
			case jobChannel := <-c.workerPool:
				select {
				case jobChannel <- j:
				case <-c.ctx.Done():
					return
				}
			case <-c.ctx.Done():
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Consumer) processJob(j job) {
	err := c.processFunc(c.ctx, j.Payload)
	if err == nil {
		if markErr := c.repo.MarkDone(j.ID); markErr != nil {
			c.logger.Error("failed to complete webhook job", "job_id", j.ID, "error", markErr)
		}
		return
	}

	attempts := j.Attempts + 1
	if attempts >= c.maxTries {
		c.logger.Error("webhook job exhausted retries",
			"job_id", j.ID, "attempts", attempts, "error", err)
		if markErr := c.repo.MarkDead(j.ID, attempts, err.Error()); markErr != nil {
			c.logger.Error("failed to park webhook job", "job_id", j.ID, "error", markErr)
		}
		return
	}

	delay := backoffDelay(attempts)
	c.logger.Warn("webhook job failed, scheduling retry",
		"job_id", j.ID, "attempts", attempts, "retry_in", delay, "error", err)
	if markErr := c.repo.MarkRetry(j.ID, attempts, err.Error(), time.Now().Add(delay)); markErr != nil {
		c.logger.Error("failed to reschedule webhook job", "job_id", j.ID, "error", markErr)
	}
}

// backoffDelay doubles per attempt starting at two seconds, capped at
// one minute.
func backoffDelay(attempts int) time.Duration {
	delay := 2 * time.Second
	for i := 1; i < attempts && delay < time.Minute; i++ {
		delay *= 2
	}
	if delay > time.Minute {
		delay = time.Minute
	}
	return delay
}

func (c *Consumer) Shutdown() {
	c.logger.Info("shutting down webhook consumer")
	c.cancel()
	c.wg.Wait()
	c.logger.Info("webhook consumer shutdown complete")
}
