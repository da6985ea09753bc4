// Package worker runs the single delivery goroutine that drains the priority
// queue, dispatches tasks over the configured transport, and drives the
// retry and snapshot cycles.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"event-mailer/internal/common/errors"
	"event-mailer/internal/common/logger"
	"event-mailer/internal/common/metrics"
	"event-mailer/internal/common/observability"
	"event-mailer/internal/mailer/ledger"
	"event-mailer/internal/mailer/queue"
	"event-mailer/internal/mailer/transport"
	"event-mailer/internal/models"
)

// Options tunes the worker loop. Zero values fall back to the defaults
// matching the engine config defaults.
type Options struct {
	MaxAttempts    int
	DequeueTimeout time.Duration
	SendTimeout    time.Duration
	SaveInterval   time.Duration
}

func (o *Options) applyDefaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.DequeueTimeout <= 0 {
		o.DequeueTimeout = time.Second
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 30 * time.Second
	}
	if o.SaveInterval <= 0 {
		o.SaveInterval = time.Minute
	}
}

// Worker owns the delivery loop. One instance with one goroutine per
// process; all mail flows through it so provider rate limits and retry
// backoff apply globally.
type Worker struct {
	queue     *queue.PriorityQueue
	ledger    *ledger.Ledger
	transport transport.Transport
	obs       *observability.Observability
	logger    logger.Logger
	opts      Options

	running  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// backoff computes the pre-requeue delay from the attempt count.
	backoff func(attempts int) time.Duration
}

func New(q *queue.PriorityQueue, l *ledger.Ledger, t transport.Transport, obs *observability.Observability, log logger.Logger, opts Options) *Worker {
	opts.applyDefaults()
	return &Worker{
		queue:     q,
		ledger:    l,
		transport: t,
		obs:       obs,
		logger:    log,
		opts:      opts,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		backoff: func(attempts int) time.Duration {
			return time.Duration(1<<uint(attempts)) * time.Second
		},
	}
}

// Start launches the delivery goroutine. Calling Start twice is a no-op.
func (w *Worker) Start() {
	if !w.running.CompareAndSwap(false, true) {
		return
	}
	w.logger.Info("Email delivery worker started", map[string]interface{}{
		"provider":     w.transport.Name(),
		"max_attempts": w.opts.MaxAttempts,
	})
	go w.run()
}

// Stop signals the loop and waits for it to drain, bounded by ctx. The loop
// writes a final snapshot before exiting.
func (w *Worker) Stop(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.stop) })
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker did not stop in time: %w", ctx.Err())
	}
}

func (w *Worker) run() {
	defer close(w.done)

	lastSave := time.Now()
	for {
		select {
		case <-w.stop:
			w.finalSnapshot()
			return
		default:
		}

		w.loopOnce()

		metrics.QueueSize.Set(float64(w.queue.Size()))

		if time.Since(lastSave) > w.opts.SaveInterval {
			if err := w.ledger.Snapshot(context.Background()); err != nil {
				w.logger.Error("Periodic status snapshot failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
			lastSave = time.Now()
		}
	}
}

// loopOnce dequeues and processes at most one task. Panics are contained
// here so one malformed task can never kill the worker.
func (w *Worker) loopOnce() {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Email worker recovered from panic", map[string]interface{}{
				"panic": fmt.Sprint(r),
			})
			w.sleepInterruptible(5 * time.Second)
		}
	}()

	task := w.queue.Dequeue(w.opts.DequeueTimeout)
	if task == nil {
		return
	}
	w.process(task)
}

func (w *Worker) process(task *models.EmailTask) {
	if task.IsCancelled() {
		w.logger.Info("Skipping cancelled task", map[string]interface{}{
			"task_id": task.TaskID,
		})
		return
	}

	var attempts int
	w.ledger.Update(task.TaskID, func(s *models.DeliveryStatus) {
		now := time.Now()
		s.Status = models.StatusSending
		s.Attempts++
		s.LastAttempt = &now
		attempts = s.Attempts
	})

	// Delivery runs under its own context, never a caller's: the sender
	// moved on the moment the task was queued.
	ctx, cancel := context.WithTimeout(context.Background(), w.opts.SendTimeout)
	result := w.transport.Send(ctx, task)
	cancel()

	metrics.SendDuration.WithLabelValues(result.Provider).Observe(result.Duration.Seconds())

	if result.Success() {
		w.ledger.Update(task.TaskID, func(s *models.DeliveryStatus) {
			now := time.Now()
			s.Status = models.StatusSent
			s.SentTime = &now
			s.Error = ""
		})
		metrics.EmailsSent.WithLabelValues(task.GroupID).Inc()
		w.obs.RecordEmailProcessed(ctx, models.StatusSent)
		w.obs.RecordEmailDuration(ctx, result.Duration, models.StatusSent)
		w.logger.Info("Email sent", map[string]interface{}{
			"task_id":   task.TaskID,
			"recipient": task.Recipient,
			"attempts":  attempts,
			"provider":  result.Provider,
		})
		return
	}

	w.ledger.Update(task.TaskID, func(s *models.DeliveryStatus) {
		s.Status = models.StatusFailed
		s.Error = result.Err.Error()
	})
	metrics.EmailsFailed.WithLabelValues(task.GroupID, string(result.Err.Code)).Inc()
	w.obs.RecordEmailProcessed(ctx, models.StatusFailed)
	w.obs.RecordEmailDuration(ctx, result.Duration, models.StatusFailed)
	w.logger.Error("Email delivery failed", map[string]interface{}{
		"task_id":   task.TaskID,
		"recipient": task.Recipient,
		"attempts":  attempts,
		"code":      string(result.Err.Code),
		"error":     result.Err.Message,
	})

	if attempts >= w.opts.MaxAttempts || !errors.IsRetryable(result.Err) {
		return
	}

	delay := w.backoff(attempts)
	w.logger.Info("Retrying task", map[string]interface{}{
		"task_id": task.TaskID,
		"delay":   delay.String(),
	})
	if !w.sleepInterruptible(delay) {
		return
	}
	w.queue.Enqueue(task, task.Priority)
	metrics.EmailsRetried.WithLabelValues(task.GroupID).Inc()
}

// sleepInterruptible waits for d or until Stop is called. It returns false
// when interrupted.
func (w *Worker) sleepInterruptible(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-w.stop:
		return false
	case <-timer.C:
		return true
	}
}

func (w *Worker) finalSnapshot() {
	if err := w.ledger.Snapshot(context.Background()); err != nil {
		w.logger.Error("Final status snapshot failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	w.logger.Info("Email delivery worker stopped", nil)
}
