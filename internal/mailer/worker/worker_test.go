package worker

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"event-mailer/internal/common/errors"
	"event-mailer/internal/common/logger"
	"event-mailer/internal/common/observability"
	"event-mailer/internal/mailer/ledger"
	"event-mailer/internal/mailer/queue"
	"event-mailer/internal/mailer/transport"
	"event-mailer/internal/models"
)

// scriptedTransport returns one scripted result per call, repeating the last
// entry once the script runs out.
type scriptedTransport struct {
	mu      sync.Mutex
	results []*errors.StandardError
	calls   int
	sent    []string
}

func (s *scriptedTransport) Name() string { return "scripted" }

func (s *scriptedTransport) Send(ctx context.Context, task *models.EmailTask) transport.SendResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.calls
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	s.calls++
	err := s.results[idx]
	if err == nil {
		s.sent = append(s.sent, task.TaskID)
	}
	return transport.SendResult{Provider: s.Name(), Duration: time.Millisecond, Err: err}
}

func (s *scriptedTransport) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fixture struct {
	queue  *queue.PriorityQueue
	ledger *ledger.Ledger
	worker *Worker
}

func newFixture(t *testing.T, tr transport.Transport) *fixture {
	t.Helper()

	q := queue.New()
	l := ledger.New(ledger.NewFileStore(filepath.Join(t.TempDir(), "statuses.json")), logger.NewTestLogger(t))
	w := New(q, l, tr, &observability.Observability{}, logger.NewTestLogger(t), Options{
		MaxAttempts:    3,
		DequeueTimeout: 20 * time.Millisecond,
		SendTimeout:    time.Second,
		SaveInterval:   time.Hour,
	})
	w.backoff = func(int) time.Duration { return time.Millisecond }
	return &fixture{queue: q, ledger: l, worker: w}
}

func (f *fixture) submit(taskID string, priority models.Priority) *models.EmailTask {
	task := &models.EmailTask{
		TaskID:    taskID,
		Recipient: "alice@example.com",
		Subject:   "Hello",
		HTMLBody:  "<p>Hi</p>",
		TextBody:  "Hi",
	}
	f.ledger.Record(models.NewDeliveryStatus(task, 3))
	f.queue.Enqueue(task, priority)
	return task
}

func (f *fixture) waitForStatus(t *testing.T, taskID, want string) *models.DeliveryStatus {
	t.Helper()
	var got *models.DeliveryStatus
	require.Eventually(t, func() bool {
		got = f.ledger.Get(taskID)
		return got != nil && got.Status == want
	}, 5*time.Second, 10*time.Millisecond, "task %s never reached %s", taskID, want)
	return got
}

func (f *fixture) stop(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.worker.Stop(ctx))
}

func TestWorkerDeliversTask(t *testing.T) {
	tr := &scriptedTransport{results: []*errors.StandardError{nil}}
	f := newFixture(t, tr)

	f.submit("task-1", models.PriorityNormal)
	f.worker.Start()
	defer f.stop(t)

	got := f.waitForStatus(t, "task-1", models.StatusSent)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.SentTime)
	require.NotNil(t, got.LastAttempt)
	assert.Empty(t, got.Error)
}

func TestWorkerRetriesThenSucceeds(t *testing.T) {
	disconnect := errors.NewSMTPDisconnectedError(3, context.DeadlineExceeded)
	tr := &scriptedTransport{results: []*errors.StandardError{disconnect, disconnect, nil}}
	f := newFixture(t, tr)

	f.submit("task-1", models.PriorityNormal)
	f.worker.Start()
	defer f.stop(t)

	got := f.waitForStatus(t, "task-1", models.StatusSent)
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, 3, tr.callCount())
}

func TestWorkerExhaustsAttempts(t *testing.T) {
	fail := errors.NewSendFailedError(context.DeadlineExceeded)
	tr := &scriptedTransport{results: []*errors.StandardError{fail}}
	f := newFixture(t, tr)

	f.submit("task-1", models.PriorityNormal)
	f.worker.Start()
	defer f.stop(t)

	require.Eventually(t, func() bool {
		s := f.ledger.Get("task-1")
		return s != nil && s.Status == models.StatusFailed && s.Attempts == 3
	}, 5*time.Second, 10*time.Millisecond)

	// No fourth attempt happens.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 3, tr.callCount())

	got := f.ledger.Get("task-1")
	assert.True(t, got.IsTerminal())
	assert.NotEmpty(t, got.Error)
}

func TestWorkerDoesNotRetryNonRetryable(t *testing.T) {
	tr := &scriptedTransport{results: []*errors.StandardError{
		errors.NewTemplateNotFoundError("missing"),
	}}
	f := newFixture(t, tr)

	f.submit("task-1", models.PriorityNormal)
	f.worker.Start()
	defer f.stop(t)

	f.waitForStatus(t, "task-1", models.StatusFailed)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, tr.callCount())
	assert.Equal(t, 1, f.ledger.Get("task-1").Attempts)
}

func TestWorkerSkipsCancelledTask(t *testing.T) {
	tr := &scriptedTransport{results: []*errors.StandardError{nil}}
	f := newFixture(t, tr)

	f.submit("task-1", models.PriorityNormal)
	require.True(t, f.queue.Cancel("task-1"))
	f.ledger.Update("task-1", func(s *models.DeliveryStatus) {
		s.Status = models.StatusCancelled
	})

	f.worker.Start()
	defer f.stop(t)

	require.Eventually(t, func() bool {
		return f.queue.Size() == 0
	}, 5*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 0, tr.callCount())
	assert.Equal(t, models.StatusCancelled, f.ledger.Get("task-1").Status)
}

func TestWorkerProcessesBatch(t *testing.T) {
	fail := errors.NewTemplateNotFoundError("broken")
	tr := &scriptedTransport{results: []*errors.StandardError{nil, fail, nil}}
	f := newFixture(t, tr)

	for _, id := range []string{"batch-a", "batch-b", "batch-c"} {
		task := f.submit(id, models.PriorityNormal)
		f.ledger.Update(task.TaskID, func(s *models.DeliveryStatus) {
			s.BatchID = "batch-1"
		})
	}

	f.worker.Start()
	defer f.stop(t)

	require.Eventually(t, func() bool {
		sent, failed := 0, 0
		for _, s := range f.ledger.QueryByBatch("batch-1") {
			switch s.Status {
			case models.StatusSent:
				sent++
			case models.StatusFailed:
				failed++
			}
		}
		return sent == 2 && failed == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWorkerSnapshotsOnStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "statuses.json")
	store := ledger.NewFileStore(path)
	l := ledger.New(store, logger.NewTestLogger(t))

	tr := &scriptedTransport{results: []*errors.StandardError{nil}}
	q := queue.New()
	w := New(q, l, tr, &observability.Observability{}, logger.NewTestLogger(t), Options{
		DequeueTimeout: 20 * time.Millisecond,
		SaveInterval:   time.Hour,
	})

	task := &models.EmailTask{TaskID: "task-1", Recipient: "alice@example.com", Subject: "Hi"}
	l.Record(models.NewDeliveryStatus(task, 3))
	q.Enqueue(task, models.PriorityHigh)

	w.Start()
	require.Eventually(t, func() bool {
		s := l.Get("task-1")
		return s != nil && s.Status == models.StatusSent
	}, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.Stop(ctx))

	restored := ledger.New(store, logger.NewTestLogger(t))
	require.NoError(t, restored.Restore(context.Background()))
	got := restored.Get("task-1")
	require.NotNil(t, got)
	assert.Equal(t, models.StatusSent, got.Status)
}

func TestWorkerStartTwice(t *testing.T) {
	tr := &scriptedTransport{results: []*errors.StandardError{nil}}
	f := newFixture(t, tr)

	f.worker.Start()
	f.worker.Start()
	f.stop(t)
}
