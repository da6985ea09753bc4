package queue

import (
	"fmt"
	"testing"
	"time"

	"event-mailer/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTask(id string) *models.EmailTask {
	return &models.EmailTask{
		TaskID:    id,
		Recipient: id + "@example.com",
		Subject:   "subject " + id,
	}
}

func TestQueue_PriorityOrder(t *testing.T) {
	q := New()

	// Enqueued B, A, C; A is high priority and must come out first.
	q.Enqueue(newTask("b"), models.PriorityNormal)
	q.Enqueue(newTask("a"), models.PriorityHigh)
	q.Enqueue(newTask("c"), models.PriorityNormal)

	var got []string
	for i := 0; i < 3; i++ {
		task := q.Dequeue(100 * time.Millisecond)
		require.NotNil(t, task)
		got = append(got, task.TaskID)
	}

	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, 0, q.Size())
}

func TestQueue_FIFOWithinBand(t *testing.T) {
	q := New()

	for i := 0; i < 10; i++ {
		q.Enqueue(newTask(fmt.Sprintf("task-%02d", i)), models.PriorityNormal)
	}

	for i := 0; i < 10; i++ {
		task := q.Dequeue(100 * time.Millisecond)
		require.NotNil(t, task)
		assert.Equal(t, fmt.Sprintf("task-%02d", i), task.TaskID)
	}
}

func TestQueue_DequeueTimeout(t *testing.T) {
	q := New()

	start := time.Now()
	task := q.Dequeue(50 * time.Millisecond)
	assert.Nil(t, task)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestQueue_DequeueWakesOnEnqueue(t *testing.T) {
	q := New()

	done := make(chan *models.EmailTask, 1)
	go func() {
		done <- q.Dequeue(2 * time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	q.Enqueue(newTask("late"), models.PriorityNormal)

	select {
	case task := <-done:
		require.NotNil(t, task)
		assert.Equal(t, "late", task.TaskID)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not wake on enqueue")
	}
}

func TestQueue_Cancel(t *testing.T) {
	q := New()

	task := newTask("doomed")
	q.Enqueue(task, models.PriorityNormal)

	assert.True(t, q.Contains("doomed"))
	assert.True(t, q.Cancel("doomed"))
	assert.False(t, q.Contains("doomed"))
	assert.True(t, task.IsCancelled())

	// A second cancel is a no-op.
	assert.False(t, q.Cancel("doomed"))

	// The cancelled task is still physically present and comes out flagged.
	got := q.Dequeue(100 * time.Millisecond)
	require.NotNil(t, got)
	assert.True(t, got.IsCancelled())
}

func TestQueue_CancelAfterDequeue(t *testing.T) {
	q := New()

	q.Enqueue(newTask("gone"), models.PriorityNormal)
	task := q.Dequeue(100 * time.Millisecond)
	require.NotNil(t, task)

	assert.False(t, q.Cancel("gone"))
	assert.False(t, task.IsCancelled())
}

func TestQueue_Size(t *testing.T) {
	q := New()
	assert.Equal(t, 0, q.Size())

	q.Enqueue(newTask("one"), models.PriorityLow)
	q.Enqueue(newTask("two"), models.PriorityHigh)
	assert.Equal(t, 2, q.Size())

	q.Dequeue(100 * time.Millisecond)
	assert.Equal(t, 1, q.Size())
}
