package notify

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"event-mailer/internal/common/config"
	apperrors "event-mailer/internal/common/errors"
	"event-mailer/internal/common/logger"
	"event-mailer/internal/mailer/ledger"
	"event-mailer/internal/mailer/queue"
	"event-mailer/internal/mailer/render"
	"event-mailer/internal/models"
)

type testEnv struct {
	queue   *queue.PriorityQueue
	ledger  *ledger.Ledger
	service *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	r, err := render.New()
	require.NoError(t, err)

	q := queue.New()
	l := ledger.New(ledger.NewFileStore(filepath.Join(t.TempDir(), "statuses.json")), logger.NewTestLogger(t))
	site := config.SiteConfig{
		Name:         "Tech Summit",
		SupportEmail: "support@example.com",
		BaseURL:      "https://summit.example.com",
		EventName:    "Tech Summit 2026",
	}
	svc := NewService(q, l, r, site, 3, logger.NewTestLogger(t))
	svc.now = func() time.Time { return time.Unix(1700000000, 0) }
	return &testEnv{queue: q, ledger: l, service: svc}
}

func TestEnqueueNotificationDefaults(t *testing.T) {
	env := newTestEnv(t)

	taskID, err := env.service.EnqueueNotification(NotificationRequest{
		Recipient: "alice@example.com",
		Template:  "notification",
		Context:   map[string]interface{}{"message": "Doors open at nine."},
	})
	require.NoError(t, err)

	assert.Equal(t, "notification_1700000000_alice", taskID)

	status := env.ledger.Get(taskID)
	require.NotNil(t, status)
	assert.Equal(t, models.StatusQueued, status.Status)
	assert.Equal(t, "single_notification_1700000000", status.BatchID)
	assert.Equal(t, "notification_notification", status.GroupID)
	assert.Equal(t, "Notification from Tech Summit", status.Subject)
	assert.Equal(t, 1, env.queue.Size())

	task := env.queue.Dequeue(10 * time.Millisecond)
	require.NotNil(t, task)
	assert.Contains(t, task.HTMLBody, "Doors open at nine.")
	assert.Contains(t, task.TextBody, "Doors open at nine.")
}

func TestEnqueueNotificationCallerContextWins(t *testing.T) {
	env := newTestEnv(t)

	taskID, err := env.service.EnqueueNotification(NotificationRequest{
		Recipient: "alice@example.com",
		Template:  "notification",
		Context: map[string]interface{}{
			"message":       "Hello",
			"site_name":     "Override Summit",
			"email_subject": "Custom subject",
		},
	})
	require.NoError(t, err)

	status := env.ledger.Get(taskID)
	assert.Equal(t, "Custom subject", status.Subject)

	task := env.queue.Dequeue(10 * time.Millisecond)
	require.NotNil(t, task)
	assert.Contains(t, task.HTMLBody, "Override Summit")
}

func TestEnqueueNotificationInvalidRecipient(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.EnqueueNotification(NotificationRequest{
		Recipient: "not-an-address",
		Template:  "notification",
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidRecipient, apperrors.Normalize(err).Code)
	assert.Equal(t, 0, env.queue.Size())
}

func TestEnqueueNotificationRenderFailureRecordsLedger(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.EnqueueNotification(NotificationRequest{
		Recipient: "alice@example.com",
		Template:  "no_such_template",
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeTemplateNotFound, apperrors.Normalize(err).Code)

	status := env.ledger.Get("no_such_template_1700000000_alice")
	require.NotNil(t, status)
	assert.Equal(t, models.StatusFailed, status.Status)
	assert.NotEmpty(t, status.Error)
	assert.Equal(t, 0, env.queue.Size())
}

func TestSendQRCode(t *testing.T) {
	env := newTestEnv(t)

	qrPath := filepath.Join(t.TempDir(), "qr.png")
	require.NoError(t, os.WriteFile(qrPath, []byte("png"), 0o644))

	participant := &models.Participant{
		UniqueID:   "TS-0042",
		FullName:   "Alice Mwangi",
		Email:      "alice@example.com",
		Category:   models.CategoryAttendee,
		QRCodePath: qrPath,
	}

	taskID, err := env.service.SendQRCode("alice@example.com", participant, models.PriorityHigh, "batch-qr")
	require.NoError(t, err)
	assert.Equal(t, "qrcode_TS-0042_1700000000", taskID)

	status := env.ledger.Get(taskID)
	require.NotNil(t, status)
	assert.Equal(t, "group_attendee", status.GroupID)
	assert.Equal(t, "batch-qr", status.BatchID)
	assert.Equal(t, models.PriorityHigh, status.Priority)

	task := env.queue.Dequeue(10 * time.Millisecond)
	require.NotNil(t, task)
	require.Len(t, task.Attachments, 1)
	assert.Equal(t, "qrcode-TS-0042.png", task.Attachments[0].Filename)
	assert.Contains(t, task.HTMLBody, "Alice Mwangi")
}

func TestSendQRCodeMissingFile(t *testing.T) {
	env := newTestEnv(t)

	participant := &models.Participant{
		UniqueID:   "TS-0042",
		Category:   models.CategoryMedia,
		QRCodePath: "/nonexistent/qr.png",
	}

	_, err := env.service.SendQRCode("alice@example.com", participant, models.PriorityNormal, "")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeAttachmentNotFound, apperrors.Normalize(err).Code)
	assert.Equal(t, 0, env.queue.Size())
}

func TestSendTestEmail(t *testing.T) {
	env := newTestEnv(t)

	result := env.service.SendTestEmail("ops@example.com", "test_email", "", "", models.PriorityHigh, "")

	assert.True(t, result.Success)
	assert.Equal(t, "test_test_email_1700000000", result.TaskID)
	assert.Equal(t, "test_batch_1700000000", result.BatchID)
	assert.Equal(t, "[TEST] Email Service Test", result.Subject)

	status := env.ledger.Get(result.TaskID)
	require.NotNil(t, status)
	assert.Equal(t, "test", status.GroupID)
	assert.Equal(t, models.PriorityHigh, status.Priority)
}

func TestSendTestEmailFailureReturnsResult(t *testing.T) {
	env := newTestEnv(t)

	result := env.service.SendTestEmail("ops@example.com", "missing_template", "", "", models.PriorityHigh, "")

	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "failed to queue")
	assert.Equal(t, 0, env.queue.Size())
}

func TestCancelQueuedTask(t *testing.T) {
	env := newTestEnv(t)

	taskID, err := env.service.EnqueueNotification(NotificationRequest{
		Recipient: "alice@example.com",
		Template:  "notification",
		Context:   map[string]interface{}{"message": "Hi"},
	})
	require.NoError(t, err)

	assert.True(t, env.service.Cancel(taskID))
	assert.Equal(t, models.StatusCancelled, env.ledger.Get(taskID).Status)

	// A cancelled task still physically queued comes out flagged.
	task := env.queue.Dequeue(10 * time.Millisecond)
	require.NotNil(t, task)
	assert.True(t, task.IsCancelled())
}

func TestCancelUnknownTask(t *testing.T) {
	env := newTestEnv(t)
	assert.False(t, env.service.Cancel("missing"))
}

func TestRetryFailed(t *testing.T) {
	env := newTestEnv(t)

	env.ledger.Record(&models.DeliveryStatus{
		TaskID:      "task-1",
		Recipient:   "alice@example.com",
		Status:      models.StatusFailed,
		Attempts:    3,
		MaxAttempts: 3,
		Error:       "send failed",
		Timestamp:   time.Now(),
	})

	assert.True(t, env.service.RetryFailed("task-1"))

	status := env.ledger.Get("task-1")
	assert.Equal(t, models.StatusQueued, status.Status)
	assert.Equal(t, 0, status.Attempts)
	assert.Empty(t, status.Error)

	assert.False(t, env.service.RetryFailed("task-1"))
	assert.False(t, env.service.RetryFailed("missing"))
}

func TestGetBatchAndGroupStatus(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 3; i++ {
		_, err := env.service.EnqueueNotification(NotificationRequest{
			Recipient: fmt.Sprintf("user%d@example.com", i),
			Template:  "notification",
			BatchID:   "batch-1",
			GroupID:   "newsletter",
			Context:   map[string]interface{}{"message": "Hi"},
		})
		require.NoError(t, err)
	}

	batch := env.service.GetBatchStatus("batch-1")
	require.NotNil(t, batch)
	assert.Equal(t, 3, batch.Total)
	assert.Len(t, batch.Tasks, 3)

	group := env.service.GetGroupStatus("newsletter")
	require.NotNil(t, group)
	assert.Equal(t, 3, group.Total)

	assert.Nil(t, env.service.GetBatchStatus(""))
	assert.Nil(t, env.service.GetGroupStatus(""))
}

func TestGetQueueStats(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 2; i++ {
		_, err := env.service.EnqueueNotification(NotificationRequest{
			Recipient: fmt.Sprintf("user%d@example.com", i),
			Template:  "notification",
			Context:   map[string]interface{}{"message": "Hi"},
		})
		require.NoError(t, err)
	}

	stats := env.service.GetQueueStats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.Queued)
	assert.Equal(t, 2, stats.QueueSize)
}

func TestCleanOldStatuses(t *testing.T) {
	env := newTestEnv(t)

	old := &models.DeliveryStatus{
		TaskID:    "old-sent",
		Status:    models.StatusSent,
		Timestamp: time.Now().Add(-60 * 24 * time.Hour),
	}
	env.ledger.Record(old)
	env.ledger.Record(&models.DeliveryStatus{
		TaskID:    "fresh-sent",
		Status:    models.StatusSent,
		Timestamp: time.Now(),
	})

	removed := env.service.CleanOldStatuses(30)
	assert.Equal(t, 1, removed)
	assert.Nil(t, env.ledger.Get("old-sent"))
	assert.NotNil(t, env.ledger.Get("fresh-sent"))
}

func TestEnqueueFromRequest(t *testing.T) {
	env := newTestEnv(t)

	taskID, err := env.service.EnqueueFromRequest([]byte(`{
		"recipient": "alice@example.com",
		"template": "notification",
		"subject": "Hello",
		"priority": 0,
		"batch_id": "batch-1",
		"context": {"message": "From the CLI"}
	}`))
	require.NoError(t, err)

	status := env.ledger.Get(taskID)
	require.NotNil(t, status)
	assert.Equal(t, "Hello", status.Subject)
	assert.Equal(t, "batch-1", status.BatchID)
	assert.Equal(t, models.PriorityHigh, status.Priority)
}

func TestEnqueueFromRequestRejectsBadDocument(t *testing.T) {
	env := newTestEnv(t)

	cases := []string{
		`{"template": "notification"}`,
		`{"recipient": "not-an-email", "template": "notification"}`,
		`{"recipient": "a@b.co", "template": "notification", "priority": 9}`,
		`{"recipient": "a@b.co", "template": "notification", "bogus": true}`,
		`not json`,
	}
	for _, doc := range cases {
		_, err := env.service.EnqueueFromRequest([]byte(doc))
		assert.Error(t, err, "doc: %s", doc)
	}
	assert.Equal(t, 0, env.queue.Size())
}

func TestNewBatchID(t *testing.T) {
	a := NewBatchID("reg")
	b := NewBatchID("reg")
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "reg_")
	assert.Contains(t, NewBatchID(""), "batch_")
}
