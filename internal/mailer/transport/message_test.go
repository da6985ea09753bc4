package transport

import (
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"event-mailer/internal/common/logger"
	"event-mailer/internal/models"
)

func testTask() *models.EmailTask {
	return &models.EmailTask{
		TaskID:    "notification_1700000000_alice",
		Recipient: "alice@example.com",
		Subject:   "Session reminder",
		HTMLBody:  "<p>Your session starts soon.</p>",
		TextBody:  "Your session starts soon.",
		Priority:  models.PriorityNormal,
	}
}

func TestBuildMessageHeaders(t *testing.T) {
	msg, err := BuildMessage(testTask(), "Events <events@example.com>", "example.com", logger.NewNoOpLogger())
	require.NoError(t, err)

	s := string(msg)
	assert.Contains(t, s, "From: Events <events@example.com>\r\n")
	assert.Contains(t, s, "To: alice@example.com\r\n")
	assert.Contains(t, s, "Message-ID: <notification_1700000000_alice@example.com>\r\n")
	assert.Contains(t, s, "X-Mailer: "+mailerName+"\r\n")
	assert.Contains(t, s, "X-Priority: 3\r\n")
	assert.Contains(t, s, "Importance: Normal\r\n")
	assert.Contains(t, s, "Date: ")
	assert.Contains(t, s, "Content-Type: multipart/alternative;")
}

func TestBuildMessageTextBeforeHTML(t *testing.T) {
	msg, err := BuildMessage(testTask(), "events@example.com", "example.com", logger.NewNoOpLogger())
	require.NoError(t, err)

	s := string(msg)
	textIdx := strings.Index(s, "text/plain")
	htmlIdx := strings.Index(s, "text/html")
	require.GreaterOrEqual(t, textIdx, 0)
	require.GreaterOrEqual(t, htmlIdx, 0)
	assert.Less(t, textIdx, htmlIdx)
}

func TestBuildMessageWithAttachment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "badge.png")
	require.NoError(t, os.WriteFile(path, []byte("not really a png"), 0o644))

	task := testTask()
	task.Attachments = []models.Attachment{{Path: path, Filename: "badge.png"}}

	msg, err := BuildMessage(task, "events@example.com", "example.com", logger.NewNoOpLogger())
	require.NoError(t, err)

	s := string(msg)
	assert.Contains(t, s, "Content-Type: multipart/mixed;")
	assert.Contains(t, s, "multipart/alternative;")
	assert.Contains(t, s, `Content-Disposition: attachment; filename="badge.png"`)
	assert.Contains(t, s, "Content-Transfer-Encoding: base64")
	assert.Contains(t, s, "image/png")
}

func TestBuildMessageSkipsMissingAttachment(t *testing.T) {
	task := testTask()
	task.Attachments = []models.Attachment{
		{Path: "/nonexistent/badge.png", Filename: "badge.png"},
	}

	msg, err := BuildMessage(task, "events@example.com", "example.com", logger.NewNoOpLogger())
	require.NoError(t, err)

	s := string(msg)
	assert.NotContains(t, s, "Content-Disposition: attachment")
	assert.Contains(t, s, "Your session starts soon.")
}

func TestSenderDomain(t *testing.T) {
	tests := []struct {
		from string
		want string
	}{
		{"events@example.com", "example.com"},
		{"Events <events@mail.example.com>", "mail.example.com"},
		{"no-at-sign", "localhost"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SenderDomain(tt.from), "from=%s", tt.from)
	}
}

func TestIsDisconnect(t *testing.T) {
	assert.True(t, isDisconnect(io.EOF))
	assert.True(t, isDisconnect(net.ErrClosed))
	assert.True(t, isDisconnect(&net.OpError{Op: "read", Err: io.EOF}))
	assert.False(t, isDisconnect(os.ErrPermission))
}
