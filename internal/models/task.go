package models

import "sync/atomic"

// Priority orders email tasks in the queue. Lower values are served first.
type Priority int

const (
	PriorityHigh   Priority = 0
	PriorityNormal Priority = 1
	PriorityLow    Priority = 2
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// Attachment is a file attached to an outgoing email. Path is resolved at
// send time; a missing file is logged and skipped, not fatal to the message.
type Attachment struct {
	Path     string `json:"path"`
	Filename string `json:"filename"`
}

// EmailTask is one unit of outbound email work. Tasks are queue-resident
// only: they are consumed exactly once by the delivery worker and are not
// persisted, so anything still queued at process exit is lost.
type EmailTask struct {
	TaskID      string
	Recipient   string
	Subject     string
	HTMLBody    string
	TextBody    string
	Attachments []Attachment
	Priority    Priority
	GroupID     string
	BatchID     string

	cancelled atomic.Bool
}

// Cancel flags the task so the worker discards it when dequeued.
func (t *EmailTask) Cancel() {
	t.cancelled.Store(true)
}

// IsCancelled reports whether the task was cancelled while queued.
func (t *EmailTask) IsCancelled() bool {
	return t.cancelled.Load()
}
