package models

import "time"

// Delivery lifecycle states. Transitions are monotonic along
// queued -> sending -> {sent | failed | cancelled}; a retried task re-enters
// a fresh sending cycle after being physically re-queued.
const (
	StatusQueued    = "queued"
	StatusSending   = "sending"
	StatusSent      = "sent"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// DeliveryStatus tracks the lifecycle of one email task, independent of
// queue membership. One entry exists per task id for the life of the process
// and across restarts via the ledger snapshot.
type DeliveryStatus struct {
	TaskID      string     `json:"task_id"`
	Recipient   string     `json:"recipient"`
	Subject     string     `json:"subject"`
	GroupID     string     `json:"group_id,omitempty"`
	BatchID     string     `json:"batch_id,omitempty"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	Timestamp   time.Time  `json:"timestamp"`
	LastAttempt *time.Time `json:"last_attempt"`
	SentTime    *time.Time `json:"sent_time"`
	Error       string     `json:"error,omitempty"`
	Priority    Priority   `json:"priority"`
}

// NewDeliveryStatus creates a queued status entry for a freshly built task.
func NewDeliveryStatus(task *EmailTask, maxAttempts int) *DeliveryStatus {
	return &DeliveryStatus{
		TaskID:      task.TaskID,
		Recipient:   task.Recipient,
		Subject:     task.Subject,
		GroupID:     task.GroupID,
		BatchID:     task.BatchID,
		Status:      StatusQueued,
		MaxAttempts: maxAttempts,
		Timestamp:   time.Now(),
		Priority:    task.Priority,
	}
}

// IsTerminal reports whether no further transitions occur. A failed entry is
// terminal only once its attempts are exhausted.
func (s *DeliveryStatus) IsTerminal() bool {
	switch s.Status {
	case StatusSent, StatusCancelled:
		return true
	case StatusFailed:
		return s.Attempts >= s.MaxAttempts
	}
	return false
}

// Clone returns a copy so callers can hand out status records without
// exposing the ledger's mutable entry.
func (s *DeliveryStatus) Clone() *DeliveryStatus {
	c := *s
	if s.LastAttempt != nil {
		t := *s.LastAttempt
		c.LastAttempt = &t
	}
	if s.SentTime != nil {
		t := *s.SentTime
		c.SentTime = &t
	}
	return &c
}
