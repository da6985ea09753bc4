// Package notify is the enqueue-side API of the mail engine. Callers hand it
// a recipient, a template name, and context; it renders the bodies, records
// the ledger entry, and queues the task for the delivery worker. Every
// operation returns as soon as the task is queued.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"event-mailer/internal/common/config"
	"event-mailer/internal/common/errors"
	"event-mailer/internal/common/logger"
	"event-mailer/internal/common/metrics"
	"event-mailer/internal/common/validation"
	"event-mailer/internal/mailer/ledger"
	"event-mailer/internal/mailer/queue"
	"event-mailer/internal/mailer/render"
	"event-mailer/internal/models"
)

// Service wires the enqueue path together. Construct one per process and
// share it; all methods are safe for concurrent use.
type Service struct {
	queue       *queue.PriorityQueue
	ledger      *ledger.Ledger
	renderer    *render.Renderer
	logger      logger.Logger
	site        config.SiteConfig
	maxAttempts int

	now func() time.Time
}

func NewService(q *queue.PriorityQueue, l *ledger.Ledger, r *render.Renderer, site config.SiteConfig, maxAttempts int, log logger.Logger) *Service {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Service{
		queue:       q,
		ledger:      l,
		renderer:    r,
		logger:      log,
		site:        site,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// NotificationRequest describes one email to enqueue. Zero values get
// derived defaults: batch `single_{template}_{ts}`, group
// `notification_{template}`, priority normal.
type NotificationRequest struct {
	Recipient   string
	Template    string
	Subject     string
	Priority    models.Priority
	BatchID     string
	GroupID     string
	Context     map[string]interface{}
	Attachments []models.Attachment
}

// EnqueueNotification renders and queues one templated email, returning the
// task id. Render failures are recorded as a failed ledger entry for the
// allocated id and returned synchronously; nothing reaches the queue.
func (s *Service) EnqueueNotification(req NotificationRequest) (string, error) {
	if !validation.ValidateEmail(req.Recipient) {
		return "", errors.NewInvalidRecipientError(req.Recipient)
	}

	ts := s.now().Unix()
	taskID := fmt.Sprintf("%s_%d_%s", req.Template, ts, localPart(req.Recipient))

	batchID := req.BatchID
	if batchID == "" {
		batchID = fmt.Sprintf("single_%s_%d", req.Template, ts)
	}
	groupID := req.GroupID
	if groupID == "" {
		groupID = "notification_" + req.Template
	}

	ctx := s.baseContext(req.Recipient, taskID, batchID)
	ctx["template_type"] = req.Template
	for k, v := range req.Context {
		ctx[k] = v
	}

	subject := req.Subject
	if subject == "" {
		if fromCtx, ok := ctx["email_subject"].(string); ok && fromCtx != "" {
			subject = fromCtx
		} else {
			subject = "Notification from " + s.site.Name
		}
	}

	task := &models.EmailTask{
		TaskID:      taskID,
		Recipient:   req.Recipient,
		Subject:     subject,
		Attachments: req.Attachments,
		GroupID:     groupID,
		BatchID:     batchID,
	}

	html, text, err := s.renderer.Render(req.Template, ctx)
	if err != nil {
		status := models.NewDeliveryStatus(task, s.maxAttempts)
		status.Status = models.StatusFailed
		status.Error = err.Error()
		status.Priority = req.Priority
		s.ledger.Record(status)
		s.logger.Error("Failed to queue notification", map[string]interface{}{
			"task_id":  taskID,
			"template": req.Template,
			"error":    err.Error(),
		})
		return "", err
	}
	task.HTMLBody = html
	task.TextBody = text

	s.enqueue(task, req.Priority)
	s.logger.Info("Notification queued", map[string]interface{}{
		"task_id":   taskID,
		"recipient": req.Recipient,
		"template":  req.Template,
	})
	return taskID, nil
}

// SendQRCode queues the badge email for a participant, attaching their QR
// PNG. A missing QR file is a synchronous error: generate the badge first.
func (s *Service) SendQRCode(recipient string, participant *models.Participant, priority models.Priority, batchID string) (string, error) {
	if !validation.ValidateEmail(recipient) {
		return "", errors.NewInvalidRecipientError(recipient)
	}
	if participant.QRCodePath == "" {
		return "", errors.NewAttachmentNotFoundError("(no QR code generated)")
	}
	if _, err := os.Stat(participant.QRCodePath); err != nil {
		return "", errors.NewAttachmentNotFoundError(participant.QRCodePath)
	}

	ts := s.now().Unix()
	taskID := fmt.Sprintf("qrcode_%s_%d", participant.UniqueID, ts)
	groupID := "group_" + string(participant.Category)

	ctx := s.baseContext(recipient, taskID, batchID)
	ctx["template_type"] = "qrcode"
	ctx["full_name"] = participant.FullName
	ctx["unique_id"] = participant.UniqueID
	ctx["category"] = string(participant.Category)

	html, text, err := s.renderer.Render("qrcode", ctx)
	if err != nil {
		return "", err
	}

	task := &models.EmailTask{
		TaskID:    taskID,
		Recipient: recipient,
		Subject:   "Your check-in badge for " + s.site.EventName,
		HTMLBody:  html,
		TextBody:  text,
		GroupID:   groupID,
		BatchID:   batchID,
		Attachments: []models.Attachment{{
			Path:     participant.QRCodePath,
			Filename: fmt.Sprintf("qrcode-%s.png", participant.UniqueID),
		}},
	}

	s.enqueue(task, priority)
	s.logger.Info("QR code email queued", map[string]interface{}{
		"task_id":   taskID,
		"recipient": recipient,
		"unique_id": participant.UniqueID,
	})
	return taskID, nil
}

// TestEmailResult reports the outcome of a diagnostic send. Queue-side
// failures come back in the struct, not as an error, so operators get a
// uniform report either way.
type TestEmailResult struct {
	Success   bool            `json:"success"`
	TaskID    string          `json:"task_id,omitempty"`
	BatchID   string          `json:"batch_id,omitempty"`
	Recipient string          `json:"recipient"`
	Template  string          `json:"template"`
	Subject   string          `json:"subject,omitempty"`
	Priority  models.Priority `json:"priority"`
	Message   string          `json:"message"`
}

// SendTestEmail queues a diagnostic email, defaulting to high priority and
// the "test" group.
func (s *Service) SendTestEmail(recipient, template, subject, message string, priority models.Priority, batchID string) TestEmailResult {
	ts := s.now().Unix()
	taskID := fmt.Sprintf("test_%s_%d", template, ts)
	if batchID == "" {
		batchID = fmt.Sprintf("test_batch_%d", ts)
	}
	if subject == "" {
		subject = "[TEST] Email Service Test"
	}
	if message == "" {
		message = "This is a test email from the delivery engine."
	}

	result := TestEmailResult{
		TaskID:    taskID,
		BatchID:   batchID,
		Recipient: recipient,
		Template:  template,
		Subject:   subject,
		Priority:  priority,
	}

	if !validation.ValidateEmail(recipient) {
		result.TaskID = ""
		result.Message = "invalid recipient address: " + recipient
		return result
	}

	ctx := s.baseContext(recipient, taskID, batchID)
	ctx["template_type"] = template
	ctx["message"] = message
	ctx["priority"] = priority.String()

	task := &models.EmailTask{
		TaskID:    taskID,
		Recipient: recipient,
		Subject:   subject,
		GroupID:   "test",
		BatchID:   batchID,
	}

	html, text, err := s.renderer.Render(template, ctx)
	if err != nil {
		status := models.NewDeliveryStatus(task, s.maxAttempts)
		status.Status = models.StatusFailed
		status.Error = err.Error()
		s.ledger.Record(status)
		result.Message = "failed to queue test email: " + err.Error()
		return result
	}
	task.HTMLBody = html
	task.TextBody = text

	s.enqueue(task, priority)
	s.logger.Info("Test email queued", map[string]interface{}{
		"task_id":   taskID,
		"recipient": recipient,
		"template":  template,
	})

	result.Success = true
	result.Message = "Test email queued successfully for " + recipient
	return result
}

// Cancel stops a task that has not been picked up yet. It returns false once
// the worker owns the task; in-flight sends are never aborted.
func (s *Service) Cancel(taskID string) bool {
	if s.queue.Cancel(taskID) {
		s.markCancelled(taskID)
		return true
	}

	// Not in the queue anymore; a still-queued ledger entry means the task
	// payload was lost (restart) and can be safely closed out.
	cancelled := false
	s.ledger.Update(taskID, func(st *models.DeliveryStatus) {
		if st.Status == models.StatusQueued {
			st.Status = models.StatusCancelled
			cancelled = true
		}
	})
	if cancelled {
		metrics.EmailsCancelled.WithLabelValues("").Inc()
	}
	return cancelled
}

func (s *Service) markCancelled(taskID string) {
	group := ""
	s.ledger.Update(taskID, func(st *models.DeliveryStatus) {
		st.Status = models.StatusCancelled
		group = st.GroupID
	})
	metrics.EmailsCancelled.WithLabelValues(group).Inc()
}

// RetryFailed resets a failed ledger entry to queued with zero attempts.
// Status-only: the task payload is not retained after delivery, so the entry
// becomes eligible again but nothing is physically re-queued. Kept for
// operator tooling parity; a real resend goes through EnqueueNotification.
func (s *Service) RetryFailed(taskID string) bool {
	reset := false
	s.ledger.Update(taskID, func(st *models.DeliveryStatus) {
		if st.Status == models.StatusFailed {
			st.Status = models.StatusQueued
			st.Attempts = 0
			st.Error = ""
			reset = true
		}
	})
	return reset
}

// GetStatus returns the delivery record for a task id, or nil.
func (s *Service) GetStatus(taskID string) *models.DeliveryStatus {
	return s.ledger.Get(taskID)
}

// GroupedStatus is the per-batch or per-group status report.
type GroupedStatus struct {
	ID    string                            `json:"id"`
	Total int                               `json:"total"`
	Tasks map[string]*models.DeliveryStatus `json:"tasks"`
}

func (s *Service) GetBatchStatus(batchID string) *GroupedStatus {
	if batchID == "" {
		return nil
	}
	return groupedFrom(batchID, s.ledger.QueryByBatch(batchID))
}

func (s *Service) GetGroupStatus(groupID string) *GroupedStatus {
	if groupID == "" {
		return nil
	}
	return groupedFrom(groupID, s.ledger.QueryByGroup(groupID))
}

func groupedFrom(id string, entries []*models.DeliveryStatus) *GroupedStatus {
	tasks := make(map[string]*models.DeliveryStatus, len(entries))
	for _, e := range entries {
		tasks[e.TaskID] = e
	}
	return &GroupedStatus{ID: id, Total: len(tasks), Tasks: tasks}
}

// GetQueueStats returns aggregate delivery counts plus the live queue depth.
func (s *Service) GetQueueStats() ledger.Stats {
	stats := s.ledger.Stats()
	stats.QueueSize = s.queue.Size()
	return stats
}

// CleanOldStatuses prunes terminal sent/cancelled entries older than the
// given number of days and snapshots the survivors.
func (s *Service) CleanOldStatuses(days int) int {
	removed := s.ledger.Prune(time.Duration(days) * 24 * time.Hour)
	if err := s.ledger.Snapshot(context.Background()); err != nil {
		s.logger.Warn("Snapshot after prune failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	s.logger.Info("Pruned old email statuses", map[string]interface{}{
		"removed": removed,
		"days":    days,
	})
	return removed
}

// EnqueueFromRequest validates a JSON enqueue document against the request
// schema and queues it. This is the entry point for operator tooling.
func (s *Service) EnqueueFromRequest(data []byte) (string, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("invalid request document: %w", err)
	}
	if err := validation.ValidateNotificationRequest(doc); err != nil {
		return "", err
	}

	req := NotificationRequest{
		Recipient: stringField(doc, "recipient"),
		Template:  stringField(doc, "template"),
		Subject:   stringField(doc, "subject"),
		BatchID:   stringField(doc, "batch_id"),
		GroupID:   stringField(doc, "group_id"),
	}
	if p, ok := doc["priority"].(float64); ok {
		req.Priority = models.Priority(int(p))
	}
	if ctx, ok := doc["context"].(map[string]interface{}); ok {
		req.Context = ctx
	}
	if atts, ok := doc["attachments"].([]interface{}); ok {
		for _, a := range atts {
			att, ok := a.(map[string]interface{})
			if !ok {
				continue
			}
			req.Attachments = append(req.Attachments, models.Attachment{
				Path:     stringField(att, "path"),
				Filename: stringField(att, "filename"),
			})
		}
	}

	return s.EnqueueNotification(req)
}

// NewBatchID returns a unique batch id with the given prefix.
func NewBatchID(prefix string) string {
	if prefix == "" {
		prefix = "batch"
	}
	return prefix + "_" + uuid.NewString()
}

func (s *Service) enqueue(task *models.EmailTask, priority models.Priority) {
	status := models.NewDeliveryStatus(task, s.maxAttempts)
	status.Priority = priority
	s.ledger.Record(status)
	s.queue.Enqueue(task, priority)
	metrics.EmailsQueued.WithLabelValues(task.GroupID).Inc()
}

// baseContext is merged under every template context; caller-provided keys
// win on conflict.
func (s *Service) baseContext(recipient, taskID, batchID string) map[string]interface{} {
	return map[string]interface{}{
		"recipient_email": recipient,
		"task_id":         taskID,
		"batch_id":        batchID,
		"timestamp":       s.now().Format(time.RFC1123),
		"site_name":       s.site.Name,
		"support_email":   s.site.SupportEmail,
		"base_url":        s.site.BaseURL,
		"event_name":      s.site.EventName,
	}
}

func localPart(email string) string {
	if i := strings.Index(email, "@"); i > 0 {
		return email[:i]
	}
	return email
}

func stringField(doc map[string]interface{}, key string) string {
	if v, ok := doc[key].(string); ok {
		return v
	}
	return ""
}
