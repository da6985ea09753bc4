// Package errors provides standardized error handling for the mail engine.
package errors

import (
	"fmt"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeMailConfigInvalid ErrorCode = "MAIL_CONFIG_INVALID"

	ErrCodeSMTPConnectionFailed ErrorCode = "SMTP_CONNECTION_FAILED"
	ErrCodeSMTPAuthFailed       ErrorCode = "SMTP_AUTH_FAILED"
	ErrCodeSMTPDisconnected     ErrorCode = "SMTP_DISCONNECTED"
	ErrCodeSendFailed           ErrorCode = "SEND_FAILED"
	ErrCodeSendTimeout          ErrorCode = "SEND_TIMEOUT"

	ErrCodeTemplateNotFound     ErrorCode = "TEMPLATE_NOT_FOUND"
	ErrCodeTemplateRenderFailed ErrorCode = "TEMPLATE_RENDER_FAILED"

	ErrCodeAttachmentNotFound ErrorCode = "ATTACHMENT_NOT_FOUND"
	ErrCodeInvalidRecipient   ErrorCode = "INVALID_RECIPIENT"
	ErrCodeTaskNotFound       ErrorCode = "TASK_NOT_FOUND"

	ErrCodeSnapshotFailed ErrorCode = "SNAPSHOT_FAILED"
	ErrCodeRestoreFailed  ErrorCode = "RESTORE_FAILED"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error. Retryable tells the
// delivery worker whether re-queueing the task can possibly succeed.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. Error Constructors
// ==========================

// NewMailConfigInvalidError creates a fatal configuration error. The engine
// must refuse to initialize rather than silently drop mail later.
func NewMailConfigInvalidError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeMailConfigInvalid,
		Message:   "Mail configuration is invalid or incomplete",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSMTPConnectionFailedError creates a retryable connection error.
func NewSMTPConnectionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSMTPConnectionFailed,
		Message:   "Failed to connect to SMTP server",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSMTPAuthFailedError creates a retryable authentication error.
func NewSMTPAuthFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSMTPAuthFailed,
		Message:   "SMTP authentication failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSMTPDisconnectedError creates a retryable error for a connection the
// relay dropped after the transport exhausted its local reconnect budget.
func NewSMTPDisconnectedError(attempts int, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSMTPDisconnected,
		Message:   "SMTP server disconnected",
		Details:   err.Error(),
		Retryable: true,
		Metadata:  map[string]interface{}{"localAttempts": attempts},
		Timestamp: time.Now().UTC(),
	}
}

// NewSendFailedError creates a retryable generic delivery error.
func NewSendFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSendFailed,
		Message:   "Failed to send email",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSendTimeoutError creates a retryable timeout error.
func NewSendTimeoutError(timeout time.Duration) *StandardError {
	return &StandardError{
		Code:      ErrCodeSendTimeout,
		Message:   "Email send timed out",
		Details:   fmt.Sprintf("timeout: %s", timeout),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewTemplateNotFoundError creates a non-retryable template error. Retrying a
// render reproduces the same failure deterministically.
func NewTemplateNotFoundError(template string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTemplateNotFound,
		Message:   "Email template not found",
		Details:   fmt.Sprintf("template: %s", template),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTemplateRenderFailedError creates a non-retryable render error.
func NewTemplateRenderFailedError(template string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTemplateRenderFailed,
		Message:   "Email template rendering failed",
		Details:   fmt.Sprintf("template: %s, error: %s", template, err.Error()),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewAttachmentNotFoundError creates a non-retryable attachment error. The
// transport logs and skips the attachment; the message is still sent.
func NewAttachmentNotFoundError(path string) *StandardError {
	return &StandardError{
		Code:      ErrCodeAttachmentNotFound,
		Message:   "Attachment file not found",
		Details:   fmt.Sprintf("path: %s", path),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidRecipientError creates a non-retryable recipient error.
func NewInvalidRecipientError(recipient string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidRecipient,
		Message:   "Invalid recipient address",
		Details:   fmt.Sprintf("recipient: %s", recipient),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTaskNotFoundError creates a non-retryable lookup error.
func NewTaskNotFoundError(taskID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTaskNotFound,
		Message:   "Email task not found",
		Details:   fmt.Sprintf("taskId: %s", taskID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSnapshotFailedError creates a retryable persistence error. Snapshots are
// best-effort; the next interval retries naturally.
func NewSnapshotFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSnapshotFailed,
		Message:   "Failed to persist status snapshot",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewRestoreFailedError creates a non-retryable restore error.
func NewRestoreFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeRestoreFailed,
		Message:   "Failed to restore status snapshot",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInternalError wraps an unexpected error.
func NewInternalError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Helpers
// ==========================

// Normalize ensures any error is represented as a StandardError.
func Normalize(err error) *StandardError {
	if stdErr, ok := err.(*StandardError); ok {
		return stdErr
	}
	return NewInternalError(err)
}

// IsRetryable reports whether the worker may re-queue the failed task.
// Unknown errors are treated as retryable so a transient fault in an
// unclassified path still gets its attempts.
func IsRetryable(err error) bool {
	if stdErr, ok := err.(*StandardError); ok {
		return stdErr.Retryable
	}
	return true
}
