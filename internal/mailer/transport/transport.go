// Package transport delivers built email tasks over a concrete mail
// provider. Implementations classify their failures into StandardError codes
// so the delivery worker can branch on Retryable instead of inspecting
// provider error strings.
package transport

import (
	"context"
	"time"

	"event-mailer/internal/common/errors"
	"event-mailer/internal/models"
)

// SendResult is the outcome of one delivery attempt. Err is nil on success.
type SendResult struct {
	Provider string
	Duration time.Duration
	Err      *errors.StandardError
}

func (r SendResult) Success() bool {
	return r.Err == nil
}

// Transport sends one fully rendered task. Implementations must be safe for
// reuse across messages but are only ever called from the single delivery
// worker goroutine.
type Transport interface {
	Name() string
	Send(ctx context.Context, task *models.EmailTask) SendResult
}
