package transport

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/smtp"
	"strings"
	"syscall"
	"time"

	"event-mailer/internal/common/config"
	"event-mailer/internal/common/errors"
	"event-mailer/internal/common/logger"
	"event-mailer/internal/models"
)

// smtpLocalRetries is the in-transport retry budget for dropped connections.
// It is separate from the worker's attempt counter: a delivery attempt only
// fails upward once this budget is exhausted.
const smtpLocalRetries = 3

// SMTPTransport sends mail over a fresh SMTP connection per message.
// Long-lived connections to shared SMTP providers get dropped server-side,
// so reconnecting every time is cheaper than detecting half-dead sockets.
type SMTPTransport struct {
	cfg     config.SMTPConfig
	timeout time.Duration
	logger  logger.Logger

	// sleep is swappable so tests skip the live backoff.
	sleep func(time.Duration)
}

func NewSMTPTransport(cfg config.SMTPConfig, timeout time.Duration, log logger.Logger) *SMTPTransport {
	if cfg.UseSSL && cfg.UseTLS {
		log.Warn("Both SSL and STARTTLS configured, SSL takes precedence", map[string]interface{}{
			"host": cfg.Host,
			"port": cfg.Port,
		})
	}
	if !cfg.UseSSL && !cfg.UseTLS {
		log.Warn("Neither SSL nor STARTTLS configured, sending in plaintext", map[string]interface{}{
			"host": cfg.Host,
			"port": cfg.Port,
		})
	}
	return &SMTPTransport{
		cfg:     cfg,
		timeout: timeout,
		logger:  log,
		sleep:   time.Sleep,
	}
}

func (t *SMTPTransport) Name() string {
	return "smtp"
}

func (t *SMTPTransport) Send(ctx context.Context, task *models.EmailTask) SendResult {
	start := time.Now()
	result := func(err *errors.StandardError) SendResult {
		return SendResult{Provider: t.Name(), Duration: time.Since(start), Err: err}
	}

	msg, err := BuildMessage(task, t.cfg.DefaultFrom, t.domain(), t.logger)
	if err != nil {
		return result(errors.NewSendFailedError(err))
	}

	for attempt := 1; attempt <= smtpLocalRetries; attempt++ {
		err := t.deliver(ctx, task.Recipient, msg)
		if err == nil {
			return result(nil)
		}

		var stdErr *errors.StandardError
		if stderrors.As(err, &stdErr) {
			return result(stdErr)
		}
		if !isDisconnect(err) {
			return result(errors.NewSendFailedError(err))
		}
		if attempt == smtpLocalRetries {
			t.logger.Error("SMTP server disconnected, retries exhausted", map[string]interface{}{
				"task_id":  task.TaskID,
				"attempts": attempt,
				"error":    err.Error(),
			})
			return result(errors.NewSMTPDisconnectedError(attempt, err))
		}

		wait := time.Duration(1<<uint(attempt))*time.Second +
			time.Duration(rand.Float64()*float64(time.Second))
		t.logger.Warn("SMTP connection closed, retrying", map[string]interface{}{
			"task_id": task.TaskID,
			"wait":    wait.String(),
		})
		t.sleep(wait)
	}

	// Unreachable, the loop always returns.
	return result(errors.NewInternalError(fmt.Errorf("smtp retry loop fell through")))
}

// deliver performs one complete SMTP conversation. Connection and auth
// failures come back as StandardError; wire errors come back raw so the
// caller can classify disconnects.
func (t *SMTPTransport) deliver(ctx context.Context, recipient string, msg []byte) error {
	addr := fmt.Sprintf("%s:%d", t.cfg.Host, t.cfg.Port)

	dialer := net.Dialer{Timeout: t.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return errors.NewSMTPConnectionFailedError(err)
	}
	// One deadline covers the whole conversation.
	_ = conn.SetDeadline(time.Now().Add(t.timeout))

	if t.cfg.UseSSL {
		conn = tls.Client(conn, &tls.Config{ServerName: t.cfg.Host})
	}

	client, err := smtp.NewClient(conn, t.cfg.Host)
	if err != nil {
		conn.Close()
		return errors.NewSMTPConnectionFailedError(err)
	}
	defer client.Close()

	if !t.cfg.UseSSL && t.cfg.UseTLS {
		if err := client.StartTLS(&tls.Config{ServerName: t.cfg.Host}); err != nil {
			return errors.NewSMTPConnectionFailedError(err)
		}
	}

	if t.cfg.Username != "" {
		auth := smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return errors.NewSMTPAuthFailedError(err)
		}
	}

	if err := client.Mail(senderAddress(t.cfg.DefaultFrom)); err != nil {
		return err
	}
	if err := client.Rcpt(recipient); err != nil {
		return err
	}

	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	return client.Quit()
}

func (t *SMTPTransport) domain() string {
	if t.cfg.Domain != "" {
		return t.cfg.Domain
	}
	return SenderDomain(t.cfg.DefaultFrom)
}

// senderAddress strips a display name down to the bare address for the
// SMTP envelope.
func senderAddress(from string) string {
	if i := strings.LastIndex(from, "<"); i >= 0 {
		return strings.TrimSuffix(from[i+1:], ">")
	}
	return from
}

// isDisconnect reports whether an error looks like the server dropped the
// connection mid-conversation, which is worth an immediate local retry.
func isDisconnect(err error) bool {
	if stderrors.Is(err, io.EOF) ||
		stderrors.Is(err, net.ErrClosed) ||
		stderrors.Is(err, syscall.ECONNRESET) ||
		stderrors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr)
}
