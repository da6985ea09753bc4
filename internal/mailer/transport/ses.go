package transport

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"event-mailer/internal/common/config"
	"event-mailer/internal/common/errors"
	"event-mailer/internal/common/logger"
	"event-mailer/internal/models"
)

// sesAPI is the slice of the SES client the transport needs, mockable in
// tests.
type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
	SendRawEmail(ctx context.Context, params *ses.SendRawEmailInput, optFns ...func(*ses.Options)) (*ses.SendRawEmailOutput, error)
}

// SESTransport sends mail through AWS SES. Plain messages use the structured
// SendEmail API; messages with attachments fall back to a raw MIME send.
type SESTransport struct {
	client sesAPI
	cfg    config.SESConfig
	logger logger.Logger
}

func NewSESTransport(ctx context.Context, cfg config.SESConfig, log logger.Logger) (*SESTransport, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, errors.NewMailConfigInvalidError("failed to load AWS config: " + err.Error())
	}
	return &SESTransport{
		client: ses.NewFromConfig(awsCfg),
		cfg:    cfg,
		logger: log,
	}, nil
}

func (t *SESTransport) Name() string {
	return "ses"
}

func (t *SESTransport) Send(ctx context.Context, task *models.EmailTask) SendResult {
	start := time.Now()
	result := func(err *errors.StandardError) SendResult {
		return SendResult{Provider: t.Name(), Duration: time.Since(start), Err: err}
	}

	if len(task.Attachments) > 0 {
		msg, err := BuildMessage(task, t.cfg.FromEmail, SenderDomain(t.cfg.FromEmail), t.logger)
		if err != nil {
			return result(errors.NewSendFailedError(err))
		}
		_, err = t.client.SendRawEmail(ctx, &ses.SendRawEmailInput{
			RawMessage:   &types.RawMessage{Data: msg},
			Source:       aws.String(t.cfg.FromEmail),
			Destinations: []string{task.Recipient},
		})
		if err != nil {
			return result(errors.NewSendFailedError(err))
		}
		return result(nil)
	}

	_, err := t.client.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{task.Recipient},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(task.Subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(task.TextBody)},
				Html: &types.Content{Data: aws.String(task.HTMLBody)},
			},
		},
		Source: aws.String(t.cfg.FromEmail),
	})
	if err != nil {
		return result(errors.NewSendFailedError(err))
	}
	return result(nil)
}
