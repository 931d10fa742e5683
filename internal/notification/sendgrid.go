package notification

import (
	"context"
	"fmt"

	"ms-payments/internal/config"
	"ms-payments/internal/models"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// sendGridClient is satisfied by *sendgrid.Client.
type sendGridClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

type SendGridChannel struct {
	client sendGridClient
	sender Sender
}

func NewSendGridChannel(cfg config.EmailConfig) (*SendGridChannel, error) {
	if cfg.SendGridAPIKey == "" {
		return nil, fmt.Errorf("SENDGRID_API_KEY not set: %w", ErrChannelNotConfigured)
	}
	return &SendGridChannel{
		client: sendgrid.NewSendClient(cfg.SendGridAPIKey),
		sender: Sender{Address: cfg.From, Name: cfg.FromName},
	}, nil
}

func (c *SendGridChannel) Name() string { return config.EmailProviderSendGrid }

func (c *SendGridChannel) Send(ctx context.Context, msg models.EmailMessage) (models.EmailResult, error) {
	email := mail.NewSingleEmail(
		mail.NewEmail(c.sender.Name, c.sender.Address),
		msg.Subject,
		mail.NewEmail("", msg.To),
		msg.Text,
		msg.HTML,
	)

	resp, err := c.client.SendWithContext(ctx, email)
	if err != nil {
		return models.EmailResult{}, fmt.Errorf("sendgrid send failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return models.EmailResult{}, fmt.Errorf("sendgrid send failed: status %d: %s", resp.StatusCode, resp.Body)
	}

	var messageID string
	if ids := resp.Headers["X-Message-Id"]; len(ids) > 0 {
		messageID = ids[0]
	}
	return models.EmailResult{Success: true, Provider: c.Name(), MessageID: messageID}, nil
}

// Check only confirms the API key was supplied.
func (c *SendGridChannel) Check(ctx context.Context) error { return nil }
