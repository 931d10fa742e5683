package notification

import (
	"context"
	"fmt"
	"strings"

	"ms-payments/internal/config"
	"ms-payments/internal/models"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

// smtpDialer is satisfied by *gomail.Dialer.
type smtpDialer interface {
	Dial() (gomail.SendCloser, error)
	DialAndSend(m ...*gomail.Message) error
}

type SMTPChannel struct {
	dialer smtpDialer
	sender Sender
	host   string
}

func NewSMTPChannel(cfg config.EmailConfig) *SMTPChannel {
	// gomail switches to implicit TLS on port 465
	dialer := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)
	return newSMTPChannel(dialer, Sender{Address: cfg.From, Name: cfg.FromName}, cfg.SMTPHost)
}

func newSMTPChannel(dialer smtpDialer, sender Sender, host string) *SMTPChannel {
	return &SMTPChannel{dialer: dialer, sender: sender, host: host}
}

func (c *SMTPChannel) Name() string { return config.EmailProviderSMTP }

func (c *SMTPChannel) Send(ctx context.Context, msg models.EmailMessage) (models.EmailResult, error) {
	if err := ctx.Err(); err != nil {
		return models.EmailResult{}, err
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), senderDomain(c.sender.Address, c.host))

	m := gomail.NewMessage()
	m.SetHeader("From", m.FormatAddress(c.sender.Address, c.sender.Name))
	m.SetHeader("To", msg.To)
	m.SetHeader("Reply-To", c.sender.Address)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", messageID)
	m.SetBody("text/plain", msg.Text)
	m.AddAlternative("text/html", msg.HTML)

	if err := c.dialer.DialAndSend(m); err != nil {
		return models.EmailResult{}, fmt.Errorf("smtp send failed: %w", err)
	}
	return models.EmailResult{Success: true, Provider: c.Name(), MessageID: messageID}, nil
}

// Check performs a real handshake (connect, TLS, auth) and hangs up.
func (c *SMTPChannel) Check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	conn, err := c.dialer.Dial()
	if err != nil {
		return fmt.Errorf("smtp connection failed: %w", err)
	}
	return conn.Close()
}

func senderDomain(address, fallback string) string {
	if at := strings.LastIndex(address, "@"); at >= 0 && at < len(address)-1 {
		return address[at+1:]
	}
	if fallback != "" {
		return fallback
	}
	return "localhost"
}
