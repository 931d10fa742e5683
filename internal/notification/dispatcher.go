package notification

import (
	"context"
	"fmt"
	"strings"

	"ms-payments/internal/config"
	"ms-payments/internal/logger"
	"ms-payments/internal/models"
)

// ChannelFactory builds a primary channel from the email configuration.
type ChannelFactory func(ctx context.Context, cfg config.EmailConfig) (Channel, error)

var factories = map[string]ChannelFactory{
	config.EmailProviderSMTP: func(ctx context.Context, cfg config.EmailConfig) (Channel, error) {
		return NewSMTPChannel(cfg), nil
	},
	config.EmailProviderSendGrid: func(ctx context.Context, cfg config.EmailConfig) (Channel, error) {
		return NewSendGridChannel(cfg)
	},
	config.EmailProviderSES: func(ctx context.Context, cfg config.EmailConfig) (Channel, error) {
		return NewSESChannel(ctx, cfg)
	},
}

// Dispatcher sends email through the configured primary channel and retries
// once through SMTP when the primary is something else. The active channel is
// fixed at construction.
type Dispatcher struct {
	active   Channel
	fallback Channel
	sender   Sender
	log      *logger.Logger
}

// NewDispatcher selects the primary channel named by cfg.Provider. A primary
// that cannot be built is replaced by SMTP for the life of the process.
func NewDispatcher(ctx context.Context, cfg config.EmailConfig, log *logger.Logger) *Dispatcher {
	smtp := NewSMTPChannel(cfg)
	sender := Sender{Address: cfg.From, Name: cfg.FromName}

	log.LogEmail(cfg.Provider, "", "Initializing email service")

	if cfg.Provider == config.EmailProviderSMTP {
		return NewDispatcherWithChannels(smtp, smtp, sender, log)
	}

	factory, ok := factories[cfg.Provider]
	if !ok {
		log.Warn("EMAIL", fmt.Sprintf("Unknown email provider %q, using smtp", cfg.Provider))
		return NewDispatcherWithChannels(smtp, smtp, sender, log)
	}

	primary, err := factory(ctx, cfg)
	if err != nil {
		log.Error("EMAIL", fmt.Sprintf("%s initialization failed: %v", cfg.Provider, err))
		log.Warn("EMAIL", "Falling back to SMTP")
		return NewDispatcherWithChannels(smtp, smtp, sender, log)
	}

	log.LogEmail(primary.Name(), "", "Email channel initialized")
	return NewDispatcherWithChannels(primary, smtp, sender, log)
}

func NewDispatcherWithChannels(primary, fallback Channel, sender Sender, log *logger.Logger) *Dispatcher {
	return &Dispatcher{active: primary, fallback: fallback, sender: sender, log: log}
}

// Provider names the active channel.
func (d *Dispatcher) Provider() string {
	return d.active.Name()
}

// SendEmail makes at most two attempts. When both fail the primary's error is
// returned and the fallback's is only logged.
func (d *Dispatcher) SendEmail(ctx context.Context, msg models.EmailMessage) (models.EmailResult, error) {
	if strings.TrimSpace(msg.To) == "" {
		return models.EmailResult{}, fmt.Errorf("%w: recipient is required", ErrInvalidMessage)
	}
	if msg.Text == "" {
		msg.Text = stripHTML(msg.HTML)
	}

	result, err := d.active.Send(ctx, msg)
	if err == nil {
		d.log.LogEmail(result.Provider, msg.To, "Email sent")
		return result, nil
	}

	d.log.Error("EMAIL", fmt.Sprintf("Email failed via %s: %v", d.active.Name(), err))
	if d.active.Name() == config.EmailProviderSMTP || d.fallback == nil {
		return models.EmailResult{}, err
	}

	d.log.Warn("EMAIL", "Attempting fallback to SMTP")
	fallbackResult, fallbackErr := d.fallback.Send(ctx, msg)
	if fallbackErr != nil {
		d.log.ErrorWithData("EMAIL", "SMTP fallback also failed", map[string]string{
			"primary":  err.Error(),
			"fallback": fallbackErr.Error(),
		})
		return models.EmailResult{}, err
	}

	d.log.LogEmail(fallbackResult.Provider, msg.To, "Email sent via SMTP fallback")
	return fallbackResult, nil
}

func (d *Dispatcher) TestConnection(ctx context.Context) models.ConnectionStatus {
	name := d.active.Name()
	if err := d.active.Check(ctx); err != nil {
		return models.ConnectionStatus{Success: false, Provider: name, Error: err.Error()}
	}

	message := fmt.Sprintf("%s configured", name)
	if name == config.EmailProviderSMTP {
		message = "SMTP connection successful"
	}
	return models.ConnectionStatus{Success: true, Provider: name, Message: message}
}

func (d *Dispatcher) SendOTPEmail(ctx context.Context, to, firstName, otpCode string, expiryMinutes int) (models.EmailResult, error) {
	if expiryMinutes <= 0 {
		expiryMinutes = 10
	}
	html, err := renderOTP(otpData{
		FirstName:     firstName,
		Code:          otpCode,
		ExpiryMinutes: expiryMinutes,
		Brand:         d.sender.Name,
		SupportEmail:  d.sender.Address,
	})
	if err != nil {
		return models.EmailResult{}, err
	}
	return d.SendEmail(ctx, models.EmailMessage{
		To:      to,
		Subject: "Verify Your Email - OTP Code",
		HTML:    html,
	})
}
