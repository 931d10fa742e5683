package notification

import (
	"context"
	"errors"

	"ms-payments/internal/models"
)

var (
	// ErrChannelNotConfigured is returned by a channel constructor when its
	// credentials are missing.
	ErrChannelNotConfigured = errors.New("email channel not configured")
	ErrInvalidMessage       = errors.New("invalid email message")
)

// Channel is one way of delivering an email.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg models.EmailMessage) (models.EmailResult, error)
	// Check verifies the channel can deliver without sending anything.
	Check(ctx context.Context) error
}

// Sender is the "from" identity shared by every channel.
type Sender struct {
	Address string
	Name    string
}
