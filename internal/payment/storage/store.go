package storage

import (
	"context"
	"errors"
	"time"

	"ms-payments/internal/models"
)

var (
	ErrNotFound = errors.New("payment not found")
	// ErrStaleState is returned by a transition when the record already left pending.
	ErrStaleState = errors.New("payment is no longer pending")
)

type Store interface {
	Create(ctx context.Context, payment *models.PaymentRecord) error
	GetByID(ctx context.Context, id string) (*models.PaymentRecord, error)
	// FindByIdentifier matches the internal id or either gateway reference.
	FindByIdentifier(ctx context.Context, identifier string) (*models.PaymentRecord, error)

	FindExpiredPending(ctx context.Context, now time.Time, timeoutWindow time.Duration) ([]*models.PaymentRecord, error)
	MarkCancelled(ctx context.Context, id, reason string) (*models.PaymentRecord, error)
	MarkFailed(ctx context.Context, id, reason string) (*models.PaymentRecord, error)
	MarkPaid(ctx context.Context, id, gatewayPaymentID string) (*models.PaymentRecord, error)

	StatusBreakdown(ctx context.Context) ([]models.PaymentStatusCount, error)
	ListRecent(ctx context.Context, status models.PaymentStatus, limit int) ([]*models.PaymentRecord, error)
	CountTimeoutCancellations(ctx context.Context) (int, error)

	Close() error
	HealthCheck() error
}
