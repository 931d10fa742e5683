package models

import (
	"time"

	"github.com/uptrace/bun"
)

type PaymentStatus string

const (
	StatusPending   PaymentStatus = "pending"
	StatusPaid      PaymentStatus = "paid"
	StatusFailed    PaymentStatus = "failed"
	StatusCancelled PaymentStatus = "cancelled"
	StatusRefunded  PaymentStatus = "refunded"
)

// TimeoutReason is the failure reason written when a pending payment outlives the gateway session.
const TimeoutReason = "Payment timeout - exceeded gateway session limit"

func (s PaymentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusFailed, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// PaymentRecord is one payment attempt against the gateway. GatewayOrderID is
// always set; GatewayPaymentID only once the gateway has attempted settlement.
type PaymentRecord struct {
	bun.BaseModel `bun:"table:payment_records"`

	ID               string        `json:"id" bun:"id,pk"`
	GatewayOrderID   string        `json:"gateway_order_id" bun:"gateway_order_id,notnull"`
	GatewayPaymentID string        `json:"gateway_payment_id,omitempty" bun:"gateway_payment_id,nullzero"`
	Status           PaymentStatus `json:"status" bun:"status,notnull"`
	Amount           float64       `json:"amount" bun:"amount,notnull"`
	Currency         string        `json:"currency" bun:"currency,notnull"`
	Description      string        `json:"description,omitempty" bun:"description,nullzero"`
	FailureReason    string        `json:"failure_reason,omitempty" bun:"failure_reason,nullzero"`
	CreatedAt        time.Time     `json:"created_at" bun:"created_at,notnull"`
	ExpiresAt        *time.Time    `json:"expires_at,omitempty" bun:"expires_at"`
	UpdatedAt        time.Time     `json:"updated_at" bun:"updated_at,notnull"`
}

// Deadline is the explicit expiry when present, otherwise creation plus the timeout window.
func (p *PaymentRecord) Deadline(timeoutWindow time.Duration) time.Time {
	if p.ExpiresAt != nil {
		return *p.ExpiresAt
	}
	return p.CreatedAt.Add(timeoutWindow)
}

func (p *PaymentRecord) IsExpired(now time.Time, timeoutWindow time.Duration) bool {
	return p.Status == StatusPending && now.After(p.Deadline(timeoutWindow))
}

// MinutesExpired is floor((now - deadline) / 1m).
func (p *PaymentRecord) MinutesExpired(now time.Time, timeoutWindow time.Duration) int64 {
	return int64(now.Sub(p.Deadline(timeoutWindow)) / time.Minute)
}

type PaymentEvent struct {
	Type      string         `json:"type"`
	PaymentID string         `json:"payment_id"`
	OrderID   string         `json:"order_id"`
	Status    PaymentStatus  `json:"status"`
	Reason    string         `json:"reason,omitempty"`
	Payment   *PaymentRecord `json:"payment"`
	Timestamp time.Time      `json:"timestamp"`
}

const (
	EventPaymentPaid      = "payment.paid"
	EventPaymentFailed    = "payment.failed"
	EventPaymentCancelled = "payment.cancelled"
)

type PaymentStatusCount struct {
	Status      PaymentStatus `json:"status" bun:"status"`
	Count       int           `json:"count" bun:"count"`
	TotalAmount float64       `json:"total_amount" bun:"total_amount"`
}

type PaymentStats struct {
	Stats                 []PaymentStatusCount `json:"stats"`
	RecentFailed          []*PaymentRecord     `json:"recent_failed"`
	RecentCancelled       []*PaymentRecord     `json:"recent_cancelled"`
	CancelledDueToTimeout int                  `json:"cancelled_due_to_timeout"`
	Timestamp             time.Time            `json:"timestamp"`
}

type PaymentDetails struct {
	*PaymentRecord
	IsExpired            bool  `json:"is_expired"`
	MinutesSinceCreation int64 `json:"minutes_since_creation"`
	TimeRemaining        int64 `json:"time_remaining"`
}

type VerificationResult struct {
	PaymentID string        `json:"payment_id"`
	Status    PaymentStatus `json:"status"`
	Message   string        `json:"message"`
	Reason    string        `json:"reason,omitempty"`
}

// GatewayConfirmation is the settlement outcome relayed from the gateway
// webhook service. Status is paid or failed.
type GatewayConfirmation struct {
	Identifier       string        `json:"identifier"`
	GatewayPaymentID string        `json:"gateway_payment_id,omitempty"`
	Status           PaymentStatus `json:"status"`
	Reason           string        `json:"reason,omitempty"`
	OccurredAt       time.Time     `json:"occurred_at"`
}
