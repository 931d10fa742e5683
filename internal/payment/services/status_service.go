package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-payments/internal/logger"
	"ms-payments/internal/models"
	"ms-payments/internal/payment/storage"
)

const recentLimit = 10

type EventPublisher interface {
	PublishPaymentEvent(ctx context.Context, event models.PaymentEvent) error
}

// PaymentStatusService answers operator questions about payments and applies
// gateway outcomes. Every write goes through the store's pending-only transitions.
type PaymentStatusService struct {
	store         storage.Store
	gateway       Gateway
	events        EventPublisher
	timeoutWindow time.Duration
	log           *logger.Logger
	now           func() time.Time
}

// NewPaymentStatusService accepts a nil gateway or publisher.
func NewPaymentStatusService(store storage.Store, gateway Gateway, events EventPublisher, timeoutWindow time.Duration, log *logger.Logger) *PaymentStatusService {
	return &PaymentStatusService{
		store:         store,
		gateway:       gateway,
		events:        events,
		timeoutWindow: timeoutWindow,
		log:           log,
		now:           time.Now,
	}
}

func (s *PaymentStatusService) VerifyPaymentStatus(ctx context.Context, identifier string) (*models.VerificationResult, error) {
	payment, err := s.store.FindByIdentifier(ctx, identifier)
	if err != nil {
		return nil, err
	}

	if payment.Status != models.StatusPending {
		return s.result(payment, "Payment already processed"), nil
	}

	if payment.IsExpired(s.now().UTC(), s.timeoutWindow) {
		updated, err := s.store.MarkCancelled(ctx, payment.ID, models.TimeoutReason)
		if err != nil {
			return s.afterTransitionError(ctx, payment.ID, err)
		}
		s.publish(ctx, models.EventPaymentCancelled, updated)
		return s.result(updated, "Payment expired and cancelled"), nil
	}

	if payment.GatewayPaymentID == "" || s.gateway == nil {
		return s.result(payment, "Payment status unchanged"), nil
	}

	gw, err := s.gateway.FetchPaymentStatus(ctx, payment.GatewayPaymentID)
	if err != nil {
		// the record stays pending; the cleanup job still expires it on time
		s.log.Warn("PAYMENT", fmt.Sprintf("Gateway verification skipped for %s: %v", payment.ID, err))
		return s.result(payment, "Payment status unchanged"), nil
	}

	switch gw.Status {
	case models.StatusPaid:
		updated, err := s.store.MarkPaid(ctx, payment.ID, payment.GatewayPaymentID)
		if err != nil {
			return s.afterTransitionError(ctx, payment.ID, err)
		}
		s.publish(ctx, models.EventPaymentPaid, updated)
		return s.result(updated, "Payment verified as successful"), nil
	case models.StatusFailed:
		updated, err := s.store.MarkFailed(ctx, payment.ID, gw.Reason)
		if err != nil {
			return s.afterTransitionError(ctx, payment.ID, err)
		}
		s.publish(ctx, models.EventPaymentFailed, updated)
		return s.result(updated, "Payment failed"), nil
	}

	if gw.Raw == "requires_capture" {
		return s.result(payment, "Payment authorized, awaiting capture"), nil
	}
	return s.result(payment, "Payment status unchanged"), nil
}

// MarkPaymentFailed fails a pending payment found by any of its identifiers.
// A payment that already left pending is reported as-is.
func (s *PaymentStatusService) MarkPaymentFailed(ctx context.Context, identifier, reason string) (*models.VerificationResult, error) {
	payment, err := s.store.FindByIdentifier(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if payment.Status != models.StatusPending {
		return s.result(payment, fmt.Sprintf("Payment already %s", payment.Status)), nil
	}

	updated, err := s.store.MarkFailed(ctx, payment.ID, reason)
	if err != nil {
		return s.afterTransitionError(ctx, payment.ID, err)
	}
	s.log.LogPayment("FAILED", updated.ID, fmt.Sprintf("Marked failed: %s", updated.FailureReason))
	s.publish(ctx, models.EventPaymentFailed, updated)
	return s.result(updated, "Payment marked as failed"), nil
}

// ApplyGatewayConfirmation handles one relayed settlement outcome. Replays and
// confirmations that lose the race to the cleanup job are not errors.
func (s *PaymentStatusService) ApplyGatewayConfirmation(ctx context.Context, c models.GatewayConfirmation) error {
	payment, err := s.store.FindByIdentifier(ctx, c.Identifier)
	if err != nil {
		return err
	}

	var updated *models.PaymentRecord
	var event string
	switch c.Status {
	case models.StatusPaid:
		gatewayPaymentID := c.GatewayPaymentID
		if gatewayPaymentID == "" {
			gatewayPaymentID = payment.GatewayPaymentID
		}
		updated, err = s.store.MarkPaid(ctx, payment.ID, gatewayPaymentID)
		event = models.EventPaymentPaid
	case models.StatusFailed:
		updated, err = s.store.MarkFailed(ctx, payment.ID, c.Reason)
		event = models.EventPaymentFailed
	default:
		return fmt.Errorf("unsupported confirmation status %q", c.Status)
	}

	if errors.Is(err, storage.ErrStaleState) {
		s.log.Warn("PAYMENT", fmt.Sprintf("Confirmation %s for %s ignored: %v", c.Status, payment.ID, err))
		return nil
	}
	if err != nil {
		return err
	}

	s.log.LogPayment("CONFIRMED", updated.ID, fmt.Sprintf("Gateway confirmation applied: %s", updated.Status))
	s.publish(ctx, event, updated)
	return nil
}

func (s *PaymentStatusService) GetPaymentStats(ctx context.Context) (*models.PaymentStats, error) {
	breakdown, err := s.store.StatusBreakdown(ctx)
	if err != nil {
		return nil, err
	}
	failed, err := s.store.ListRecent(ctx, models.StatusFailed, recentLimit)
	if err != nil {
		return nil, err
	}
	cancelled, err := s.store.ListRecent(ctx, models.StatusCancelled, recentLimit)
	if err != nil {
		return nil, err
	}
	timeouts, err := s.store.CountTimeoutCancellations(ctx)
	if err != nil {
		return nil, err
	}

	return &models.PaymentStats{
		Stats:                 breakdown,
		RecentFailed:          failed,
		RecentCancelled:       cancelled,
		CancelledDueToTimeout: timeouts,
		Timestamp:             s.now().UTC(),
	}, nil
}

func (s *PaymentStatusService) GetDetailedPaymentStatus(ctx context.Context, identifier string) (*models.PaymentDetails, error) {
	payment, err := s.store.FindByIdentifier(ctx, identifier)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	remaining := int64(payment.Deadline(s.timeoutWindow).Sub(now) / time.Minute)
	if remaining < 0 {
		remaining = 0
	}

	return &models.PaymentDetails{
		PaymentRecord:        payment,
		IsExpired:            payment.IsExpired(now, s.timeoutWindow),
		MinutesSinceCreation: int64(now.Sub(payment.CreatedAt) / time.Minute),
		TimeRemaining:        remaining,
	}, nil
}

// afterTransitionError reports the current state when another writer moved
// the record first.
func (s *PaymentStatusService) afterTransitionError(ctx context.Context, id string, err error) (*models.VerificationResult, error) {
	if !errors.Is(err, storage.ErrStaleState) {
		return nil, err
	}
	current, getErr := s.store.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return s.result(current, fmt.Sprintf("Payment already %s", current.Status)), nil
}

func (s *PaymentStatusService) result(p *models.PaymentRecord, message string) *models.VerificationResult {
	return &models.VerificationResult{
		PaymentID: p.ID,
		Status:    p.Status,
		Message:   message,
		Reason:    p.FailureReason,
	}
}

func (s *PaymentStatusService) publish(ctx context.Context, eventType string, p *models.PaymentRecord) {
	if s.events == nil {
		return
	}
	event := models.PaymentEvent{
		Type:      eventType,
		PaymentID: p.ID,
		OrderID:   p.GatewayOrderID,
		Status:    p.Status,
		Reason:    p.FailureReason,
		Payment:   p,
		Timestamp: s.now().UTC(),
	}
	if err := s.events.PublishPaymentEvent(ctx, event); err != nil {
		s.log.Warn("KAFKA", fmt.Sprintf("Payment event %s for %s not published: %v", eventType, p.ID, err))
	}
}
