package cleanup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-payments/internal/logger"
	"ms-payments/internal/models"
	"ms-payments/internal/payment/storage"
)

// ExpiryStore is the part of the payment store a reconciliation pass touches.
type ExpiryStore interface {
	FindExpiredPending(ctx context.Context, now time.Time, timeoutWindow time.Duration) ([]*models.PaymentRecord, error)
	MarkCancelled(ctx context.Context, id, reason string) (*models.PaymentRecord, error)
}

// Reconciler cancels pending payments that outlived the gateway session.
type Reconciler struct {
	store         ExpiryStore
	timeoutWindow time.Duration
	log           *logger.Logger
	now           func() time.Time
}

func NewReconciler(store ExpiryStore, timeoutWindow time.Duration, log *logger.Logger) *Reconciler {
	return &Reconciler{
		store:         store,
		timeoutWindow: timeoutWindow,
		log:           log,
		now:           time.Now,
	}
}

// CheckExpiredPayments runs one pass. Success is false only when the expired
// set could not be read; individual transition failures are reported per entry.
func (r *Reconciler) CheckExpiredPayments(ctx context.Context) models.CleanupRunResult {
	now := r.now().UTC()

	expired, err := r.store.FindExpiredPending(ctx, now, r.timeoutWindow)
	if err != nil {
		r.log.Error("CLEANUP", fmt.Sprintf("Error checking expired payments: %v", err))
		return models.CleanupRunResult{Success: false, Timestamp: now, Error: err.Error()}
	}
	r.log.LogCleanup("SCAN", fmt.Sprintf("Found %d expired pending payments", len(expired)))

	result := models.CleanupRunResult{
		Success:      true,
		Timestamp:    now,
		TotalExpired: len(expired),
		Results:      make([]models.CleanupEntry, 0, len(expired)),
	}

	for _, payment := range expired {
		entry := models.CleanupEntry{
			PaymentID:      payment.ID,
			OrderID:        payment.GatewayOrderID,
			Amount:         payment.Amount,
			MinutesExpired: payment.MinutesExpired(now, r.timeoutWindow),
		}

		if _, err := r.store.MarkCancelled(ctx, payment.ID, models.TimeoutReason); err != nil {
			entry.Status = models.CleanupEntryFailed
			entry.Error = err.Error()
			if errors.Is(err, storage.ErrStaleState) {
				r.log.Warn("CLEANUP", fmt.Sprintf("Payment %s left pending before it could be cancelled", payment.ID))
			} else {
				r.log.Error("CLEANUP", fmt.Sprintf("Error cancelling payment %s: %v", payment.ID, err))
			}
			result.Results = append(result.Results, entry)
			continue
		}

		entry.Status = models.CleanupEntryCancelled
		result.Results = append(result.Results, entry)
		result.UpdatedCount++
		r.log.LogPayment("CANCELLED", payment.ID, fmt.Sprintf("Cancelled payment (%d minutes past deadline)", entry.MinutesExpired))
	}

	r.log.LogCleanup("SUMMARY", fmt.Sprintf("Updated %d/%d expired payments to cancelled", result.UpdatedCount, result.TotalExpired))
	return result
}
