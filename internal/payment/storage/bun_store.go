package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-payments/internal/logger"
	"ms-payments/internal/models"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const table = "payment_records"

type BunStore struct {
	db  *bun.DB
	log *logger.Logger
	now func() time.Time
}

// NewBunStore works with any bun dialect; production uses pgdialect, tests sqlitedialect.
func NewBunStore(db *bun.DB, log *logger.Logger) *BunStore {
	return &BunStore{db: db, log: log, now: time.Now}
}

// CreateSchema creates the table and indexes when migrations are not run.
func (s *BunStore) CreateSchema(ctx context.Context) error {
	s.log.LogDatabase("MIGRATE", table, "Creating payment_records table if not exists")

	if _, err := s.db.NewCreateTable().Model((*models.PaymentRecord)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create payment_records table: %w", err)
	}

	indexes := map[string][]string{
		"idx_payment_records_status_expires": {"status", "expires_at"},
		"idx_payment_records_created_at":     {"created_at"},
		"idx_payment_records_order_id":       {"gateway_order_id"},
		"idx_payment_records_payment_id":     {"gateway_payment_id"},
	}
	for name, columns := range indexes {
		_, err := s.db.NewCreateIndex().
			Model((*models.PaymentRecord)(nil)).
			Index(name).
			IfNotExists().
			Column(columns...).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create index %s: %w", name, err)
		}
	}

	s.log.LogDatabase("SUCCESS", table, "Payment tables and indexes ready")
	return nil
}

func (s *BunStore) Create(ctx context.Context, payment *models.PaymentRecord) error {
	if payment.GatewayOrderID == "" {
		return errors.New("gateway order id is required")
	}
	if payment.ID == "" {
		payment.ID = uuid.New().String()
	}
	if payment.Status == "" {
		payment.Status = models.StatusPending
	}
	if !payment.Status.Valid() {
		return fmt.Errorf("invalid payment status %q", payment.Status)
	}
	if payment.Currency == "" {
		payment.Currency = "INR"
	}
	now := s.now().UTC()
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = now
	}
	payment.CreatedAt = payment.CreatedAt.UTC()
	if payment.ExpiresAt != nil {
		expiresAt := payment.ExpiresAt.UTC()
		payment.ExpiresAt = &expiresAt
	}
	payment.UpdatedAt = now

	s.log.LogDatabase("INSERT", table, fmt.Sprintf("Saving payment %s (order %s)", payment.ID, payment.GatewayOrderID))
	if _, err := s.db.NewInsert().Model(payment).Exec(ctx); err != nil {
		s.log.Error("DATABASE", fmt.Sprintf("Failed to save payment %s: %v", payment.ID, err))
		return fmt.Errorf("failed to save payment: %w", err)
	}
	return nil
}

func (s *BunStore) GetByID(ctx context.Context, id string) (*models.PaymentRecord, error) {
	return s.findOne(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("id = ?", id)
	})
}

func (s *BunStore) FindByIdentifier(ctx context.Context, identifier string) (*models.PaymentRecord, error) {
	return s.findOne(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("(id = ? OR gateway_order_id = ? OR gateway_payment_id = ?)", identifier, identifier, identifier).
			OrderExpr("created_at DESC")
	})
}

func (s *BunStore) findOne(ctx context.Context, where func(*bun.SelectQuery) *bun.SelectQuery) (*models.PaymentRecord, error) {
	payment := new(models.PaymentRecord)
	err := where(s.db.NewSelect().Model(payment)).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return payment, nil
}

// FindExpiredPending returns each pending record whose explicit expiry has
// passed, or which has no expiry and was created before now-timeoutWindow.
func (s *BunStore) FindExpiredPending(ctx context.Context, now time.Time, timeoutWindow time.Duration) ([]*models.PaymentRecord, error) {
	now = now.UTC()
	cutoff := now.Add(-timeoutWindow)

	var payments []*models.PaymentRecord
	err := s.db.NewSelect().
		Model(&payments).
		Where("status = ?", models.StatusPending).
		Where("((expires_at IS NOT NULL AND expires_at < ?) OR (expires_at IS NULL AND created_at < ?))", now, cutoff).
		OrderExpr("created_at ASC").
		Scan(ctx)
	if err != nil {
		s.log.Error("DATABASE", fmt.Sprintf("Failed to query expired payments: %v", err))
		return nil, fmt.Errorf("failed to query expired payments: %w", err)
	}

	s.log.LogDatabase("SELECT", table, fmt.Sprintf("Found %d expired pending payments", len(payments)))
	return payments, nil
}

func (s *BunStore) MarkCancelled(ctx context.Context, id, reason string) (*models.PaymentRecord, error) {
	if reason == "" {
		reason = models.TimeoutReason
	}
	return s.transition(ctx, id, models.StatusCancelled, reason, "")
}

func (s *BunStore) MarkFailed(ctx context.Context, id, reason string) (*models.PaymentRecord, error) {
	if reason == "" {
		reason = "Payment failed during processing"
	}
	return s.transition(ctx, id, models.StatusFailed, reason, "")
}

func (s *BunStore) MarkPaid(ctx context.Context, id, gatewayPaymentID string) (*models.PaymentRecord, error) {
	return s.transition(ctx, id, models.StatusPaid, "", gatewayPaymentID)
}

// transition moves a pending record to status in one conditional UPDATE, so a
// concurrent writer that got there first leaves this call with ErrStaleState
// and the record untouched.
func (s *BunStore) transition(ctx context.Context, id string, status models.PaymentStatus, reason, gatewayPaymentID string) (*models.PaymentRecord, error) {
	payment := new(models.PaymentRecord)

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		q := tx.NewUpdate().
			Table(table).
			Set("status = ?", status).
			Set("updated_at = ?", s.now().UTC()).
			Where("id = ?", id).
			Where("status = ?", models.StatusPending)
		if reason != "" {
			q = q.Set("failure_reason = ?", reason)
		}
		if gatewayPaymentID != "" {
			q = q.Set("gateway_payment_id = ?", gatewayPaymentID)
		}

		res, err := q.Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}

		if affected == 0 {
			exists, err := tx.NewSelect().Model((*models.PaymentRecord)(nil)).Where("id = ?", id).Exists(ctx)
			if err != nil {
				return err
			}
			if !exists {
				return ErrNotFound
			}
			return fmt.Errorf("payment %s: %w", id, ErrStaleState)
		}

		return tx.NewSelect().Model(payment).Where("id = ?", id).Scan(ctx)
	})
	if err != nil {
		if errors.Is(err, ErrStaleState) || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		s.log.Error("DATABASE", fmt.Sprintf("Failed to mark payment %s as %s: %v", id, status, err))
		return nil, fmt.Errorf("failed to update payment %s: %w", id, err)
	}

	s.log.LogDatabase("UPDATE", table, fmt.Sprintf("Payment %s moved pending -> %s", id, status))
	return payment, nil
}

func (s *BunStore) StatusBreakdown(ctx context.Context) ([]models.PaymentStatusCount, error) {
	var rows []models.PaymentStatusCount
	err := s.db.NewSelect().
		Model((*models.PaymentRecord)(nil)).
		ColumnExpr("status").
		ColumnExpr("COUNT(*) AS count").
		ColumnExpr("COALESCE(SUM(amount), 0) AS total_amount").
		Group("status").
		OrderExpr("status ASC").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate payments: %w", err)
	}
	return rows, nil
}

func (s *BunStore) ListRecent(ctx context.Context, status models.PaymentStatus, limit int) ([]*models.PaymentRecord, error) {
	var payments []*models.PaymentRecord
	err := s.db.NewSelect().
		Model(&payments).
		Where("status = ?", status).
		OrderExpr("updated_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s payments: %w", status, err)
	}
	return payments, nil
}

func (s *BunStore) CountTimeoutCancellations(ctx context.Context) (int, error) {
	count, err := s.db.NewSelect().
		Model((*models.PaymentRecord)(nil)).
		Where("status = ?", models.StatusCancelled).
		Where("(LOWER(failure_reason) LIKE ? OR LOWER(failure_reason) LIKE ?)", "%timeout%", "%exceeded%").
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count timeout cancellations: %w", err)
	}
	return count, nil
}

func (s *BunStore) Close() error {
	s.log.LogDatabase("CLOSE", table, "Closing database connection")
	return s.db.Close()
}

func (s *BunStore) HealthCheck() error {
	return s.db.Ping()
}
