package cleanup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"ms-payments/internal/logger"
	"ms-payments/internal/models"
	"ms-payments/internal/payment/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockExpiryStore struct {
	mock.Mock
}

func (m *MockExpiryStore) FindExpiredPending(ctx context.Context, now time.Time, timeoutWindow time.Duration) ([]*models.PaymentRecord, error) {
	args := m.Called(ctx, now, timeoutWindow)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.PaymentRecord), args.Error(1)
}

func (m *MockExpiryStore) MarkCancelled(ctx context.Context, id, reason string) (*models.PaymentRecord, error) {
	args := m.Called(ctx, id, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PaymentRecord), args.Error(1)
}

var fixedNow = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func newTestReconciler(store ExpiryStore) *Reconciler {
	r := NewReconciler(store, 15*time.Minute, logger.New(io.Discard))
	r.now = func() time.Time { return fixedNow }
	return r
}

func expiredRecord(n int) *models.PaymentRecord {
	return &models.PaymentRecord{
		ID:             fmt.Sprintf("pay-%d", n),
		GatewayOrderID: fmt.Sprintf("order-%d", n),
		Status:         models.StatusPending,
		Amount:         float64(n * 100),
		CreatedAt:      fixedNow.Add(-time.Duration(15+n) * time.Minute),
	}
}

func TestCheckExpiredPayments_PartialFailureIsolated(t *testing.T) {
	store := new(MockExpiryStore)
	records := []*models.PaymentRecord{expiredRecord(1), expiredRecord(2), expiredRecord(3)}

	store.On("FindExpiredPending", mock.Anything, fixedNow, 15*time.Minute).Return(records, nil)
	store.On("MarkCancelled", mock.Anything, "pay-1", models.TimeoutReason).Return(&models.PaymentRecord{}, nil)
	store.On("MarkCancelled", mock.Anything, "pay-2", models.TimeoutReason).Return(nil, fmt.Errorf("payment pay-2: %w", storage.ErrStaleState))
	store.On("MarkCancelled", mock.Anything, "pay-3", models.TimeoutReason).Return(&models.PaymentRecord{}, nil)

	result := newTestReconciler(store).CheckExpiredPayments(context.Background())

	assert.True(t, result.Success)
	assert.Equal(t, 3, result.TotalExpired)
	assert.Equal(t, 2, result.UpdatedCount)
	assert.Equal(t, fixedNow, result.Timestamp)
	require.Len(t, result.Results, 3)

	assert.Equal(t, models.CleanupEntryCancelled, result.Results[0].Status)
	assert.Equal(t, models.CleanupEntryFailed, result.Results[1].Status)
	assert.Contains(t, result.Results[1].Error, "no longer pending")
	assert.Equal(t, "order-2", result.Results[1].OrderID)
	assert.Equal(t, models.CleanupEntryCancelled, result.Results[2].Status)

	assert.Len(t, result.Cancelled(), 2)
	assert.Len(t, result.FailedEntries(), 1)
	store.AssertNumberOfCalls(t, "MarkCancelled", 3)
}

func TestCheckExpiredPayments_QueryFailure(t *testing.T) {
	store := new(MockExpiryStore)
	store.On("FindExpiredPending", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))

	result := newTestReconciler(store).CheckExpiredPayments(context.Background())

	assert.False(t, result.Success)
	assert.Equal(t, "connection refused", result.Error)
	assert.Zero(t, result.TotalExpired)
	assert.Empty(t, result.Results)
	store.AssertNotCalled(t, "MarkCancelled", mock.Anything, mock.Anything, mock.Anything)
}

func TestCheckExpiredPayments_EmptySet(t *testing.T) {
	store := new(MockExpiryStore)
	store.On("FindExpiredPending", mock.Anything, mock.Anything, mock.Anything).Return([]*models.PaymentRecord{}, nil)

	result := newTestReconciler(store).CheckExpiredPayments(context.Background())

	assert.True(t, result.Success)
	assert.Zero(t, result.TotalExpired)
	assert.Zero(t, result.UpdatedCount)
}

func TestCheckExpiredPayments_MinutesExpired(t *testing.T) {
	explicit := fixedNow.Add(-(7*time.Minute + 59*time.Second))
	records := []*models.PaymentRecord{
		// implicit deadline: created 16m30s ago with a 15m window
		{ID: "implicit", GatewayOrderID: "o1", CreatedAt: fixedNow.Add(-(16*time.Minute + 30*time.Second))},
		{ID: "explicit", GatewayOrderID: "o2", CreatedAt: fixedNow.Add(-time.Hour), ExpiresAt: &explicit},
	}

	store := new(MockExpiryStore)
	store.On("FindExpiredPending", mock.Anything, mock.Anything, mock.Anything).Return(records, nil)
	store.On("MarkCancelled", mock.Anything, mock.Anything, models.TimeoutReason).Return(&models.PaymentRecord{}, nil)

	result := newTestReconciler(store).CheckExpiredPayments(context.Background())

	require.Len(t, result.Results, 2)
	assert.Equal(t, int64(1), result.Results[0].MinutesExpired)
	assert.Equal(t, int64(7), result.Results[1].MinutesExpired)
}
