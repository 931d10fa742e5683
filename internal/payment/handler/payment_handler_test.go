package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ms-payments/internal/logger"
	"ms-payments/internal/models"
	"ms-payments/internal/payment/cleanup"
	"ms-payments/internal/payment/storage"
	"ms-payments/internal/sse"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPaymentService struct {
	mock.Mock
}

func (m *MockPaymentService) VerifyPaymentStatus(ctx context.Context, identifier string) (*models.VerificationResult, error) {
	args := m.Called(ctx, identifier)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.VerificationResult), args.Error(1)
}

func (m *MockPaymentService) MarkPaymentFailed(ctx context.Context, identifier, reason string) (*models.VerificationResult, error) {
	args := m.Called(ctx, identifier, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.VerificationResult), args.Error(1)
}

func (m *MockPaymentService) GetPaymentStats(ctx context.Context) (*models.PaymentStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PaymentStats), args.Error(1)
}

func (m *MockPaymentService) GetDetailedPaymentStatus(ctx context.Context, identifier string) (*models.PaymentDetails, error) {
	args := m.Called(ctx, identifier)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PaymentDetails), args.Error(1)
}

type stubScheduler struct {
	status  cleanup.Status
	metrics cleanup.Metrics
	result  models.CleanupRunResult
	err     error
	runs    int
}

func (s *stubScheduler) GetStatus() cleanup.Status { return s.status }
func (s *stubScheduler) Metrics() cleanup.Metrics { return s.metrics }

func (s *stubScheduler) Trigger(ctx context.Context) (models.CleanupRunResult, error) {
	s.runs++
	return s.result, s.err
}

type stubChecker struct {
	status models.ConnectionStatus
	result models.EmailResult
	err    error
	sent   *[]string
}

func (c stubChecker) TestConnection(ctx context.Context) models.ConnectionStatus { return c.status }

func (c stubChecker) SendOTPEmail(ctx context.Context, to, firstName, otpCode string, expiryMinutes int) (models.EmailResult, error) {
	if c.sent != nil {
		*c.sent = append(*c.sent, to+":"+otpCode)
	}
	return c.result, c.err
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func setupRouter(payments PaymentService, scheduler CleanupScheduler, checker Notifier) *gin.Engine {
	return setupRouterWithStream(payments, scheduler, nil, checker)
}

func setupRouterWithStream(payments PaymentService, scheduler CleanupScheduler, stream CleanupStream, checker Notifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewPaymentHandler(payments, scheduler, stream, checker, logger.New(io.Discard)).RegisterRoutes(r)
	return r
}

func do(t *testing.T, r http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w, env
}

func TestCleanupStatus(t *testing.T) {
	scheduler := &stubScheduler{
		status:  cleanup.Status{IsScheduled: true},
		metrics: cleanup.Metrics{RunsStarted: 4, RunsCompleted: 3, RunsSkipped: 1},
	}
	r := setupRouter(new(MockPaymentService), scheduler, stubChecker{})

	w, env := do(t, r, http.MethodGet, "/api/payments/cleanup/status", "")

	assert.Equal(t, http.StatusOK, w.Code)
	var resp CleanupStatusResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.True(t, resp.IsScheduled)
	assert.False(t, resp.IsRunning)
	assert.Equal(t, int64(3), resp.Metrics.RunsCompleted)
}

func TestTriggerCleanup(t *testing.T) {
	newer := &models.CleanupRunResult{Success: true, TotalExpired: 9, UpdatedCount: 9}
	scheduler := &stubScheduler{
		result:  models.CleanupRunResult{Success: true, TotalExpired: 2, UpdatedCount: 2},
		metrics: cleanup.Metrics{LastResult: newer},
	}
	r := setupRouter(new(MockPaymentService), scheduler, stubChecker{})

	w, env := do(t, r, http.MethodPost, "/api/payments/cleanup/run", "")

	assert.Equal(t, http.StatusOK, w.Code)
	var got models.CleanupRunResult
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, 2, got.UpdatedCount, "response carries the triggered pass, not the latest one")
	assert.Equal(t, 1, scheduler.runs)
}

func TestTriggerCleanup_ConflictWhileRunning(t *testing.T) {
	scheduler := &stubScheduler{err: cleanup.ErrRunInProgress}
	r := setupRouter(new(MockPaymentService), scheduler, stubChecker{})

	w, env := do(t, r, http.MethodPost, "/api/payments/cleanup/run", "")

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.False(t, env.Success)
	assert.Equal(t, cleanup.ErrRunInProgress.Error(), env.Error)
}

func TestTriggerCleanup_NotStartedOrFailed(t *testing.T) {
	tests := []struct {
		name      string
		scheduler *stubScheduler
		code      int
		errText   string
	}{
		{
			name:      "lease held elsewhere",
			scheduler: &stubScheduler{err: cleanup.ErrLeaseHeld},
			code:      http.StatusConflict,
			errText:   "another replica holds the cleanup lease",
		},
		{
			name:      "lease store down",
			scheduler: &stubScheduler{err: fmt.Errorf("%w: dial tcp: refused", cleanup.ErrLeaseUnavailable)},
			code:      http.StatusServiceUnavailable,
			errText:   "cleanup lease unavailable: dial tcp: refused",
		},
		{
			name:      "pass panicked",
			scheduler: &stubScheduler{err: fmt.Errorf("%w: nil store", cleanup.ErrRunAborted)},
			code:      http.StatusInternalServerError,
			errText:   "cleanup run aborted: nil store",
		},
		{
			name:      "query failed",
			scheduler: &stubScheduler{result: models.CleanupRunResult{Success: false, Error: "db down"}},
			code:      http.StatusInternalServerError,
			errText:   "db down",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := setupRouter(new(MockPaymentService), tt.scheduler, stubChecker{})

			w, env := do(t, r, http.MethodPost, "/api/payments/cleanup/run", "")

			assert.Equal(t, tt.code, w.Code)
			assert.False(t, env.Success)
			assert.Equal(t, tt.errText, env.Error)
			assert.Empty(t, env.Data)
		})
	}
}

func TestCleanupRoutes_SchedulerDisabled(t *testing.T) {
	r := setupRouter(new(MockPaymentService), nil, stubChecker{})

	w, _ := do(t, r, http.MethodGet, "/api/payments/cleanup/status", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w, _ = do(t, r, http.MethodPost, "/api/payments/cleanup/run", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStats(t *testing.T) {
	payments := new(MockPaymentService)
	payments.On("GetPaymentStats", mock.Anything).Return(&models.PaymentStats{
		Stats:                 []models.PaymentStatusCount{{Status: models.StatusPending, Count: 3}},
		CancelledDueToTimeout: 5,
	}, nil)
	r := setupRouter(payments, &stubScheduler{}, stubChecker{})

	w, env := do(t, r, http.MethodGet, "/api/payments/stats", "")

	assert.Equal(t, http.StatusOK, w.Code)
	var stats models.PaymentStats
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, 5, stats.CancelledDueToTimeout)
}

func TestStats_StoreError(t *testing.T) {
	payments := new(MockPaymentService)
	payments.On("GetPaymentStats", mock.Anything).Return(nil, errors.New("connection reset"))
	r := setupRouter(payments, &stubScheduler{}, stubChecker{})

	w, env := do(t, r, http.MethodGet, "/api/payments/stats", "")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "connection reset", env.Error)
}

func TestGetPayment_NotFound(t *testing.T) {
	payments := new(MockPaymentService)
	payments.On("GetDetailedPaymentStatus", mock.Anything, "missing").
		Return(nil, fmt.Errorf("payment missing: %w", storage.ErrNotFound))
	r := setupRouter(payments, &stubScheduler{}, stubChecker{})

	w, env := do(t, r, http.MethodGet, "/api/payments/missing", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Payment not found", env.Message)
}

func TestVerifyPayment(t *testing.T) {
	payments := new(MockPaymentService)
	payments.On("VerifyPaymentStatus", mock.Anything, "pi_123").Return(&models.VerificationResult{
		PaymentID: "pay-1",
		Status:    models.StatusCancelled,
		Message:   "Payment expired and cancelled",
	}, nil)
	r := setupRouter(payments, &stubScheduler{}, stubChecker{})

	w, env := do(t, r, http.MethodPost, "/api/payments/pi_123/verify", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Payment expired and cancelled", env.Message)
	payments.AssertExpectations(t)
}

func TestMarkFailed(t *testing.T) {
	payments := new(MockPaymentService)
	payments.On("MarkPaymentFailed", mock.Anything, "order_9", "card declined").Return(&models.VerificationResult{
		PaymentID: "pay-9",
		Status:    models.StatusFailed,
		Message:   "Payment marked as failed",
		Reason:    "card declined",
	}, nil)
	r := setupRouter(payments, &stubScheduler{}, stubChecker{})

	w, env := do(t, r, http.MethodPost, "/api/payments/order_9/fail", `{"reason":"card declined"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	var result models.VerificationResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, models.StatusFailed, result.Status)
	assert.Equal(t, "card declined", result.Reason)
}

func TestMarkFailed_RequiresReason(t *testing.T) {
	payments := new(MockPaymentService)
	r := setupRouter(payments, &stubScheduler{}, stubChecker{})

	w, env := do(t, r, http.MethodPost, "/api/payments/order_9/fail", `{}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid request payload", env.Message)
	payments.AssertNotCalled(t, "MarkPaymentFailed", mock.Anything, mock.Anything, mock.Anything)
}

func TestNotificationHealth(t *testing.T) {
	ok := stubChecker{status: models.ConnectionStatus{Success: true, Provider: "sendgrid", Message: "SendGrid configured"}}
	w, env := do(t, setupRouter(new(MockPaymentService), &stubScheduler{}, ok), http.MethodGet, "/api/notifications/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "SendGrid configured", env.Message)

	down := stubChecker{status: models.ConnectionStatus{Provider: "smtp", Error: "dial tcp: refused"}}
	w, env = do(t, setupRouter(new(MockPaymentService), &stubScheduler{}, down), http.MethodGet, "/api/notifications/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "dial tcp: refused", env.Error)
}

// closeNotifyingRecorder satisfies the http.CloseNotifier that gin's Stream needs.
type closeNotifyingRecorder struct {
	*httptest.ResponseRecorder
}

func (r *closeNotifyingRecorder) CloseNotify() <-chan bool {
	return make(chan bool)
}

func TestCleanupEvents_StreamsRuns(t *testing.T) {
	emitter := sse.NewCleanupEventEmitter()
	r := setupRouterWithStream(new(MockPaymentService), &stubScheduler{}, emitter, stubChecker{})

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/payments/cleanup/events", nil).WithContext(ctx)
	w := &closeNotifyingRecorder{ResponseRecorder: httptest.NewRecorder()}

	done := make(chan struct{})
	go func() {
		r.ServeHTTP(w, req)
		close(done)
	}()

	require.Eventually(t, func() bool { return emitter.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, emitter.PublishCleanupRun(ctx, models.CleanupRunResult{Success: true, UpdatedCount: 4}))
	require.NoError(t, emitter.PublishCleanupRun(ctx, models.CleanupRunResult{Success: true, UpdatedCount: 0}))
	cancel()
	<-done

	body := w.Body.String()
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/event-stream"), w.Header().Get("Content-Type"))
	assert.Contains(t, body, "event:cleanup")
	assert.Contains(t, body, `"updatedCount":4`)
}

func TestCleanupEvents_Disabled(t *testing.T) {
	r := setupRouter(new(MockPaymentService), &stubScheduler{}, stubChecker{})

	w, _ := do(t, r, http.MethodGet, "/api/payments/cleanup/events", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSendOTP(t *testing.T) {
	var sent []string
	notifier := stubChecker{result: models.EmailResult{Success: true, Provider: "smtp", MessageID: "<id@example.com>"}, sent: &sent}
	r := setupRouter(new(MockPaymentService), &stubScheduler{}, notifier)

	w, env := do(t, r, http.MethodPost, "/api/notifications/otp", `{"to":"jane@example.com","first_name":"Jane","otp_code":"482913"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"jane@example.com:482913"}, sent)
	var result models.EmailResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, "smtp", result.Provider)
}

func TestSendOTP_Validation(t *testing.T) {
	var sent []string
	r := setupRouter(new(MockPaymentService), &stubScheduler{}, stubChecker{sent: &sent})

	w, _ := do(t, r, http.MethodPost, "/api/notifications/otp", `{"to":"not-an-email","otp_code":"1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, sent)
}

func TestSendOTP_DeliveryFailure(t *testing.T) {
	notifier := stubChecker{err: errors.New("sendgrid: 401 unauthorized")}
	r := setupRouter(new(MockPaymentService), &stubScheduler{}, notifier)

	w, env := do(t, r, http.MethodPost, "/api/notifications/otp", `{"to":"jane@example.com","otp_code":"482913"}`)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "sendgrid: 401 unauthorized", env.Error)
}
