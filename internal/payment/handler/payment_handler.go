package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"ms-payments/internal/auth"
	"ms-payments/internal/logger"
	"ms-payments/internal/models"
	"ms-payments/internal/payment/cleanup"
	"ms-payments/internal/payment/storage"
	"ms-payments/internal/utils"

	"github.com/gin-gonic/gin"
)

type PaymentService interface {
	VerifyPaymentStatus(ctx context.Context, identifier string) (*models.VerificationResult, error)
	MarkPaymentFailed(ctx context.Context, identifier, reason string) (*models.VerificationResult, error)
	GetPaymentStats(ctx context.Context) (*models.PaymentStats, error)
	GetDetailedPaymentStatus(ctx context.Context, identifier string) (*models.PaymentDetails, error)
}

type CleanupScheduler interface {
	GetStatus() cleanup.Status
	Metrics() cleanup.Metrics
	Trigger(ctx context.Context) (models.CleanupRunResult, error)
}

type CleanupStream interface {
	Subscribe(ctx context.Context) <-chan models.CleanupRunResult
}

type Notifier interface {
	TestConnection(ctx context.Context) models.ConnectionStatus
	SendOTPEmail(ctx context.Context, to, firstName, otpCode string, expiryMinutes int) (models.EmailResult, error)
}

type MarkFailedRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type SendOTPRequest struct {
	To            string `json:"to" binding:"required,email"`
	FirstName     string `json:"first_name"`
	OTPCode       string `json:"otp_code" binding:"required"`
	ExpiryMinutes int    `json:"expiry_minutes"`
}

type CleanupStatusResponse struct {
	cleanup.Status
	Metrics cleanup.Metrics `json:"metrics"`
}

type PaymentHandler struct {
	payments      PaymentService
	scheduler     CleanupScheduler
	stream        CleanupStream
	notifications Notifier
	logger        *logger.Logger
}

// NewPaymentHandler accepts a nil scheduler and stream when cleanup is disabled.
func NewPaymentHandler(payments PaymentService, scheduler CleanupScheduler, stream CleanupStream, notifications Notifier, logger *logger.Logger) *PaymentHandler {
	return &PaymentHandler{
		payments:      payments,
		scheduler:     scheduler,
		stream:        stream,
		notifications: notifications,
		logger:        logger,
	}
}

func (h *PaymentHandler) RegisterRoutes(r gin.IRouter) {
	r.Use(h.requestLogger())

	payments := r.Group("/api/payments")
	payments.GET("/cleanup/status", h.CleanupStatus)
	payments.POST("/cleanup/run", h.TriggerCleanup)
	payments.GET("/cleanup/events", h.CleanupEvents)
	payments.GET("/stats", h.Stats)
	payments.GET("/:identifier", h.GetPayment)
	payments.POST("/:identifier/verify", h.VerifyPayment)
	payments.POST("/:identifier/fail", h.MarkFailed)

	r.GET("/api/notifications/health", h.NotificationHealth)
	r.POST("/api/notifications/otp", h.SendOTP)
}

func (h *PaymentHandler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.logger.LogAPI(c.Request.Method, c.Request.URL.Path, fmt.Sprint(c.Writer.Status()), time.Since(start).String())
	}
}

func (h *PaymentHandler) CleanupStatus(c *gin.Context) {
	if h.scheduler == nil {
		c.JSON(http.StatusServiceUnavailable, utils.ErrorResponse("Cleanup scheduler unavailable", "cleanup is disabled"))
		return
	}
	resp := CleanupStatusResponse{Status: h.scheduler.GetStatus(), Metrics: h.scheduler.Metrics()}
	c.JSON(http.StatusOK, utils.SuccessResponse("Cleanup status", resp))
}

// TriggerCleanup runs one pass synchronously and answers with that pass's
// result. A skipped pass answers 409, or 503 when the lease store is down.
func (h *PaymentHandler) TriggerCleanup(c *gin.Context) {
	if h.scheduler == nil {
		c.JSON(http.StatusServiceUnavailable, utils.ErrorResponse("Cleanup scheduler unavailable", "cleanup is disabled"))
		return
	}
	h.logger.LogSecurity("MANUAL_CLEANUP", fmt.Sprintf("Manual cleanup requested by %s", operator(c)))

	result, err := h.scheduler.Trigger(c.Request.Context())
	switch {
	case errors.Is(err, cleanup.ErrRunInProgress), errors.Is(err, cleanup.ErrLeaseHeld):
		c.JSON(http.StatusConflict, utils.ErrorResponse("Cleanup not started", err.Error()))
		return
	case errors.Is(err, cleanup.ErrLeaseUnavailable):
		c.JSON(http.StatusServiceUnavailable, utils.ErrorResponse("Cleanup not started", err.Error()))
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, utils.ErrorResponse("Cleanup failed", err.Error()))
		return
	case !result.Success:
		c.JSON(http.StatusInternalServerError, utils.ErrorResponse("Cleanup failed", result.Error))
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Cleanup completed", result))
}

// CleanupEvents streams each finished cleanup run as a server-sent event until
// the client disconnects.
func (h *PaymentHandler) CleanupEvents(c *gin.Context) {
	if h.stream == nil {
		c.JSON(http.StatusServiceUnavailable, utils.ErrorResponse("Cleanup scheduler unavailable", "cleanup is disabled"))
		return
	}

	runs := h.stream.Subscribe(c.Request.Context())
	h.logger.Info("SSE", fmt.Sprintf("Cleanup stream opened by %s", operator(c)))

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Stream(func(w io.Writer) bool {
		result, ok := <-runs
		if !ok {
			return false
		}
		c.SSEvent("cleanup", result)
		return true
	})
}

func (h *PaymentHandler) Stats(c *gin.Context) {
	stats, err := h.payments.GetPaymentStats(c.Request.Context())
	if err != nil {
		h.logger.Error("API", fmt.Sprintf("Failed to load payment stats: %v", err))
		c.JSON(http.StatusInternalServerError, utils.ErrorResponse("Failed to load payment stats", err.Error()))
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Payment statistics", stats))
}

func (h *PaymentHandler) GetPayment(c *gin.Context) {
	details, err := h.payments.GetDetailedPaymentStatus(c.Request.Context(), c.Param("identifier"))
	if err != nil {
		h.writeLookupError(c, "Failed to load payment", err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("Payment details", details))
}

func (h *PaymentHandler) VerifyPayment(c *gin.Context) {
	result, err := h.payments.VerifyPaymentStatus(c.Request.Context(), c.Param("identifier"))
	if err != nil {
		h.writeLookupError(c, "Payment verification failed", err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse(result.Message, result))
}

func (h *PaymentHandler) MarkFailed(c *gin.Context) {
	var req MarkFailedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid request payload", err.Error()))
		return
	}

	identifier := c.Param("identifier")
	h.logger.LogSecurity("MANUAL_FAIL", fmt.Sprintf("Payment %s marked failed by %s", identifier, operator(c)))

	result, err := h.payments.MarkPaymentFailed(c.Request.Context(), identifier, req.Reason)
	if err != nil {
		h.writeLookupError(c, "Failed to mark payment as failed", err)
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse(result.Message, result))
}

func (h *PaymentHandler) NotificationHealth(c *gin.Context) {
	status := h.notifications.TestConnection(c.Request.Context())
	if !status.Success {
		c.JSON(http.StatusServiceUnavailable, utils.ErrorResponse(fmt.Sprintf("%s channel unavailable", status.Provider), status.Error))
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse(status.Message, status))
}

// SendOTP answers 502 when neither the primary channel nor the SMTP fallback
// delivered; the error is the primary channel's.
func (h *PaymentHandler) SendOTP(c *gin.Context) {
	var req SendOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid request payload", err.Error()))
		return
	}

	result, err := h.notifications.SendOTPEmail(c.Request.Context(), req.To, req.FirstName, req.OTPCode, req.ExpiryMinutes)
	if err != nil {
		h.logger.Error("EMAIL", fmt.Sprintf("OTP email to %s failed: %v", req.To, err))
		c.JSON(http.StatusBadGateway, utils.ErrorResponse("Failed to send OTP email", err.Error()))
		return
	}
	c.JSON(http.StatusOK, utils.SuccessResponse("OTP email sent", result))
}

func (h *PaymentHandler) writeLookupError(c *gin.Context, message string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, utils.ErrorResponse("Payment not found", err.Error()))
		return
	}
	h.logger.Error("API", fmt.Sprintf("%s: %v", message, err))
	c.JSON(http.StatusInternalServerError, utils.ErrorResponse(message, err.Error()))
}

func operator(c *gin.Context) string {
	return auth.Operator(c.Request)
}
