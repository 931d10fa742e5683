package services

import (
	"context"
	"errors"
	"fmt"

	"ms-payments/internal/logger"
	"ms-payments/internal/models"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

var (
	ErrGatewayUnavailable = errors.New("payment gateway not configured")
	ErrGatewayAPI         = errors.New("payment gateway API error")
)

// GatewayStatus is the gateway's view of one payment, folded onto our statuses.
type GatewayStatus struct {
	Status models.PaymentStatus
	Reason string
	Raw    string
}

type Gateway interface {
	FetchPaymentStatus(ctx context.Context, gatewayPaymentID string) (GatewayStatus, error)
}

// paymentIntentGetter is satisfied by the PaymentIntents client.
type paymentIntentGetter interface {
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type StripeGateway struct {
	intents paymentIntentGetter
	log     *logger.Logger
}

func NewStripeGateway(secretKey string, log *logger.Logger) (*StripeGateway, error) {
	if secretKey == "" {
		log.Warn("STRIPE", "STRIPE_SECRET_KEY not set, gateway verification disabled")
		return nil, ErrGatewayUnavailable
	}

	sc := client.New(secretKey, nil)
	log.Info("STRIPE", "Stripe client initialized successfully")
	return &StripeGateway{intents: sc.PaymentIntents, log: log}, nil
}

func (g *StripeGateway) FetchPaymentStatus(ctx context.Context, gatewayPaymentID string) (GatewayStatus, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := g.intents.Get(gatewayPaymentID, params)
	if err != nil {
		g.log.Error("STRIPE", fmt.Sprintf("Failed to fetch payment intent %s: %v", gatewayPaymentID, err))
		return GatewayStatus{}, fmt.Errorf("%w: %v", ErrGatewayAPI, err)
	}

	g.log.Info("STRIPE", fmt.Sprintf("Gateway status for %s: %s", gatewayPaymentID, pi.Status))
	return intentStatus(pi), nil
}

func intentStatus(pi *stripe.PaymentIntent) GatewayStatus {
	status := GatewayStatus{Status: models.StatusPending, Raw: string(pi.Status)}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		status.Status = models.StatusPaid
	case stripe.PaymentIntentStatusCanceled:
		status.Status = models.StatusFailed
		status.Reason = "Payment cancelled at gateway"
		if pi.CancellationReason != "" {
			status.Reason = fmt.Sprintf("Payment cancelled at gateway: %s", pi.CancellationReason)
		}
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		// a declined attempt drops the intent back to requires_payment_method
		if pi.LastPaymentError != nil {
			status.Status = models.StatusFailed
			status.Reason = pi.LastPaymentError.Msg
			if status.Reason == "" {
				status.Reason = "Payment failed during processing"
			}
		}
	}
	return status
}
