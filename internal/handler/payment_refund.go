package handler

import (
	"fmt"
	"time"

	"github.com/fairyhunter13/task-scheduler/internal/domain"
)

// PaymentAPI is the slice of the payment client the payment handlers need.
type PaymentAPI interface {
	RefundPayment(ctx domain.Context, paymentID string, amount *float64, reason string) (map[string]any, error)
	VoidPayment(ctx domain.Context, paymentID, reason string) (map[string]any, error)
}

// paymentRetryDelay is the ladder shared by all payment handlers: 2h after
// the first failure, then (3 + 3n)h for the next two, then the default.
// Payment gateways tend to resolve settlement holds on multi-hour cycles.
func paymentRetryDelay(t domain.Task, defaultDelayHours int) time.Duration {
	if d, ok := metadataDelayOverride(t); ok {
		return jitter(d)
	}
	var base time.Duration
	switch {
	case t.RetryCount == 0:
		base = 2 * time.Hour
	case t.RetryCount < 3:
		base = time.Duration(3+3*t.RetryCount) * time.Hour
	default:
		base = time.Duration(t.EffectiveRetryDelayHours(defaultDelayHours)) * time.Hour
	}
	return jitter(base)
}

// PaymentRefundHandler refunds a payment in full. The task's reference is
// the payment id.
type PaymentRefundHandler struct {
	Payments PaymentAPI
}

// NewPaymentRefundHandler constructs the handler.
func NewPaymentRefundHandler(payments PaymentAPI) *PaymentRefundHandler {
	return &PaymentRefundHandler{Payments: payments}
}

// Type implements domain.Handler.
func (h *PaymentRefundHandler) Type() domain.TaskType { return domain.TypePaymentRefund }

// Validate requires a payment reference.
func (h *PaymentRefundHandler) Validate(t domain.Task) error {
	if t.ReferenceID == "" {
		return fmt.Errorf("payment refund requires a reference_id: %w", domain.ErrInvalidArgument)
	}
	return nil
}

// Execute issues a full refund.
func (h *PaymentRefundHandler) Execute(ctx domain.Context, t domain.Task) domain.Result {
	reason := t.PayloadString("reason", "scheduled refund")
	resp, err := h.Payments.RefundPayment(ctx, t.ReferenceID, nil, reason)
	if err != nil {
		return classifyServiceError(err, "PAYMENT_NOT_FOUND", "PAYMENT_STATE_CONFLICT")
	}
	if !statusConfirms(resp, "COMPLETED", "SUCCESS", "REFUNDED", "PROCESSED") {
		return unexpectedStatus(resp)
	}
	return domain.Succeed(resp)
}

// NextRetryDelay follows the payment ladder.
func (h *PaymentRefundHandler) NextRetryDelay(t domain.Task, defaultDelayHours int) time.Duration {
	return paymentRetryDelay(t, defaultDelayHours)
}
