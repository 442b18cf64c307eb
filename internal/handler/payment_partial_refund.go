package handler

import (
	"fmt"
	"time"

	"github.com/fairyhunter13/task-scheduler/internal/domain"
)

// PaymentPartialRefundHandler refunds part of a payment. The refund amount
// comes from the "amount" payload field and must be positive.
type PaymentPartialRefundHandler struct {
	Payments PaymentAPI
}

// NewPaymentPartialRefundHandler constructs the handler.
func NewPaymentPartialRefundHandler(payments PaymentAPI) *PaymentPartialRefundHandler {
	return &PaymentPartialRefundHandler{Payments: payments}
}

// Type implements domain.Handler.
func (h *PaymentPartialRefundHandler) Type() domain.TaskType {
	return domain.TypePaymentPartialRefund
}

// Validate requires a payment reference and a positive amount.
func (h *PaymentPartialRefundHandler) Validate(t domain.Task) error {
	if t.ReferenceID == "" {
		return fmt.Errorf("partial refund requires a reference_id: %w", domain.ErrInvalidArgument)
	}
	amount, ok := t.PayloadFloat("amount")
	if !ok {
		return fmt.Errorf("partial refund requires a numeric amount in payload: %w", domain.ErrInvalidArgument)
	}
	if amount <= 0 {
		return fmt.Errorf("partial refund amount must be positive, got %v: %w", amount, domain.ErrInvalidArgument)
	}
	return nil
}

// Execute issues a partial refund for the payload amount.
func (h *PaymentPartialRefundHandler) Execute(ctx domain.Context, t domain.Task) domain.Result {
	amount, _ := t.PayloadFloat("amount")
	reason := t.PayloadString("reason", "scheduled partial refund")
	resp, err := h.Payments.RefundPayment(ctx, t.ReferenceID, &amount, reason)
	if err != nil {
		return classifyServiceError(err, "PAYMENT_NOT_FOUND", "PAYMENT_STATE_CONFLICT")
	}
	if !statusConfirms(resp, "COMPLETED", "SUCCESS", "REFUNDED", "PARTIALLY_REFUNDED", "PROCESSED") {
		return unexpectedStatus(resp)
	}
	return domain.Succeed(resp)
}

// NextRetryDelay follows the payment ladder.
func (h *PaymentPartialRefundHandler) NextRetryDelay(t domain.Task, defaultDelayHours int) time.Duration {
	return paymentRetryDelay(t, defaultDelayHours)
}
