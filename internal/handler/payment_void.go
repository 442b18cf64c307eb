package handler

import (
	"fmt"
	"time"

	"github.com/fairyhunter13/task-scheduler/internal/domain"
)

// PaymentVoidHandler voids an authorized but uncaptured payment. Voids race
// against capture windows, so a 409 from the gateway means the payment has
// already settled and a refund task is the correct follow-up.
type PaymentVoidHandler struct {
	Payments PaymentAPI
}

// NewPaymentVoidHandler constructs the handler.
func NewPaymentVoidHandler(payments PaymentAPI) *PaymentVoidHandler {
	return &PaymentVoidHandler{Payments: payments}
}

// Type implements domain.Handler.
func (h *PaymentVoidHandler) Type() domain.TaskType { return domain.TypePaymentVoid }

// Validate requires a payment reference.
func (h *PaymentVoidHandler) Validate(t domain.Task) error {
	if t.ReferenceID == "" {
		return fmt.Errorf("payment void requires a reference_id: %w", domain.ErrInvalidArgument)
	}
	return nil
}

// Execute voids the payment.
func (h *PaymentVoidHandler) Execute(ctx domain.Context, t domain.Task) domain.Result {
	reason := t.PayloadString("reason", "scheduled void")
	resp, err := h.Payments.VoidPayment(ctx, t.ReferenceID, reason)
	if err != nil {
		return classifyServiceError(err, "PAYMENT_NOT_FOUND", "PAYMENT_STATE_CONFLICT")
	}
	if !statusConfirms(resp, "VOIDED", "SUCCESS", "COMPLETED") {
		return unexpectedStatus(resp)
	}
	return domain.Succeed(resp)
}

// NextRetryDelay follows the payment ladder.
func (h *PaymentVoidHandler) NextRetryDelay(t domain.Task, defaultDelayHours int) time.Duration {
	return paymentRetryDelay(t, defaultDelayHours)
}
