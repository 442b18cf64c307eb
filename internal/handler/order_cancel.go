package handler

import (
	"fmt"
	"time"

	"github.com/fairyhunter13/task-scheduler/internal/domain"
)

// OrderCancelHandler cancels an order in the order service. The task's
// reference is the order id; an optional "reason" payload field is passed
// through.
type OrderCancelHandler struct {
	Orders OrderAPI
}

// OrderAPI is the slice of the order client this handler needs.
type OrderAPI interface {
	CancelOrder(ctx domain.Context, orderID, reason string) (map[string]any, error)
}

// NewOrderCancelHandler constructs the handler.
func NewOrderCancelHandler(orders OrderAPI) *OrderCancelHandler {
	return &OrderCancelHandler{Orders: orders}
}

// Type implements domain.Handler.
func (h *OrderCancelHandler) Type() domain.TaskType { return domain.TypeOrderCancel }

// Validate requires an order reference.
func (h *OrderCancelHandler) Validate(t domain.Task) error {
	if t.ReferenceID == "" {
		return fmt.Errorf("order cancel requires a reference_id: %w", domain.ErrInvalidArgument)
	}
	return nil
}

// Execute cancels the order and classifies the outcome. An order that is
// already cancelled (409) or gone (404) is a permanent failure; the order
// cannot be cancelled twice.
func (h *OrderCancelHandler) Execute(ctx domain.Context, t domain.Task) domain.Result {
	reason := t.PayloadString("reason", "scheduled cancellation")
	resp, err := h.Orders.CancelOrder(ctx, t.ReferenceID, reason)
	if err != nil {
		return classifyServiceError(err, "ORDER_NOT_FOUND", "ORDER_STATE_CONFLICT")
	}
	if !statusConfirms(resp, "CANCELLED") {
		return unexpectedStatus(resp)
	}
	return domain.Succeed(resp)
}

// NextRetryDelay doubles hourly for the first attempts, then falls back to
// the default ladder: 2^n hours for n < 3, default hours after that. A
// metadata override wins over both. Jitter is always applied.
func (h *OrderCancelHandler) NextRetryDelay(t domain.Task, defaultDelayHours int) time.Duration {
	if d, ok := metadataDelayOverride(t); ok {
		return jitter(d)
	}
	var base time.Duration
	if t.RetryCount < 3 {
		base = time.Duration(1<<uint(t.RetryCount)) * time.Hour
	} else {
		base = time.Duration(t.EffectiveRetryDelayHours(defaultDelayHours)) * time.Hour
	}
	return jitter(base)
}
