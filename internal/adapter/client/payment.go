package client

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// PaymentClient calls the payment service.
type PaymentClient struct{ c *HTTPClient }

// NewPaymentClient constructs a client for the payment service.
func NewPaymentClient(baseURL string, timeout time.Duration) *PaymentClient {
	return &PaymentClient{c: NewHTTPClient("payment-service", baseURL, timeout)}
}

// RefundPayment refunds a payment. amount is nil for a full refund.
func (p *PaymentClient) RefundPayment(ctx context.Context, paymentID string, amount *float64, reason string) (map[string]any, error) {
	body := map[string]any{"reason": reason}
	if amount != nil {
		body["amount"] = *amount
	}
	return p.c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/api/v1/payments/%s/refund", paymentID), body)
}

// VoidPayment voids an authorized but uncaptured payment.
func (p *PaymentClient) VoidPayment(ctx context.Context, paymentID, reason string) (map[string]any, error) {
	body := map[string]any{"reason": reason}
	return p.c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/api/v1/payments/%s/void", paymentID), body)
}
