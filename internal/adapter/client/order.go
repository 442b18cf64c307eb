package client

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// OrderClient calls the order service.
type OrderClient struct{ c *HTTPClient }

// NewOrderClient constructs a client for the order service.
func NewOrderClient(baseURL string, timeout time.Duration) *OrderClient {
	return &OrderClient{c: NewHTTPClient("order-service", baseURL, timeout)}
}

// CancelOrder requests cancellation of an order.
func (o *OrderClient) CancelOrder(ctx context.Context, orderID, reason string) (map[string]any, error) {
	body := map[string]any{"reason": reason}
	return o.c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/api/v1/orders/%s/cancel", orderID), body)
}

// GetOrderStatus fetches the current state of an order.
func (o *OrderClient) GetOrderStatus(ctx context.Context, orderID string) (map[string]any, error) {
	return o.c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/v1/orders/%s", orderID), nil)
}
