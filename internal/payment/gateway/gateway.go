// Package gateway defines the payment provider boundary. Implementations
// translate provider errors into the domain taxonomy so callers never see
// provider-specific codes.
package gateway

import (
	"context"
	"net/http"
)

// OrderRequest describes the order to open at the provider. RequestID is
// the caller's idempotency key and must be stable across retries.
type OrderRequest struct {
	RequestID string
	Amount    int64
	Currency  string
	Reference string
	ReturnURL string
	CancelURL string
}

type OrderHandle struct {
	OrderID     string
	ApprovalURL string
}

type CaptureResult struct {
	CaptureID  string
	PayerEmail string
	Amount     int64
	Currency   string
}

type RefundResult struct {
	RefundID string
	Amount   int64
	Currency string
}

type Gateway interface {
	Provider() string
	CreateOrder(ctx context.Context, req OrderRequest) (*OrderHandle, error)
	CaptureOrder(ctx context.Context, orderID string, requestID string) (*CaptureResult, error)
	Refund(ctx context.Context, captureID string, amount int64, currency string, requestID string) (*RefundResult, error)

	// VerifyWebhook returns ErrUnverified unless the provider confirms the
	// delivery signature.
	VerifyWebhook(ctx context.Context, headers http.Header, body []byte) error
}
