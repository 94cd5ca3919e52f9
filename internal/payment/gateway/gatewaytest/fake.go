// Package gatewaytest provides an in-memory gateway for service tests.
package gatewaytest

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/mercatopro/mercato/internal/payment/gateway"
)

type Fake struct {
	mu sync.Mutex

	CreateErr  error
	CaptureErr error
	RefundErr  error
	VerifyErr  error

	PayerEmail string

	orders   int
	captures int
	refunds  int

	CaptureRequestIDs []string
}

func New() *Fake {
	return &Fake{PayerEmail: "buyer@example.com"}
}

func (f *Fake) Provider() string { return "fake" }

func (f *Fake) CreateOrder(ctx context.Context, req gateway.OrderRequest) (*gateway.OrderHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	f.orders++
	id := fmt.Sprintf("ORDER-%d", f.orders)
	return &gateway.OrderHandle{
		OrderID:     id,
		ApprovalURL: "https://gateway.test/approve/" + id,
	}, nil
}

func (f *Fake) CaptureOrder(ctx context.Context, orderID string, requestID string) (*gateway.CaptureResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CaptureRequestIDs = append(f.CaptureRequestIDs, requestID)
	if f.CaptureErr != nil {
		return nil, f.CaptureErr
	}
	f.captures++
	return &gateway.CaptureResult{
		CaptureID:  fmt.Sprintf("CAP-%d", f.captures),
		PayerEmail: f.PayerEmail,
	}, nil
}

func (f *Fake) Refund(ctx context.Context, captureID string, amount int64, currency string, requestID string) (*gateway.RefundResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RefundErr != nil {
		return nil, f.RefundErr
	}
	f.refunds++
	return &gateway.RefundResult{
		RefundID: fmt.Sprintf("REF-%d", f.refunds),
		Amount:   amount,
		Currency: currency,
	}, nil
}

func (f *Fake) VerifyWebhook(ctx context.Context, headers http.Header, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.VerifyErr
}

func (f *Fake) Orders() int   { f.mu.Lock(); defer f.mu.Unlock(); return f.orders }
func (f *Fake) Captures() int { f.mu.Lock(); defer f.mu.Unlock(); return f.captures }
func (f *Fake) Refunds() int  { f.mu.Lock(); defer f.mu.Unlock(); return f.refunds }
