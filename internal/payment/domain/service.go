package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	lotterydomain "github.com/mercatopro/mercato/internal/lottery/domain"
	"github.com/mercatopro/mercato/pkg/db/pagination"
)

// CheckoutResult is the outcome of opening an order: the reserved ticket,
// the pending transaction and the URL the buyer approves at the provider.
type CheckoutResult struct {
	Transaction *Transaction          `json:"transaction"`
	Ticket      *lotterydomain.Ticket `json:"ticket"`
	ApprovalURL string                `json:"approval_url"`
}

type Service interface {
	// CreateOrder reserves a ticket, records a pending transaction and
	// opens an order at the gateway.
	CreateOrder(ctx context.Context, lotteryID, buyerID snowflake.ID) (*CheckoutResult, error)

	// CaptureOrder settles a pending transaction. Calling it again after
	// completion returns the stored result without touching the gateway.
	CaptureOrder(ctx context.Context, transactionID snowflake.ID) (*Transaction, error)

	// CancelOrder abandons a pending checkout and frees the ticket slot.
	CancelOrder(ctx context.Context, transactionID, buyerID snowflake.ID) error

	// ApplyCapture records a capture observed out-of-band (webhook
	// reconciliation). It shares the completion write with CaptureOrder.
	ApplyCapture(ctx context.Context, trx *Transaction, captureID, payerEmail string) (*Transaction, error)

	// MarkProcessing flips a pending checkout to payment_processing when
	// the buyer approved the order but the capture has not landed yet.
	MarkProcessing(ctx context.Context, trx *Transaction) error

	History(ctx context.Context, filter HistoryFilter) ([]*Transaction, *pagination.PageInfo, error)
	Summary(ctx context.Context, buyerID snowflake.ID) (*BuyerSummary, error)
	Get(ctx context.Context, id snowflake.ID) (*Transaction, error)
	FindByProviderOrder(ctx context.Context, provider, orderID string) (*Transaction, error)
}

// RefundService owns the refund path and the lottery cancellation cascade.
type RefundService interface {
	// Refund refunds a completed transaction. amount 0 means full refund.
	Refund(ctx context.Context, transactionID snowflake.ID, amount int64, reason string) (*Refund, error)

	// ApplyRefundEvent applies a refund observed via webhook without a
	// synchronous gateway call.
	ApplyRefundEvent(ctx context.Context, trx *Transaction, providerRefundID string, amount int64, reason string) error

	// CancelLottery cancels a lottery and refunds every paid ticket.
	CancelLottery(ctx context.Context, lotteryID, sellerID snowflake.ID) error

	ListFailed(ctx context.Context) ([]*Refund, error)
}
