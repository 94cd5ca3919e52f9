package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/mercatopro/mercato/pkg/db/pagination"
	"gorm.io/gorm"
)

type HistoryFilter struct {
	BuyerID snowflake.ID
	Status  TransactionStatus
	pagination.Pagination
}

// CompletionUpdate carries the capture outcome applied to a pending
// transaction.
type CompletionUpdate struct {
	CaptureID        string
	PayerEmail       string
	CommissionAmount int64
	NetAmount        int64
	CompletedAt      time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, trx *Transaction) error
	Find(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Transaction, error)
	FindByProviderOrder(ctx context.Context, db *gorm.DB, provider, orderID string) (*Transaction, error)
	List(ctx context.Context, db *gorm.DB, filter HistoryFilter) ([]*Transaction, *pagination.PageInfo, error)
	ListCompletedByLottery(ctx context.Context, db *gorm.DB, lotteryID snowflake.ID) ([]*Transaction, error)
	FindCompletedByTicket(ctx context.Context, db *gorm.DB, ticketID snowflake.ID) (*Transaction, error)

	SetProviderOrder(ctx context.Context, db *gorm.DB, id snowflake.ID, orderID string, now time.Time) error

	// Complete moves pending to completed; the boolean reports whether
	// this caller won the transition.
	Complete(ctx context.Context, db *gorm.DB, id snowflake.ID, update CompletionUpdate) (bool, error)
	Fail(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	MarkRefunded(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)

	// InsertRefund reports false when a row with the same provider refund
	// id already exists; the synchronous refund and the gateway webhook
	// carry the same id, so the loser of that race inserts nothing.
	InsertRefund(ctx context.Context, db *gorm.DB, refund *Refund) (bool, error)
	ListFailedRefunds(ctx context.Context, db *gorm.DB) ([]*Refund, error)
	SumRefunded(ctx context.Context, db *gorm.DB, transactionID snowflake.ID) (int64, error)

	// InsertEvent reports false when the (provider, provider_event_id)
	// pair was already recorded.
	InsertEvent(ctx context.Context, db *gorm.DB, event *GatewayEvent) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*GatewayEvent, error)
	MarkEventProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error

	Summary(ctx context.Context, db *gorm.DB, buyerID snowflake.ID) (*BuyerSummary, error)
}
