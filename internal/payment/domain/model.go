package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusRefunded  TransactionStatus = "refunded"
)

// Transaction is one payment attempt for a ticket. A ticket may accumulate
// several failed attempts; at most one row ever reaches completed.
type Transaction struct {
	ID                snowflake.ID      `json:"id" gorm:"primaryKey"`
	TicketID          snowflake.ID      `json:"ticket_id" gorm:"not null;index"`
	LotteryID         snowflake.ID      `json:"lottery_id" gorm:"not null;index"`
	BuyerID           snowflake.ID      `json:"buyer_id" gorm:"not null;index"`
	GrossAmount       int64             `json:"gross_amount" gorm:"not null"`
	CommissionAmount  int64             `json:"commission_amount" gorm:"not null"`
	NetAmount         int64             `json:"net_amount" gorm:"not null"`
	CommissionRateBps int64             `json:"commission_rate_bps" gorm:"not null"`
	Currency          string            `json:"currency" gorm:"type:text;not null"`
	Provider          string            `json:"provider" gorm:"type:text;not null"`
	ProviderOrderID   string            `json:"provider_order_id" gorm:"type:text"`
	ProviderCaptureID string            `json:"provider_capture_id" gorm:"type:text"`
	PayerEmail        string            `json:"payer_email" gorm:"type:text"`
	Status            TransactionStatus `json:"status" gorm:"type:text;not null"`
	CreatedAt         time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt         time.Time         `json:"updated_at" gorm:"not null"`
	CompletedAt       *time.Time        `json:"completed_at"`
	RefundedAt        *time.Time        `json:"refunded_at"`
}

func (Transaction) TableName() string { return "payment_transactions" }

type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusCompleted RefundStatus = "completed"
	RefundStatusFailed    RefundStatus = "failed"
)

// Refund records one refund attempt. Failed rows form the admin review
// queue and are never retried automatically.
type Refund struct {
	ID                 snowflake.ID `json:"id" gorm:"primaryKey"`
	TransactionID      snowflake.ID `json:"transaction_id" gorm:"not null;index"`
	Amount             int64        `json:"amount" gorm:"not null"`
	CommissionRefunded int64        `json:"commission_refunded" gorm:"not null"`
	NetRefunded        int64        `json:"net_refunded" gorm:"not null"`
	Reason             string       `json:"reason" gorm:"type:text"`
	Status             RefundStatus `json:"status" gorm:"type:text;not null"`
	ProviderRefundID   string       `json:"provider_refund_id" gorm:"type:text"`
	FailureDetail      string       `json:"failure_detail" gorm:"type:text"`
	CreatedAt          time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt          time.Time    `json:"updated_at" gorm:"not null"`
}

func (Refund) TableName() string { return "refunds" }

// GatewayEvent deduplicates webhook deliveries. The unique
// (provider, provider_event_id) pair makes redelivery a no-op.
type GatewayEvent struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (GatewayEvent) TableName() string { return "gateway_events" }

// BuyerSummary is the per-buyer payment rollup, computed by aggregate query.
type BuyerSummary struct {
	BuyerID         snowflake.ID `json:"buyer_id"`
	TotalPaid       int64        `json:"total_paid"`
	TotalCommission int64        `json:"total_commission"`
	TotalRefunded   int64        `json:"total_refunded"`
	CompletedCount  int          `json:"completed_count"`
	RefundedCount   int          `json:"refunded_count"`
}
