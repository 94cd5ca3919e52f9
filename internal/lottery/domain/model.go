package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type LotteryStatus string

const (
	LotteryStatusDraft     LotteryStatus = "draft"
	LotteryStatusActive    LotteryStatus = "active"
	LotteryStatusClosed    LotteryStatus = "closed"
	LotteryStatusDrawn     LotteryStatus = "drawn"
	LotteryStatusCompleted LotteryStatus = "completed"
	LotteryStatusCancelled LotteryStatus = "cancelled"
)

type TicketStatus string

const (
	TicketStatusPending    TicketStatus = "pending"
	TicketStatusProcessing TicketStatus = "payment_processing"
	TicketStatusCompleted  TicketStatus = "completed"
	TicketStatusFailed     TicketStatus = "payment_failed"
	TicketStatusRefunded   TicketStatus = "refunded"
)

type Lottery struct {
	ID          snowflake.ID  `json:"id" gorm:"primaryKey"`
	SellerID    snowflake.ID  `json:"seller_id" gorm:"not null;index"`
	Title       string        `json:"title" gorm:"type:text;not null"`
	Description string        `json:"description" gorm:"type:text"`
	ItemValue   int64         `json:"item_value" gorm:"not null"`
	ItemsCount  int           `json:"items_count" gorm:"not null"`
	TicketPrice int64         `json:"ticket_price" gorm:"not null"`
	Status      LotteryStatus `json:"status" gorm:"type:text;not null"`
	Expiration  *time.Time    `json:"expiration"`
	CreatedAt   time.Time     `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time     `json:"updated_at" gorm:"not null"`
}

func (Lottery) TableName() string { return "lotteries" }

// Ticket rows are never hard-deleted. A refunded ticket keeps its number so
// the same number is never sold twice.
type Ticket struct {
	ID            snowflake.ID `json:"id" gorm:"primaryKey"`
	LotteryID     snowflake.ID `json:"lottery_id" gorm:"not null;index"`
	BuyerID       snowflake.ID `json:"buyer_id" gorm:"not null;index"`
	TicketNumber  int          `json:"ticket_number" gorm:"not null"`
	PaymentStatus TicketStatus `json:"payment_status" gorm:"type:text;not null"`
	CreatedAt     time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt     time.Time    `json:"updated_at" gorm:"not null"`
}

func (Ticket) TableName() string { return "lottery_tickets" }

type DrawingStatus string

const (
	DrawingStatusPending   DrawingStatus = "pending"
	DrawingStatusCompleted DrawingStatus = "completed"
	DrawingStatusCancelled DrawingStatus = "cancelled"
)

type WinnerDrawing struct {
	ID              snowflake.ID  `json:"id" gorm:"primaryKey"`
	LotteryID       snowflake.ID  `json:"lottery_id" gorm:"not null;uniqueIndex"`
	WinningTicketID *snowflake.ID `json:"winning_ticket_id"`
	WinnerID        *snowflake.ID `json:"winner_id"`
	PrizeAmount     int64         `json:"prize_amount" gorm:"not null"`
	Status          DrawingStatus `json:"status" gorm:"type:text;not null"`
	DrawnAt         *time.Time    `json:"drawn_at"`
	CreatedAt       time.Time     `json:"created_at" gorm:"not null"`
}

func (WinnerDrawing) TableName() string { return "winner_drawings" }
