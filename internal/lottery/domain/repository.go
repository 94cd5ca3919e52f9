package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/mercatopro/mercato/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListFilter struct {
	SellerID snowflake.ID
	Status   LotteryStatus
	pagination.Pagination
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, lottery *Lottery) error
	Find(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Lottery, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Lottery, *pagination.PageInfo, error)

	// UpdateStatus transitions a lottery from one status to another and
	// reports whether the row actually moved.
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to LotteryStatus, expiration *time.Time, now time.Time) (bool, error)

	// ReserveTicket inserts a ticket with the next free number, guarded by
	// the lottery capacity. Returns ErrSoldOut when no slot remains.
	ReserveTicket(ctx context.Context, db *gorm.DB, ticket *Ticket) error

	FindTicket(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Ticket, error)
	ListTickets(ctx context.Context, db *gorm.DB, lotteryID snowflake.ID) ([]*Ticket, error)
	ListTicketsByStatus(ctx context.Context, db *gorm.DB, lotteryID snowflake.ID, status TicketStatus) ([]*Ticket, error)

	// UpdateTicketStatus is a conditional transition; the boolean reports
	// whether the ticket was in the expected state.
	UpdateTicketStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to TicketStatus, now time.Time) (bool, error)

	// CountOccupied counts tickets holding a capacity slot (anything but
	// payment_failed).
	CountOccupied(ctx context.Context, db *gorm.DB, lotteryID snowflake.ID) (int, error)
	CountCompleted(ctx context.Context, db *gorm.DB, lotteryID snowflake.ID) (int, error)
}
