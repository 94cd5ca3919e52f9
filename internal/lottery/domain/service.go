package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/mercatopro/mercato/pkg/db/pagination"
)

type CreateLotteryInput struct {
	SellerID    snowflake.ID
	Title       string
	Description string
	ItemValue   int64
	ItemsCount  int
}

type Service interface {
	Create(ctx context.Context, input CreateLotteryInput) (*Lottery, error)
	Get(ctx context.Context, id snowflake.ID) (*Lottery, error)
	List(ctx context.Context, filter ListFilter) ([]*Lottery, *pagination.PageInfo, error)

	// Activate moves a draft lottery to active. The seller must have
	// passed KYC verification.
	Activate(ctx context.Context, id snowflake.ID, sellerID snowflake.ID) (*Lottery, error)

	// Close moves an active lottery to closed and stamps the drawing
	// expiration.
	Close(ctx context.Context, id snowflake.ID) (*Lottery, error)

	// Cancel marks the lottery cancelled and returns the completed tickets
	// whose payments must be refunded by the caller.
	Cancel(ctx context.Context, id snowflake.ID, sellerID snowflake.ID) (*Lottery, []*Ticket, error)
}
