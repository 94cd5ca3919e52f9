package domain

import "errors"

var (
	ErrNotFound          = errors.New("lottery_not_found")
	ErrTicketNotFound    = errors.New("ticket_not_found")
	ErrInvalidTitle      = errors.New("invalid_title")
	ErrInvalidItemValue  = errors.New("invalid_item_value")
	ErrInvalidItemsCount = errors.New("invalid_items_count")
	ErrSellerNotVerified = errors.New("seller_not_verified")
	ErrInvalidTransition = errors.New("invalid_lottery_transition")
	ErrNotActive         = errors.New("lottery_not_active")
	ErrSoldOut           = errors.New("lottery_sold_out")
)
