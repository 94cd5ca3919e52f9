package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/mercatopro/mercato/internal/lottery/domain"
	"github.com/mercatopro/mercato/pkg/db"
	"github.com/mercatopro/mercato/pkg/db/pagination"
	"gorm.io/gorm"
)

const reserveAttempts = 3

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, lottery *domain.Lottery) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO lotteries (
			id, seller_id, title, description, item_value, items_count,
			ticket_price, status, expiration, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lottery.ID,
		lottery.SellerID,
		lottery.Title,
		lottery.Description,
		lottery.ItemValue,
		lottery.ItemsCount,
		lottery.TicketPrice,
		lottery.Status,
		lottery.Expiration,
		lottery.CreatedAt,
		lottery.UpdatedAt,
	).Error
}

func (r *repo) Find(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Lottery, error) {
	var item domain.Lottery
	err := conn.WithContext(ctx).Raw(
		`SELECT id, seller_id, title, description, item_value, items_count,
			ticket_price, status, expiration, created_at, updated_at
		 FROM lotteries
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) List(ctx context.Context, conn *gorm.DB, filter domain.ListFilter) ([]*domain.Lottery, *pagination.PageInfo, error) {
	limit := filter.PageSize
	if limit <= 0 {
		limit = 20
	}

	query := conn.WithContext(ctx).Table("lotteries")
	if filter.SellerID != 0 {
		query = query.Where("seller_id = ?", filter.SellerID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.PageToken != "" {
		cursor, err := pagination.DecodeCursor(filter.PageToken)
		if err != nil {
			return nil, nil, err
		}
		lastID, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return nil, nil, err
		}
		query = query.Where("id < ?", lastID)
	}

	var items []*domain.Lottery
	if err := query.Order("id DESC").Limit(limit + 1).Find(&items).Error; err != nil {
		return nil, nil, err
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, limit, func(item *domain.Lottery) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: item.ID.String()})
		if err != nil {
			return ""
		}
		return token
	})
	return items, pageInfo, nil
}

func (r *repo) UpdateStatus(ctx context.Context, conn *gorm.DB, id snowflake.ID, from, to domain.LotteryStatus, expiration *time.Time, now time.Time) (bool, error) {
	query := `UPDATE lotteries
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`
	args := []any{to, now, id, from}
	if expiration != nil {
		query = `UPDATE lotteries
		 SET status = ?, expiration = ?, updated_at = ?
		 WHERE id = ? AND status = ?`
		args = []any{to, expiration, now, id, from}
	}

	res := conn.WithContext(ctx).Exec(query, args...)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ReserveTicket takes the next free number under the lottery capacity. The
// capacity check and the insert are a single statement so concurrent buyers
// cannot oversell; a duplicate ticket_number from a racing insert is retried
// with a fresh number.
func (r *repo) ReserveTicket(ctx context.Context, conn *gorm.DB, ticket *domain.Ticket) error {
	for attempt := 0; attempt < reserveAttempts; attempt++ {
		res := conn.WithContext(ctx).Exec(
			`INSERT INTO lottery_tickets (
				id, lottery_id, buyer_id, ticket_number, payment_status, created_at, updated_at
			)
			SELECT ?, l.id, ?, COALESCE(MAX(t.ticket_number), 0) + 1, ?, ?, ?
			FROM lotteries l
			LEFT JOIN lottery_tickets t ON t.lottery_id = l.id
			WHERE l.id = ? AND l.status = ?
			GROUP BY l.id, l.items_count
			HAVING COUNT(CASE WHEN t.payment_status <> ? THEN 1 END) < l.items_count`,
			ticket.ID,
			ticket.BuyerID,
			domain.TicketStatusPending,
			ticket.CreatedAt,
			ticket.UpdatedAt,
			ticket.LotteryID,
			domain.LotteryStatusActive,
			domain.TicketStatusFailed,
		)
		if res.Error != nil {
			if db.IsDuplicateKeyErr(res.Error) {
				continue
			}
			return res.Error
		}
		if res.RowsAffected == 0 {
			return r.reserveFailure(ctx, conn, ticket.LotteryID)
		}

		stored, err := r.FindTicket(ctx, conn, ticket.ID)
		if err != nil {
			return err
		}
		if stored == nil {
			return domain.ErrTicketNotFound
		}
		*ticket = *stored
		return nil
	}
	return domain.ErrSoldOut
}

func (r *repo) reserveFailure(ctx context.Context, conn *gorm.DB, lotteryID snowflake.ID) error {
	lottery, err := r.Find(ctx, conn, lotteryID)
	if err != nil {
		return err
	}
	if lottery == nil {
		return domain.ErrNotFound
	}
	if lottery.Status != domain.LotteryStatusActive {
		return domain.ErrNotActive
	}
	return domain.ErrSoldOut
}

func (r *repo) FindTicket(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Ticket, error) {
	var item domain.Ticket
	err := conn.WithContext(ctx).Raw(
		`SELECT id, lottery_id, buyer_id, ticket_number, payment_status, created_at, updated_at
		 FROM lottery_tickets
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListTickets(ctx context.Context, conn *gorm.DB, lotteryID snowflake.ID) ([]*domain.Ticket, error) {
	var items []*domain.Ticket
	err := conn.WithContext(ctx).Raw(
		`SELECT id, lottery_id, buyer_id, ticket_number, payment_status, created_at, updated_at
		 FROM lottery_tickets
		 WHERE lottery_id = ?
		 ORDER BY ticket_number ASC`,
		lotteryID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListTicketsByStatus(ctx context.Context, conn *gorm.DB, lotteryID snowflake.ID, status domain.TicketStatus) ([]*domain.Ticket, error) {
	var items []*domain.Ticket
	err := conn.WithContext(ctx).Raw(
		`SELECT id, lottery_id, buyer_id, ticket_number, payment_status, created_at, updated_at
		 FROM lottery_tickets
		 WHERE lottery_id = ? AND payment_status = ?
		 ORDER BY ticket_number ASC`,
		lotteryID,
		status,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpdateTicketStatus(ctx context.Context, conn *gorm.DB, id snowflake.ID, from, to domain.TicketStatus, now time.Time) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE lottery_tickets
		 SET payment_status = ?, updated_at = ?
		 WHERE id = ? AND payment_status = ?`,
		to,
		now,
		id,
		from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) CountOccupied(ctx context.Context, conn *gorm.DB, lotteryID snowflake.ID) (int, error) {
	var count int
	err := conn.WithContext(ctx).Raw(
		`SELECT COUNT(*)
		 FROM lottery_tickets
		 WHERE lottery_id = ? AND payment_status <> ?`,
		lotteryID,
		domain.TicketStatusFailed,
	).Scan(&count).Error
	return count, err
}

func (r *repo) CountCompleted(ctx context.Context, conn *gorm.DB, lotteryID snowflake.ID) (int, error) {
	var count int
	err := conn.WithContext(ctx).Raw(
		`SELECT COUNT(*)
		 FROM lottery_tickets
		 WHERE lottery_id = ? AND payment_status = ?`,
		lotteryID,
		domain.TicketStatusCompleted,
	).Scan(&count).Error
	return count, err
}
