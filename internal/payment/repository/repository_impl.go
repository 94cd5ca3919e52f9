package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/mercatopro/mercato/internal/payment/domain"
	"github.com/mercatopro/mercato/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, trx *domain.Transaction) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO payment_transactions (
			id, ticket_id, lottery_id, buyer_id, gross_amount, commission_amount,
			net_amount, commission_rate_bps, currency, provider, provider_order_id,
			provider_capture_id, payer_email, status, created_at, updated_at,
			completed_at, refunded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trx.ID,
		trx.TicketID,
		trx.LotteryID,
		trx.BuyerID,
		trx.GrossAmount,
		trx.CommissionAmount,
		trx.NetAmount,
		trx.CommissionRateBps,
		trx.Currency,
		trx.Provider,
		trx.ProviderOrderID,
		trx.ProviderCaptureID,
		trx.PayerEmail,
		trx.Status,
		trx.CreatedAt,
		trx.UpdatedAt,
		trx.CompletedAt,
		trx.RefundedAt,
	).Error
}

const transactionColumns = `id, ticket_id, lottery_id, buyer_id, gross_amount, commission_amount,
	net_amount, commission_rate_bps, currency, provider, provider_order_id,
	provider_capture_id, payer_email, status, created_at, updated_at,
	completed_at, refunded_at`

func (r *repo) Find(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Transaction, error) {
	var item domain.Transaction
	err := conn.WithContext(ctx).Raw(
		`SELECT `+transactionColumns+`
		 FROM payment_transactions
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

func (r *repo) FindByProviderOrder(ctx context.Context, conn *gorm.DB, provider, orderID string) (*domain.Transaction, error) {
	var item domain.Transaction
	err := conn.WithContext(ctx).Raw(
		`SELECT `+transactionColumns+`
		 FROM payment_transactions
		 WHERE provider = ? AND provider_order_id = ?
		 ORDER BY id DESC
		 LIMIT 1`,
		provider,
		orderID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) List(ctx context.Context, conn *gorm.DB, filter domain.HistoryFilter) ([]*domain.Transaction, *pagination.PageInfo, error) {
	limit := filter.PageSize
	if limit <= 0 {
		limit = 20
	}

	query := conn.WithContext(ctx).Table("payment_transactions")
	if filter.BuyerID != 0 {
		query = query.Where("buyer_id = ?", filter.BuyerID)
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

	var items []*domain.Transaction
	if err := query.Order("id DESC").Limit(limit + 1).Find(&items).Error; err != nil {
		return nil, nil, err
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, limit, func(item *domain.Transaction) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: item.ID.String()})
		if err != nil {
			return ""
		}
		return token
	})
	return items, pageInfo, nil
}

func (r *repo) ListCompletedByLottery(ctx context.Context, conn *gorm.DB, lotteryID snowflake.ID) ([]*domain.Transaction, error) {
	var items []*domain.Transaction
	err := conn.WithContext(ctx).Raw(
		`SELECT `+transactionColumns+`
		 FROM payment_transactions
		 WHERE lottery_id = ? AND status = ?
		 ORDER BY id ASC`,
		lotteryID,
		domain.TransactionStatusCompleted,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) FindCompletedByTicket(ctx context.Context, conn *gorm.DB, ticketID snowflake.ID) (*domain.Transaction, error) {
	var item domain.Transaction
	err := conn.WithContext(ctx).Raw(
		`SELECT `+transactionColumns+`
		 FROM payment_transactions
		 WHERE ticket_id = ? AND status = ?
		 LIMIT 1`,
		ticketID,
		domain.TransactionStatusCompleted,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) SetProviderOrder(ctx context.Context, conn *gorm.DB, id snowflake.ID, orderID string, now time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE payment_transactions
		 SET provider_order_id = ?, updated_at = ?
		 WHERE id = ?`,
		orderID,
		now,
		id,
	).Error
}

func (r *repo) Complete(ctx context.Context, conn *gorm.DB, id snowflake.ID, update domain.CompletionUpdate) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE payment_transactions
		 SET status = ?, provider_capture_id = ?, payer_email = ?,
			 commission_amount = ?, net_amount = ?, completed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.TransactionStatusCompleted,
		update.CaptureID,
		update.PayerEmail,
		update.CommissionAmount,
		update.NetAmount,
		update.CompletedAt,
		update.CompletedAt,
		id,
		domain.TransactionStatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Fail(ctx context.Context, conn *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE payment_transactions
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.TransactionStatusFailed,
		now,
		id,
		domain.TransactionStatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkRefunded(ctx context.Context, conn *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE payment_transactions
		 SET status = ?, refunded_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.TransactionStatusRefunded,
		now,
		now,
		id,
		domain.TransactionStatusCompleted,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) InsertRefund(ctx context.Context, conn *gorm.DB, refund *domain.Refund) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`INSERT INTO refunds (
			id, transaction_id, amount, commission_refunded, net_refunded,
			reason, status, provider_refund_id, failure_detail, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider_refund_id) WHERE provider_refund_id <> '' DO NOTHING`,
		refund.ID,
		refund.TransactionID,
		refund.Amount,
		refund.CommissionRefunded,
		refund.NetRefunded,
		refund.Reason,
		refund.Status,
		refund.ProviderRefundID,
		refund.FailureDetail,
		refund.CreatedAt,
		refund.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ListFailedRefunds(ctx context.Context, conn *gorm.DB) ([]*domain.Refund, error) {
	var items []*domain.Refund
	err := conn.WithContext(ctx).Raw(
		`SELECT id, transaction_id, amount, commission_refunded, net_refunded,
			reason, status, provider_refund_id, failure_detail, created_at, updated_at
		 FROM refunds
		 WHERE status = ?
		 ORDER BY id ASC`,
		domain.RefundStatusFailed,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) SumRefunded(ctx context.Context, conn *gorm.DB, transactionID snowflake.ID) (int64, error) {
	var total int64
	err := conn.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0)
		 FROM refunds
		 WHERE transaction_id = ? AND status = ?`,
		transactionID,
		domain.RefundStatusCompleted,
	).Scan(&total).Error
	return total, err
}

func (r *repo) InsertEvent(ctx context.Context, conn *gorm.DB, event *domain.GatewayEvent) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`INSERT INTO gateway_events (
			id, provider, provider_event_id, event_type, payload, received_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, provider_event_id) DO NOTHING`,
		event.ID,
		event.Provider,
		event.ProviderEventID,
		event.EventType,
		event.Payload,
		event.ReceivedAt,
		event.ProcessedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindEvent(ctx context.Context, conn *gorm.DB, provider, providerEventID string) (*domain.GatewayEvent, error) {
	var item domain.GatewayEvent
	err := conn.WithContext(ctx).Raw(
		`SELECT id, provider, provider_event_id, event_type, payload, received_at, processed_at
		 FROM gateway_events
		 WHERE provider = ? AND provider_event_id = ?
		 LIMIT 1`,
		provider,
		providerEventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkEventProcessed(ctx context.Context, conn *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE gateway_events
		 SET processed_at = ?
		 WHERE id = ?`,
		processedAt,
		id,
	).Error
}

func (r *repo) Summary(ctx context.Context, conn *gorm.DB, buyerID snowflake.ID) (*domain.BuyerSummary, error) {
	var summary domain.BuyerSummary
	err := conn.WithContext(ctx).Raw(
		`SELECT
			? AS buyer_id,
			COALESCE(SUM(CASE WHEN status IN (?, ?) THEN gross_amount ELSE 0 END), 0) AS total_paid,
			COALESCE(SUM(CASE WHEN status IN (?, ?) THEN commission_amount ELSE 0 END), 0) AS total_commission,
			COALESCE(SUM(CASE WHEN status = ? THEN gross_amount ELSE 0 END), 0) AS total_refunded,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS completed_count,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS refunded_count
		 FROM payment_transactions
		 WHERE buyer_id = ?`,
		buyerID,
		domain.TransactionStatusCompleted,
		domain.TransactionStatusRefunded,
		domain.TransactionStatusCompleted,
		domain.TransactionStatusRefunded,
		domain.TransactionStatusRefunded,
		domain.TransactionStatusCompleted,
		domain.TransactionStatusRefunded,
		buyerID,
	).Scan(&summary).Error
	if err != nil {
		return nil, err
	}
	summary.BuyerID = buyerID
	return &summary, nil
}
