package refund

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/mercatopro/mercato/internal/clock"
	lotterydomain "github.com/mercatopro/mercato/internal/lottery/domain"
	"github.com/mercatopro/mercato/internal/notification"
	obsmetrics "github.com/mercatopro/mercato/internal/observability/metrics"
	"github.com/mercatopro/mercato/internal/payment/commission"
	"github.com/mercatopro/mercato/internal/payment/domain"
	"github.com/mercatopro/mercato/internal/payment/gateway"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        domain.Repository
	LotteryRepo lotterydomain.Repository
	LotterySvc  lotterydomain.Service
	Gateway     gateway.Gateway
	Notifier    *notification.Notifier `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics    `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        domain.Repository
	lotteryRepo lotterydomain.Repository
	lotterySvc  lotterydomain.Service
	gateway     gateway.Gateway
	notifier    *notification.Notifier
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) domain.RefundService {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("payment.refund"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		lotteryRepo: p.LotteryRepo,
		lotterySvc:  p.LotterySvc,
		gateway:     p.Gateway,
		notifier:    p.Notifier,
		obsMetrics:  p.ObsMetrics,
	}
}

func (s *Service) Refund(ctx context.Context, transactionID snowflake.ID, amount int64, reason string) (*domain.Refund, error) {
	trx, err := s.repo.Find(ctx, s.db, transactionID)
	if err != nil {
		return nil, err
	}
	if trx == nil {
		return nil, domain.ErrNotFound
	}
	if trx.Status != domain.TransactionStatusCompleted {
		return nil, domain.ErrConflict
	}

	full := amount <= 0
	if full {
		amount = trx.GrossAmount
	}
	if amount > trx.GrossAmount {
		return nil, domain.ErrInvalidAmount
	}

	refundedSoFar, err := s.repo.SumRefunded(ctx, s.db, transactionID)
	if err != nil {
		return nil, err
	}
	if refundedSoFar+amount > trx.GrossAmount {
		return nil, domain.ErrInvalidAmount
	}

	feeShare, netShare, err := commission.Proportional(amount, trx.GrossAmount, trx.CommissionAmount)
	if err != nil {
		return nil, domain.ErrInvalidAmount
	}

	now := s.clock.Now()
	record := &domain.Refund{
		ID:                 s.genID.Generate(),
		TransactionID:      transactionID,
		Amount:             amount,
		CommissionRefunded: feeShare,
		NetRefunded:        netShare,
		Reason:             reason,
		Status:             domain.RefundStatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	// Gateway call first, outside any DB transaction. The refund row id is
	// the provider idempotency key.
	gatewayAmount := amount
	if full {
		gatewayAmount = 0
	}
	result, err := s.gateway.Refund(ctx, trx.ProviderCaptureID, gatewayAmount, trx.Currency, record.ID.String())
	if err != nil {
		if errors.Is(err, domain.ErrGatewayUnavailable) {
			// Nothing recorded; the admin retries later.
			return nil, err
		}
		record.Status = domain.RefundStatusFailed
		record.FailureDetail = err.Error()
		if _, insertErr := s.repo.InsertRefund(ctx, s.db, record); insertErr != nil {
			return nil, insertErr
		}
		if s.obsMetrics != nil {
			s.obsMetrics.RefundsProcessed.WithLabelValues("failed").Inc()
		}
		s.log.Warn("refund rejected by gateway",
			zap.String("transaction_id", transactionID.String()),
			zap.String("refund_id", record.ID.String()),
			zap.Error(err),
		)
		return record, domain.ErrRefundFailed
	}

	record.Status = domain.RefundStatusCompleted
	record.ProviderRefundID = result.RefundID
	if err := s.settle(ctx, trx, record, full); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *Service) ApplyRefundEvent(ctx context.Context, trx *domain.Transaction, providerRefundID string, amount int64, reason string) error {
	if trx.Status != domain.TransactionStatusCompleted {
		// Already refunded or never completed; redelivery is a no-op.
		return nil
	}

	full := amount <= 0 || amount >= trx.GrossAmount
	if full {
		amount = trx.GrossAmount
	}
	feeShare, netShare, err := commission.Proportional(amount, trx.GrossAmount, trx.CommissionAmount)
	if err != nil {
		return domain.ErrInvalidAmount
	}

	now := s.clock.Now()
	record := &domain.Refund{
		ID:                 s.genID.Generate(),
		TransactionID:      trx.ID,
		Amount:             amount,
		CommissionRefunded: feeShare,
		NetRefunded:        netShare,
		Reason:             reason,
		Status:             domain.RefundStatusCompleted,
		ProviderRefundID:   providerRefundID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	return s.settle(ctx, trx, record, full)
}

// settle records the refund row and, for full refunds, transitions the
// transaction and ticket in one DB transaction.
func (s *Service) settle(ctx context.Context, trx *domain.Transaction, record *domain.Refund, full bool) error {
	now := s.clock.Now()
	var inserted bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		inserted, err = s.repo.InsertRefund(ctx, tx, record)
		if err != nil {
			return err
		}
		if !inserted {
			// The same provider refund already landed through the other
			// path; that writer owns the transitions.
			return nil
		}
		if !full {
			return nil
		}

		moved, err := s.repo.MarkRefunded(ctx, tx, trx.ID, now)
		if err != nil {
			return err
		}
		if !moved {
			// Transaction already moved on; keep the row for audit.
			return nil
		}
		_, err = s.lotteryRepo.UpdateTicketStatus(ctx, tx, trx.TicketID,
			lotterydomain.TicketStatusCompleted, lotterydomain.TicketStatusRefunded, now)
		return err
	})
	if err != nil {
		return err
	}
	if !inserted {
		s.log.Info("refund already recorded",
			zap.String("transaction_id", trx.ID.String()),
			zap.String("provider_refund_id", record.ProviderRefundID),
		)
		return nil
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RefundsProcessed.WithLabelValues("completed").Inc()
	}
	s.log.Info("refund settled",
		zap.String("transaction_id", trx.ID.String()),
		zap.String("refund_id", record.ID.String()),
		zap.Int64("amount", record.Amount),
		zap.Bool("full", full),
	)

	if s.notifier != nil {
		lottery, lookupErr := s.lotteryRepo.Find(ctx, s.db, trx.LotteryID)
		if lookupErr == nil && lottery != nil {
			s.notifier.RefundProcessed(trx.BuyerID, lottery.Title, record.Amount, trx.Currency)
		}
	}
	return nil
}

// CancelLottery cancels the lottery and pushes every paid ticket through
// the refund path. A rejected refund lands in the review queue and does not
// stop the cascade.
func (s *Service) CancelLottery(ctx context.Context, lotteryID, sellerID snowflake.ID) error {
	_, paid, err := s.lotterySvc.Cancel(ctx, lotteryID, sellerID)
	if err != nil {
		return err
	}

	for _, ticket := range paid {
		trx, err := s.repo.FindCompletedByTicket(ctx, s.db, ticket.ID)
		if err != nil {
			return err
		}
		if trx == nil {
			s.log.Warn("paid ticket without completed transaction",
				zap.String("ticket_id", ticket.ID.String()),
			)
			continue
		}
		if _, err := s.Refund(ctx, trx.ID, 0, "lottery cancelled"); err != nil {
			if errors.Is(err, domain.ErrRefundFailed) {
				continue
			}
			return err
		}
	}
	return nil
}

func (s *Service) ListFailed(ctx context.Context) ([]*domain.Refund, error) {
	return s.repo.ListFailedRefunds(ctx, s.db)
}
