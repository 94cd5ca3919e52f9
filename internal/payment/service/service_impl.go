package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/mercatopro/mercato/internal/clock"
	"github.com/mercatopro/mercato/internal/config"
	lotterydomain "github.com/mercatopro/mercato/internal/lottery/domain"
	"github.com/mercatopro/mercato/internal/notification"
	obsmetrics "github.com/mercatopro/mercato/internal/observability/metrics"
	"github.com/mercatopro/mercato/internal/payment/commission"
	"github.com/mercatopro/mercato/internal/payment/domain"
	"github.com/mercatopro/mercato/internal/payment/gateway"
	"github.com/mercatopro/mercato/pkg/db/pagination"
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
	Marketplace *config.MarketplaceConfigHolder
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
	marketplace *config.MarketplaceConfigHolder
	notifier    *notification.Notifier
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("payment.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		lotteryRepo: p.LotteryRepo,
		lotterySvc:  p.LotterySvc,
		gateway:     p.Gateway,
		marketplace: p.Marketplace,
		notifier:    p.Notifier,
		obsMetrics:  p.ObsMetrics,
	}
}

func (s *Service) CreateOrder(ctx context.Context, lotteryID, buyerID snowflake.ID) (*domain.CheckoutResult, error) {
	lottery, err := s.lotteryRepo.Find(ctx, s.db, lotteryID)
	if err != nil {
		return nil, err
	}
	if lottery == nil {
		return nil, lotterydomain.ErrNotFound
	}
	if lottery.Status != lotterydomain.LotteryStatusActive {
		return nil, lotterydomain.ErrNotActive
	}

	market := s.marketplace.Current()
	fee, net, err := commission.Split(lottery.TicketPrice, market.CommissionRateBps)
	if err != nil {
		return nil, domain.ErrInvalidAmount
	}

	now := s.clock.Now()
	ticket := &lotterydomain.Ticket{
		ID:        s.genID.Generate(),
		LotteryID: lotteryID,
		BuyerID:   buyerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.lotteryRepo.ReserveTicket(ctx, s.db, ticket); err != nil {
		return nil, err
	}

	trx := &domain.Transaction{
		ID:                s.genID.Generate(),
		TicketID:          ticket.ID,
		LotteryID:         lotteryID,
		BuyerID:           buyerID,
		GrossAmount:       lottery.TicketPrice,
		CommissionAmount:  fee,
		NetAmount:         net,
		CommissionRateBps: market.CommissionRateBps,
		Currency:          market.Currency,
		Provider:          s.gateway.Provider(),
		Status:            domain.TransactionStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.Insert(ctx, s.db, trx); err != nil {
		return nil, err
	}

	// The gateway round trip stays outside any DB transaction. The local
	// transaction id doubles as the provider idempotency key so a retried
	// request cannot open two orders.
	handle, err := s.gateway.CreateOrder(ctx, gateway.OrderRequest{
		RequestID: trx.ID.String(),
		Amount:    trx.GrossAmount,
		Currency:  trx.Currency,
		Reference: ticket.ID.String(),
	})
	if err != nil {
		s.abandonCheckout(ctx, trx, ticket.ID)
		return nil, err
	}

	if err := s.repo.SetProviderOrder(ctx, s.db, trx.ID, handle.OrderID, s.clock.Now()); err != nil {
		return nil, err
	}
	trx.ProviderOrderID = handle.OrderID

	if s.obsMetrics != nil {
		s.obsMetrics.OrdersCreated.WithLabelValues(trx.Provider).Inc()
	}
	s.log.Info("order created",
		zap.String("transaction_id", trx.ID.String()),
		zap.String("ticket_id", ticket.ID.String()),
		zap.String("provider_order_id", handle.OrderID),
		zap.Int64("gross", trx.GrossAmount),
	)

	return &domain.CheckoutResult{
		Transaction: trx,
		Ticket:      ticket,
		ApprovalURL: handle.ApprovalURL,
	}, nil
}

// abandonCheckout fails the transaction and frees the ticket slot after a
// gateway failure. The ticket row stays for audit; only its status changes.
func (s *Service) abandonCheckout(ctx context.Context, trx *domain.Transaction, ticketID snowflake.ID) {
	now := s.clock.Now()
	if _, err := s.repo.Fail(ctx, s.db, trx.ID, now); err != nil {
		s.log.Error("failed to fail transaction", zap.String("transaction_id", trx.ID.String()), zap.Error(err))
	}
	for _, from := range []lotterydomain.TicketStatus{
		lotterydomain.TicketStatusPending,
		lotterydomain.TicketStatusProcessing,
	} {
		moved, err := s.lotteryRepo.UpdateTicketStatus(ctx, s.db, ticketID, from, lotterydomain.TicketStatusFailed, now)
		if err != nil {
			s.log.Error("failed to release ticket", zap.String("ticket_id", ticketID.String()), zap.Error(err))
			return
		}
		if moved {
			return
		}
	}
}

func (s *Service) CaptureOrder(ctx context.Context, transactionID snowflake.ID) (*domain.Transaction, error) {
	trx, err := s.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	switch trx.Status {
	case domain.TransactionStatusCompleted:
		// Idempotent replay; the gateway is not called again.
		return trx, nil
	case domain.TransactionStatusPending:
	default:
		return nil, domain.ErrConflict
	}
	if strings.TrimSpace(trx.ProviderOrderID) == "" {
		return nil, domain.ErrConflict
	}

	result, err := s.gateway.CaptureOrder(ctx, trx.ProviderOrderID, trx.ID.String())
	if err != nil {
		if errors.Is(err, domain.ErrGatewayUnavailable) {
			// Retryable; the transaction stays pending and the IPN
			// reconciliation can still complete it.
			if s.obsMetrics != nil {
				s.obsMetrics.CapturesCompleted.WithLabelValues("unavailable").Inc()
			}
			return nil, err
		}
		s.abandonCheckout(ctx, trx, trx.TicketID)
		if s.obsMetrics != nil {
			s.obsMetrics.CapturesCompleted.WithLabelValues("rejected").Inc()
		}
		return nil, err
	}

	return s.ApplyCapture(ctx, trx, result.CaptureID, result.PayerEmail)
}

// ApplyCapture writes the completion atomically. Both the synchronous
// capture path and the webhook reconciliation end here, so a race between
// them resolves through the conditional update: the loser reloads the row
// and returns the completed state as success.
func (s *Service) ApplyCapture(ctx context.Context, trx *domain.Transaction, captureID, payerEmail string) (*domain.Transaction, error) {
	fee, net, err := commission.Split(trx.GrossAmount, trx.CommissionRateBps)
	if err != nil {
		return nil, domain.ErrInvalidAmount
	}

	now := s.clock.Now()
	var won bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		won, err = s.repo.Complete(ctx, tx, trx.ID, domain.CompletionUpdate{
			CaptureID:        captureID,
			PayerEmail:       payerEmail,
			CommissionAmount: fee,
			NetAmount:        net,
			CompletedAt:      now,
		})
		if err != nil {
			return err
		}
		if !won {
			return nil
		}

		for _, from := range []lotterydomain.TicketStatus{
			lotterydomain.TicketStatusPending,
			lotterydomain.TicketStatusProcessing,
		} {
			moved, err := s.lotteryRepo.UpdateTicketStatus(ctx, tx, trx.TicketID, from, lotterydomain.TicketStatusCompleted, now)
			if err != nil {
				return err
			}
			if moved {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	stored, err := s.Get(ctx, trx.ID)
	if err != nil {
		return nil, err
	}
	if !won {
		if stored.Status == domain.TransactionStatusCompleted {
			return stored, nil
		}
		return nil, domain.ErrConflict
	}

	if s.obsMetrics != nil {
		s.obsMetrics.CapturesCompleted.WithLabelValues("completed").Inc()
	}
	s.log.Info("payment captured",
		zap.String("transaction_id", stored.ID.String()),
		zap.String("capture_id", captureID),
		zap.Int64("gross", stored.GrossAmount),
		zap.Int64("commission", stored.CommissionAmount),
		zap.Int64("net", stored.NetAmount),
	)

	s.afterCapture(ctx, stored)
	return stored, nil
}

// afterCapture closes the lottery on sell-out and notifies the buyer.
// Neither step affects the capture outcome.
func (s *Service) afterCapture(ctx context.Context, trx *domain.Transaction) {
	lottery, err := s.lotteryRepo.Find(ctx, s.db, trx.LotteryID)
	if err != nil || lottery == nil {
		s.log.Warn("lottery lookup failed after capture", zap.String("lottery_id", trx.LotteryID.String()), zap.Error(err))
		return
	}

	completed, err := s.lotteryRepo.CountCompleted(ctx, s.db, trx.LotteryID)
	if err != nil {
		s.log.Warn("sell-out check failed", zap.String("lottery_id", trx.LotteryID.String()), zap.Error(err))
	} else if completed >= lottery.ItemsCount && lottery.Status == lotterydomain.LotteryStatusActive {
		if _, err := s.lotterySvc.Close(ctx, trx.LotteryID); err != nil {
			s.log.Warn("sell-out close failed", zap.String("lottery_id", trx.LotteryID.String()), zap.Error(err))
		}
	}

	if s.notifier != nil {
		ticket, err := s.lotteryRepo.FindTicket(ctx, s.db, trx.TicketID)
		if err == nil && ticket != nil {
			s.notifier.PaymentCompleted(trx.BuyerID, lottery.Title, ticket.TicketNumber, trx.GrossAmount, trx.Currency)
		}
	}
}

func (s *Service) MarkProcessing(ctx context.Context, trx *domain.Transaction) error {
	if trx.Status != domain.TransactionStatusPending {
		return nil
	}
	_, err := s.lotteryRepo.UpdateTicketStatus(ctx, s.db, trx.TicketID,
		lotterydomain.TicketStatusPending, lotterydomain.TicketStatusProcessing, s.clock.Now())
	return err
}

func (s *Service) CancelOrder(ctx context.Context, transactionID, buyerID snowflake.ID) error {
	trx, err := s.Get(ctx, transactionID)
	if err != nil {
		return err
	}
	if buyerID != 0 && trx.BuyerID != buyerID {
		return domain.ErrNotFound
	}
	if trx.Status != domain.TransactionStatusPending {
		return domain.ErrConflict
	}

	s.abandonCheckout(ctx, trx, trx.TicketID)
	s.log.Info("checkout cancelled", zap.String("transaction_id", trx.ID.String()))
	return nil
}

func (s *Service) History(ctx context.Context, filter domain.HistoryFilter) ([]*domain.Transaction, *pagination.PageInfo, error) {
	return s.repo.List(ctx, s.db, filter)
}

func (s *Service) Summary(ctx context.Context, buyerID snowflake.ID) (*domain.BuyerSummary, error) {
	return s.repo.Summary(ctx, s.db, buyerID)
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Transaction, error) {
	trx, err := s.repo.Find(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if trx == nil {
		return nil, domain.ErrNotFound
	}
	return trx, nil
}

func (s *Service) FindByProviderOrder(ctx context.Context, provider, orderID string) (*domain.Transaction, error) {
	return s.repo.FindByProviderOrder(ctx, s.db, provider, orderID)
}
