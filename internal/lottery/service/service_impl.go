package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/mercatopro/mercato/internal/account/domain"
	"github.com/mercatopro/mercato/internal/clock"
	"github.com/mercatopro/mercato/internal/config"
	"github.com/mercatopro/mercato/internal/lottery/domain"
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
	AccountRepo accountdomain.Repository
	Marketplace *config.MarketplaceConfigHolder
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        domain.Repository
	accountRepo accountdomain.Repository
	marketplace *config.MarketplaceConfigHolder
}

func NewService(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("lottery.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		accountRepo: p.AccountRepo,
		marketplace: p.Marketplace,
	}
}

func (s *Service) Create(ctx context.Context, input domain.CreateLotteryInput) (*domain.Lottery, error) {
	input.Title = strings.TrimSpace(input.Title)
	if input.Title == "" {
		return nil, domain.ErrInvalidTitle
	}
	if input.ItemValue <= 0 {
		return nil, domain.ErrInvalidItemValue
	}
	if input.ItemsCount <= 0 {
		return nil, domain.ErrInvalidItemsCount
	}

	// Ticket price floors; the rounding loss stays with the seller.
	ticketPrice := input.ItemValue / int64(input.ItemsCount)
	if ticketPrice <= 0 {
		return nil, domain.ErrInvalidItemsCount
	}

	now := s.clock.Now()
	lottery := &domain.Lottery{
		ID:          s.genID.Generate(),
		SellerID:    input.SellerID,
		Title:       input.Title,
		Description: strings.TrimSpace(input.Description),
		ItemValue:   input.ItemValue,
		ItemsCount:  input.ItemsCount,
		TicketPrice: ticketPrice,
		Status:      domain.LotteryStatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Insert(ctx, s.db, lottery); err != nil {
		return nil, err
	}

	s.log.Info("lottery created",
		zap.String("lottery_id", lottery.ID.String()),
		zap.String("seller_id", lottery.SellerID.String()),
		zap.Int64("ticket_price", lottery.TicketPrice),
	)
	return lottery, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Lottery, error) {
	lottery, err := s.repo.Find(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if lottery == nil {
		return nil, domain.ErrNotFound
	}
	return lottery, nil
}

func (s *Service) List(ctx context.Context, filter domain.ListFilter) ([]*domain.Lottery, *pagination.PageInfo, error) {
	return s.repo.List(ctx, s.db, filter)
}

func (s *Service) Activate(ctx context.Context, id snowflake.ID, sellerID snowflake.ID) (*domain.Lottery, error) {
	lottery, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if lottery.SellerID != sellerID {
		return nil, domain.ErrNotFound
	}
	if lottery.Status != domain.LotteryStatusDraft {
		return nil, domain.ErrInvalidTransition
	}

	seller, err := s.accountRepo.Find(ctx, s.db, sellerID)
	if err != nil {
		return nil, err
	}
	if seller == nil || !seller.KYCVerified {
		return nil, domain.ErrSellerNotVerified
	}

	moved, err := s.repo.UpdateStatus(ctx, s.db, id, domain.LotteryStatusDraft, domain.LotteryStatusActive, nil, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, domain.ErrInvalidTransition
	}

	s.log.Info("lottery activated", zap.String("lottery_id", id.String()))
	return s.Get(ctx, id)
}

func (s *Service) Close(ctx context.Context, id snowflake.ID) (*domain.Lottery, error) {
	now := s.clock.Now()
	expiration := now.AddDate(0, 0, s.marketplace.Current().DrawDelayDays)

	moved, err := s.repo.UpdateStatus(ctx, s.db, id, domain.LotteryStatusActive, domain.LotteryStatusClosed, &expiration, now)
	if err != nil {
		return nil, err
	}
	if !moved {
		lottery, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		// Concurrent close already landed.
		if lottery.Status == domain.LotteryStatusClosed {
			return lottery, nil
		}
		return nil, domain.ErrInvalidTransition
	}

	s.log.Info("lottery closed",
		zap.String("lottery_id", id.String()),
		zap.Time("expiration", expiration),
	)
	return s.Get(ctx, id)
}

func (s *Service) Cancel(ctx context.Context, id snowflake.ID, sellerID snowflake.ID) (*domain.Lottery, []*domain.Ticket, error) {
	lottery, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if sellerID != 0 && lottery.SellerID != sellerID {
		return nil, nil, domain.ErrNotFound
	}

	now := s.clock.Now()
	var moved bool
	for _, from := range []domain.LotteryStatus{
		domain.LotteryStatusDraft,
		domain.LotteryStatusActive,
		domain.LotteryStatusClosed,
	} {
		moved, err = s.repo.UpdateStatus(ctx, s.db, id, from, domain.LotteryStatusCancelled, nil, now)
		if err != nil {
			return nil, nil, err
		}
		if moved {
			break
		}
	}
	if !moved {
		return nil, nil, domain.ErrInvalidTransition
	}

	paid, err := s.repo.ListTicketsByStatus(ctx, s.db, id, domain.TicketStatusCompleted)
	if err != nil {
		return nil, nil, err
	}

	s.log.Info("lottery cancelled",
		zap.String("lottery_id", id.String()),
		zap.Int("paid_tickets", len(paid)),
	)

	lottery, err = s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return lottery, paid, nil
}
