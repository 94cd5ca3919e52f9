// Package drawing runs the winner extraction worker. Closed lotteries past
// their expiration are drawn exactly once; the unique drawing row per
// lottery is the lock between concurrent workers.
package drawing

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/mercatopro/mercato/internal/clock"
	"github.com/mercatopro/mercato/internal/config"
	lotterydomain "github.com/mercatopro/mercato/internal/lottery/domain"
	"github.com/mercatopro/mercato/internal/notification"
	obsmetrics "github.com/mercatopro/mercato/internal/observability/metrics"
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
	LotteryRepo lotterydomain.Repository
	Marketplace *config.MarketplaceConfigHolder
	Config      Config                 `optional:"true"`
	Notifier    *notification.Notifier `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics    `optional:"true"`
}

type Scheduler struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	lotteryRepo lotterydomain.Repository
	marketplace *config.MarketplaceConfigHolder
	cfg         Config
	notifier    *notification.Notifier
	obsMetrics  *obsmetrics.Metrics
}

func New(p Params) *Scheduler {
	return &Scheduler{
		db:          p.DB,
		log:         p.Log.Named("drawing.scheduler"),
		genID:       p.GenID,
		clock:       p.Clock,
		lotteryRepo: p.LotteryRepo,
		marketplace: p.Marketplace,
		cfg:         p.Config.withDefaults(),
		notifier:    p.Notifier,
		obsMetrics:  p.ObsMetrics,
	}
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.log.Error("drawing pass failed", zap.Error(err))
			}
		}
	}
}

// RunOnce draws every due lottery in the current batch.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	due, err := s.findDue(ctx)
	if err != nil {
		return err
	}
	for _, lottery := range due {
		if err := s.draw(ctx, lottery); err != nil {
			s.log.Error("drawing failed",
				zap.String("lottery_id", lottery.ID.String()),
				zap.Error(err),
			)
		}
	}
	return nil
}

// findDue returns closed lotteries past expiration that have no drawing
// yet, plus those whose drawing has sat in pending long enough that the
// worker holding it must be dead.
func (s *Scheduler) findDue(ctx context.Context) ([]*lotterydomain.Lottery, error) {
	now := s.clock.Now()
	var items []*lotterydomain.Lottery
	err := s.db.WithContext(ctx).Raw(
		`SELECT l.id, l.seller_id, l.title, l.description, l.item_value, l.items_count,
			l.ticket_price, l.status, l.expiration, l.created_at, l.updated_at
		 FROM lotteries l
		 LEFT JOIN winner_drawings d ON d.lottery_id = l.id
		 WHERE l.status = ?
		   AND l.expiration IS NOT NULL
		   AND l.expiration <= ?
		   AND (d.id IS NULL OR (d.status = ? AND d.created_at <= ?))
		 ORDER BY l.expiration ASC
		 LIMIT ?`,
		lotterydomain.LotteryStatusClosed,
		now,
		lotterydomain.DrawingStatusPending,
		now.Add(-s.cfg.PendingRetryAfter),
		s.cfg.BatchSize,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

type drawingRow struct {
	ID        snowflake.ID
	Status    lotterydomain.DrawingStatus
	CreatedAt time.Time
}

func (s *Scheduler) findDrawing(ctx context.Context, lotteryID snowflake.ID) (*drawingRow, error) {
	var row drawingRow
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, status, created_at FROM winner_drawings WHERE lottery_id = ?`,
		lotteryID,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &row, nil
}

func (s *Scheduler) draw(ctx context.Context, lottery *lotterydomain.Lottery) error {
	drawingID := s.genID.Generate()
	now := s.clock.Now()

	// The conditional insert is the per-lottery lock; a racing worker
	// inserts zero rows and walks away.
	res := s.db.WithContext(ctx).Exec(
		`INSERT INTO winner_drawings (id, lottery_id, prize_amount, status, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (lottery_id) DO NOTHING`,
		drawingID,
		lottery.ID,
		lottery.ItemValue,
		lotterydomain.DrawingStatusPending,
		now,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		existing, err := s.findDrawing(ctx, lottery.ID)
		if err != nil {
			return err
		}
		if existing == nil || existing.Status != lotterydomain.DrawingStatusPending {
			return nil
		}
		if existing.CreatedAt.After(now.Add(-s.cfg.PendingRetryAfter)) {
			// Another worker holds a fresh lock.
			return nil
		}
		// The worker that took the lock died mid-draw; pick up its row.
		drawingID = existing.ID
		s.log.Warn("resuming stalled drawing",
			zap.String("lottery_id", lottery.ID.String()),
			zap.String("drawing_id", drawingID.String()),
		)
	}

	eligible, err := s.lotteryRepo.ListTicketsByStatus(ctx, s.db, lottery.ID, lotterydomain.TicketStatusCompleted)
	if err != nil {
		return err
	}
	if len(eligible) == 0 {
		// Every ticket was refunded or never paid; nothing to award.
		s.log.Info("no eligible tickets, drawing cancelled",
			zap.String("lottery_id", lottery.ID.String()),
		)
		moved, err := s.finishDrawing(ctx, drawingID, nil, lotterydomain.DrawingStatusCancelled, now)
		if err != nil || !moved {
			return err
		}
		_, err = s.lotteryRepo.UpdateStatus(ctx, s.db, lottery.ID,
			lotterydomain.LotteryStatusClosed, lotterydomain.LotteryStatusDrawn, nil, now)
		return err
	}

	winner, err := pick(eligible)
	if err != nil {
		return err
	}

	moved, err := s.finishDrawing(ctx, drawingID, winner, lotterydomain.DrawingStatusCompleted, now)
	if err != nil {
		return err
	}
	if !moved {
		// A resumed and an original worker raced; the other one finished.
		return nil
	}
	if _, err := s.lotteryRepo.UpdateStatus(ctx, s.db, lottery.ID,
		lotterydomain.LotteryStatusClosed, lotterydomain.LotteryStatusDrawn, nil, now); err != nil {
		return err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.DrawingsCompleted.Inc()
	}
	s.log.Info("winner drawn",
		zap.String("lottery_id", lottery.ID.String()),
		zap.String("winning_ticket_id", winner.ID.String()),
		zap.Int("ticket_number", winner.TicketNumber),
	)

	if s.notifier != nil {
		currency := s.marketplace.Current().Currency
		s.notifier.WinnerDrawn(winner.BuyerID, lottery.Title, winner.TicketNumber, lottery.ItemValue, currency)
		s.notifier.SellerDrawn(lottery.SellerID, lottery.Title)
	}
	return nil
}

// finishDrawing moves a pending drawing to its terminal status; the
// boolean reports whether this caller won the move.
func (s *Scheduler) finishDrawing(ctx context.Context, drawingID snowflake.ID, winner *lotterydomain.Ticket, status lotterydomain.DrawingStatus, now time.Time) (bool, error) {
	var res *gorm.DB
	if winner == nil {
		res = s.db.WithContext(ctx).Exec(
			`UPDATE winner_drawings
			 SET status = ?, drawn_at = ?
			 WHERE id = ? AND status = ?`,
			status,
			now,
			drawingID,
			lotterydomain.DrawingStatusPending,
		)
	} else {
		res = s.db.WithContext(ctx).Exec(
			`UPDATE winner_drawings
			 SET status = ?, winning_ticket_id = ?, winner_id = ?, drawn_at = ?
			 WHERE id = ? AND status = ?`,
			status,
			winner.ID,
			winner.BuyerID,
			now,
			drawingID,
			lotterydomain.DrawingStatusPending,
		)
	}
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// pick selects one ticket uniformly at random using crypto/rand.
func pick(tickets []*lotterydomain.Ticket) (*lotterydomain.Ticket, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(tickets))))
	if err != nil {
		return nil, err
	}
	return tickets[n.Int64()], nil
}
