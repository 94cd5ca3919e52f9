package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	accountrepo "github.com/mercatopro/mercato/internal/account/repository"
	"github.com/mercatopro/mercato/internal/clock"
	"github.com/mercatopro/mercato/internal/config"
	lotterydomain "github.com/mercatopro/mercato/internal/lottery/domain"
	lotteryrepo "github.com/mercatopro/mercato/internal/lottery/repository"
	lotteryservice "github.com/mercatopro/mercato/internal/lottery/service"
	paymentdomain "github.com/mercatopro/mercato/internal/payment/domain"
	"github.com/mercatopro/mercato/internal/payment/gateway/gatewaytest"
	"github.com/mercatopro/mercato/internal/payment/paymenttest"
	paymentrepo "github.com/mercatopro/mercato/internal/payment/repository"
	paymentservice "github.com/mercatopro/mercato/internal/payment/service"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db          *gorm.DB
	node        *snowflake.Node
	clock       *clock.FakeClock
	gateway     *gatewaytest.Fake
	lotteryRepo lotterydomain.Repository
	lotterySvc  lotterydomain.Service
	paymentSvc  paymentdomain.Service
}

func newFixture(t *testing.T, nodeID int64) *fixture {
	t.Helper()

	db := paymenttest.SetupDB(t)
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	fakeClock := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	marketplace := config.NewStaticMarketplaceConfigHolder(config.DefaultMarketplaceConfig())
	lotteryRepo := lotteryrepo.Provide()
	lotterySvc := lotteryservice.NewService(lotteryservice.Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       fakeClock,
		Repo:        lotteryRepo,
		AccountRepo: accountrepo.Provide(),
		Marketplace: marketplace,
	})

	fakeGateway := gatewaytest.New()
	paymentSvc := paymentservice.NewService(paymentservice.Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       fakeClock,
		Repo:        paymentrepo.Provide(),
		LotteryRepo: lotteryRepo,
		LotterySvc:  lotterySvc,
		Gateway:     fakeGateway,
		Marketplace: marketplace,
	})

	return &fixture{
		db:          db,
		node:        node,
		clock:       fakeClock,
		gateway:     fakeGateway,
		lotteryRepo: lotteryRepo,
		lotterySvc:  lotterySvc,
		paymentSvc:  paymentSvc,
	}
}

// seedActiveLottery creates a 50 EUR lottery split into ten 5 EUR tickets.
func (f *fixture) seedActiveLottery(t *testing.T, itemsCount int) snowflake.ID {
	t.Helper()
	sellerID := f.node.Generate()
	paymenttest.SeedUser(t, f.db, sellerID, "seller@example.com", true)
	lotteryID := f.node.Generate()
	paymenttest.SeedLottery(t, f.db, lotteryID, sellerID, 5000, itemsCount, "active")
	return lotteryID
}

func TestCreateOrderReservesTicket(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	lotteryID := f.seedActiveLottery(t, 10)
	buyerID := f.node.Generate()

	result, err := f.paymentSvc.CreateOrder(ctx, lotteryID, buyerID)
	if err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}
	if result.Ticket.TicketNumber != 1 {
		t.Fatalf("expected ticket number 1, got %d", result.Ticket.TicketNumber)
	}
	if result.Transaction.GrossAmount != 500 {
		t.Fatalf("expected gross 500, got %d", result.Transaction.GrossAmount)
	}
	if result.Transaction.Status != paymentdomain.TransactionStatusPending {
		t.Fatalf("expected pending transaction, got %s", result.Transaction.Status)
	}
	if result.Transaction.ProviderOrderID == "" {
		t.Fatalf("expected provider order id to be set")
	}
	if result.ApprovalURL == "" {
		t.Fatalf("expected approval url")
	}
}

func TestCreateOrderRejectedFreesSlot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	lotteryID := f.seedActiveLottery(t, 1)
	buyerID := f.node.Generate()

	f.gateway.CreateErr = paymentdomain.ErrGatewayRejected
	if _, err := f.paymentSvc.CreateOrder(ctx, lotteryID, buyerID); !errors.Is(err, paymentdomain.ErrGatewayRejected) {
		t.Fatalf("expected ErrGatewayRejected, got %v", err)
	}

	// The slot must be free again for the next buyer.
	f.gateway.CreateErr = nil
	result, err := f.paymentSvc.CreateOrder(ctx, lotteryID, f.node.Generate())
	if err != nil {
		t.Fatalf("CreateOrder after release returned error: %v", err)
	}
	if result.Ticket.TicketNumber != 2 {
		t.Fatalf("released numbers must not be reissued, got %d", result.Ticket.TicketNumber)
	}
}

func TestCaptureSplitsCommission(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)
	lotteryID := f.seedActiveLottery(t, 10)
	buyerID := f.node.Generate()

	result, err := f.paymentSvc.CreateOrder(ctx, lotteryID, buyerID)
	if err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}

	trx, err := f.paymentSvc.CaptureOrder(ctx, result.Transaction.ID)
	if err != nil {
		t.Fatalf("CaptureOrder returned error: %v", err)
	}
	if trx.Status != paymentdomain.TransactionStatusCompleted {
		t.Fatalf("expected completed, got %s", trx.Status)
	}
	if trx.CommissionAmount != 50 || trx.NetAmount != 450 {
		t.Fatalf("expected 50/450 split, got %d/%d", trx.CommissionAmount, trx.NetAmount)
	}
	if trx.CommissionAmount+trx.NetAmount != trx.GrossAmount {
		t.Fatalf("split does not sum to gross")
	}
	if trx.ProviderCaptureID == "" {
		t.Fatalf("expected capture id recorded")
	}

	ticket, err := f.lotteryRepo.FindTicket(ctx, f.db, trx.TicketID)
	if err != nil || ticket == nil {
		t.Fatalf("find ticket: %v", err)
	}
	if ticket.PaymentStatus != lotterydomain.TicketStatusCompleted {
		t.Fatalf("expected completed ticket, got %s", ticket.PaymentStatus)
	}
}

func TestCaptureIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 4)
	lotteryID := f.seedActiveLottery(t, 10)

	result, err := f.paymentSvc.CreateOrder(ctx, lotteryID, f.node.Generate())
	if err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}

	first, err := f.paymentSvc.CaptureOrder(ctx, result.Transaction.ID)
	if err != nil {
		t.Fatalf("first capture returned error: %v", err)
	}
	second, err := f.paymentSvc.CaptureOrder(ctx, result.Transaction.ID)
	if err != nil {
		t.Fatalf("second capture returned error: %v", err)
	}
	if f.gateway.Captures() != 1 {
		t.Fatalf("expected a single gateway capture, got %d", f.gateway.Captures())
	}
	if first.ProviderCaptureID != second.ProviderCaptureID {
		t.Fatalf("idempotent capture must return the stored result")
	}
}

func TestCaptureRejectedFreesSlot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5)
	lotteryID := f.seedActiveLottery(t, 1)

	result, err := f.paymentSvc.CreateOrder(ctx, lotteryID, f.node.Generate())
	if err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}

	f.gateway.CaptureErr = paymentdomain.ErrGatewayRejected
	if _, err := f.paymentSvc.CaptureOrder(ctx, result.Transaction.ID); !errors.Is(err, paymentdomain.ErrGatewayRejected) {
		t.Fatalf("expected ErrGatewayRejected, got %v", err)
	}

	trx, err := f.paymentSvc.Get(ctx, result.Transaction.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if trx.Status != paymentdomain.TransactionStatusFailed {
		t.Fatalf("expected failed transaction, got %s", trx.Status)
	}

	ticket, err := f.lotteryRepo.FindTicket(ctx, f.db, trx.TicketID)
	if err != nil || ticket == nil {
		t.Fatalf("find ticket: %v", err)
	}
	if ticket.PaymentStatus != lotterydomain.TicketStatusFailed {
		t.Fatalf("expected payment_failed ticket, got %s", ticket.PaymentStatus)
	}

	// Slot is free again.
	f.gateway.CaptureErr = nil
	if _, err := f.paymentSvc.CreateOrder(ctx, lotteryID, f.node.Generate()); err != nil {
		t.Fatalf("CreateOrder after failed capture returned error: %v", err)
	}
}

func TestCaptureUnavailableKeepsPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 6)
	lotteryID := f.seedActiveLottery(t, 10)

	result, err := f.paymentSvc.CreateOrder(ctx, lotteryID, f.node.Generate())
	if err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}

	f.gateway.CaptureErr = paymentdomain.ErrGatewayUnavailable
	if _, err := f.paymentSvc.CaptureOrder(ctx, result.Transaction.ID); !errors.Is(err, paymentdomain.ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}

	trx, err := f.paymentSvc.Get(ctx, result.Transaction.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if trx.Status != paymentdomain.TransactionStatusPending {
		t.Fatalf("unavailability must keep the transaction pending, got %s", trx.Status)
	}

	// The retry succeeds once the gateway recovers.
	f.gateway.CaptureErr = nil
	if _, err := f.paymentSvc.CaptureOrder(ctx, result.Transaction.ID); err != nil {
		t.Fatalf("retry capture returned error: %v", err)
	}
}

func TestOversellGuard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 7)
	lotteryID := f.seedActiveLottery(t, 2)

	for i := 0; i < 2; i++ {
		if _, err := f.paymentSvc.CreateOrder(ctx, lotteryID, f.node.Generate()); err != nil {
			t.Fatalf("CreateOrder %d returned error: %v", i, err)
		}
	}
	if _, err := f.paymentSvc.CreateOrder(ctx, lotteryID, f.node.Generate()); !errors.Is(err, lotterydomain.ErrSoldOut) {
		t.Fatalf("expected ErrSoldOut, got %v", err)
	}
}

func TestSellOutClosesLottery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 8)
	lotteryID := f.seedActiveLottery(t, 2)

	for i := 0; i < 2; i++ {
		result, err := f.paymentSvc.CreateOrder(ctx, lotteryID, f.node.Generate())
		if err != nil {
			t.Fatalf("CreateOrder %d returned error: %v", i, err)
		}
		if _, err := f.paymentSvc.CaptureOrder(ctx, result.Transaction.ID); err != nil {
			t.Fatalf("CaptureOrder %d returned error: %v", i, err)
		}
	}

	lottery, err := f.lotterySvc.Get(ctx, lotteryID)
	if err != nil {
		t.Fatalf("Get lottery returned error: %v", err)
	}
	if lottery.Status != lotterydomain.LotteryStatusClosed {
		t.Fatalf("expected closed lottery after sell-out, got %s", lottery.Status)
	}
	if lottery.Expiration == nil {
		t.Fatalf("expected drawing expiration to be stamped")
	}
	wantExpiration := f.clock.Now().AddDate(0, 0, 15)
	if !lottery.Expiration.Equal(wantExpiration) {
		t.Fatalf("expected expiration %v, got %v", wantExpiration, lottery.Expiration)
	}
}

func TestCancelOrderFreesSlot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 9)
	lotteryID := f.seedActiveLottery(t, 1)
	buyerID := f.node.Generate()

	result, err := f.paymentSvc.CreateOrder(ctx, lotteryID, buyerID)
	if err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}
	if err := f.paymentSvc.CancelOrder(ctx, result.Transaction.ID, buyerID); err != nil {
		t.Fatalf("CancelOrder returned error: %v", err)
	}

	if _, err := f.paymentSvc.CreateOrder(ctx, lotteryID, f.node.Generate()); err != nil {
		t.Fatalf("CreateOrder after cancel returned error: %v", err)
	}
}

func TestSummaryAggregates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	lotteryID := f.seedActiveLottery(t, 10)
	buyerID := f.node.Generate()

	for i := 0; i < 3; i++ {
		result, err := f.paymentSvc.CreateOrder(ctx, lotteryID, buyerID)
		if err != nil {
			t.Fatalf("CreateOrder %d returned error: %v", i, err)
		}
		if _, err := f.paymentSvc.CaptureOrder(ctx, result.Transaction.ID); err != nil {
			t.Fatalf("CaptureOrder %d returned error: %v", i, err)
		}
	}

	summary, err := f.paymentSvc.Summary(ctx, buyerID)
	if err != nil {
		t.Fatalf("Summary returned error: %v", err)
	}
	if summary.TotalPaid != 1500 {
		t.Fatalf("expected total paid 1500, got %d", summary.TotalPaid)
	}
	if summary.TotalCommission != 150 {
		t.Fatalf("expected total commission 150, got %d", summary.TotalCommission)
	}
	if summary.CompletedCount != 3 {
		t.Fatalf("expected 3 completed, got %d", summary.CompletedCount)
	}
}
