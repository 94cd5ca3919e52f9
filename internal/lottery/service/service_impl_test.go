package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	accountrepo "github.com/mercatopro/mercato/internal/account/repository"
	"github.com/mercatopro/mercato/internal/clock"
	"github.com/mercatopro/mercato/internal/config"
	"github.com/mercatopro/mercato/internal/lottery/domain"
	lotteryrepo "github.com/mercatopro/mercato/internal/lottery/repository"
	"github.com/mercatopro/mercato/internal/lottery/service"
	"github.com/mercatopro/mercato/internal/payment/paymenttest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock *clock.FakeClock
	svc   domain.Service
}

func newFixture(t *testing.T, nodeID int64) *fixture {
	t.Helper()

	db := paymenttest.SetupDB(t)
	node, err := snowflake.NewNode(nodeID)
	require.NoError(t, err)

	fakeClock := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := service.NewService(service.Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       fakeClock,
		Repo:        lotteryrepo.Provide(),
		AccountRepo: accountrepo.Provide(),
		Marketplace: config.NewStaticMarketplaceConfigHolder(config.DefaultMarketplaceConfig()),
	})

	return &fixture{db: db, node: node, clock: fakeClock, svc: svc}
}

func (f *fixture) seedSeller(t *testing.T, verified bool) snowflake.ID {
	t.Helper()
	sellerID := f.node.Generate()
	paymenttest.SeedUser(t, f.db, sellerID, "seller@example.com", verified)
	return sellerID
}

func TestCreateComputesTicketPrice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 70)
	sellerID := f.seedSeller(t, true)

	lottery, err := f.svc.Create(ctx, domain.CreateLotteryInput{
		SellerID:   sellerID,
		Title:      "Vintage Watch",
		ItemValue:  5000,
		ItemsCount: 3,
	})
	require.NoError(t, err)
	require.Equal(t, domain.LotteryStatusDraft, lottery.Status)
	// 5000 / 3 floors; the rounding loss stays with the seller.
	require.Equal(t, int64(1666), lottery.TicketPrice)
}

func TestCreateValidatesInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 71)
	sellerID := f.seedSeller(t, true)

	cases := []struct {
		name  string
		input domain.CreateLotteryInput
		want  error
	}{
		{"blank title", domain.CreateLotteryInput{SellerID: sellerID, Title: "  ", ItemValue: 5000, ItemsCount: 10}, domain.ErrInvalidTitle},
		{"zero value", domain.CreateLotteryInput{SellerID: sellerID, Title: "Watch", ItemValue: 0, ItemsCount: 10}, domain.ErrInvalidItemValue},
		{"negative value", domain.CreateLotteryInput{SellerID: sellerID, Title: "Watch", ItemValue: -100, ItemsCount: 10}, domain.ErrInvalidItemValue},
		{"zero count", domain.CreateLotteryInput{SellerID: sellerID, Title: "Watch", ItemValue: 5000, ItemsCount: 0}, domain.ErrInvalidItemsCount},
		{"count above value", domain.CreateLotteryInput{SellerID: sellerID, Title: "Watch", ItemValue: 5, ItemsCount: 10}, domain.ErrInvalidItemsCount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, tc.input)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestActivateRequiresKYC(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 72)
	sellerID := f.seedSeller(t, false)

	lottery, err := f.svc.Create(ctx, domain.CreateLotteryInput{
		SellerID:   sellerID,
		Title:      "Vintage Watch",
		ItemValue:  5000,
		ItemsCount: 10,
	})
	require.NoError(t, err)

	_, err = f.svc.Activate(ctx, lottery.ID, sellerID)
	require.ErrorIs(t, err, domain.ErrSellerNotVerified)

	stored, err := f.svc.Get(ctx, lottery.ID)
	require.NoError(t, err)
	require.Equal(t, domain.LotteryStatusDraft, stored.Status)
}

func TestActivateMovesDraftToActive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 73)
	sellerID := f.seedSeller(t, true)

	lottery, err := f.svc.Create(ctx, domain.CreateLotteryInput{
		SellerID:   sellerID,
		Title:      "Vintage Watch",
		ItemValue:  5000,
		ItemsCount: 10,
	})
	require.NoError(t, err)

	activated, err := f.svc.Activate(ctx, lottery.ID, sellerID)
	require.NoError(t, err)
	require.Equal(t, domain.LotteryStatusActive, activated.Status)

	// Re-activating is a conflict, not a silent success.
	_, err = f.svc.Activate(ctx, lottery.ID, sellerID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestActivateByStrangerIsNotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 74)
	sellerID := f.seedSeller(t, true)

	lottery, err := f.svc.Create(ctx, domain.CreateLotteryInput{
		SellerID:   sellerID,
		Title:      "Vintage Watch",
		ItemValue:  5000,
		ItemsCount: 10,
	})
	require.NoError(t, err)

	_, err = f.svc.Activate(ctx, lottery.ID, f.node.Generate())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCloseStampsExpiration(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 75)
	sellerID := f.seedSeller(t, true)

	lottery, err := f.svc.Create(ctx, domain.CreateLotteryInput{
		SellerID:   sellerID,
		Title:      "Vintage Watch",
		ItemValue:  5000,
		ItemsCount: 10,
	})
	require.NoError(t, err)
	_, err = f.svc.Activate(ctx, lottery.ID, sellerID)
	require.NoError(t, err)

	closed, err := f.svc.Close(ctx, lottery.ID)
	require.NoError(t, err)
	require.Equal(t, domain.LotteryStatusClosed, closed.Status)
	require.NotNil(t, closed.Expiration)
	require.Equal(t, f.clock.Now().AddDate(0, 0, 15), closed.Expiration.UTC())

	// Concurrent close reports success with the stored row.
	again, err := f.svc.Close(ctx, lottery.ID)
	require.NoError(t, err)
	require.Equal(t, domain.LotteryStatusClosed, again.Status)
}

func TestCancelFromDraftAndActive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 76)
	sellerID := f.seedSeller(t, true)

	draft, err := f.svc.Create(ctx, domain.CreateLotteryInput{
		SellerID:   sellerID,
		Title:      "Vintage Watch",
		ItemValue:  5000,
		ItemsCount: 10,
	})
	require.NoError(t, err)

	cancelled, paid, err := f.svc.Cancel(ctx, draft.ID, sellerID)
	require.NoError(t, err)
	require.Equal(t, domain.LotteryStatusCancelled, cancelled.Status)
	require.Empty(t, paid)

	// A cancelled lottery cannot be cancelled again.
	_, _, err = f.svc.Cancel(ctx, draft.ID, sellerID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}
