package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	accountrepo "github.com/mercatopro/mercato/internal/account/repository"
	"github.com/mercatopro/mercato/internal/clock"
	"github.com/mercatopro/mercato/internal/config"
	lotterydomain "github.com/mercatopro/mercato/internal/lottery/domain"
	lotteryrepo "github.com/mercatopro/mercato/internal/lottery/repository"
	lotteryservice "github.com/mercatopro/mercato/internal/lottery/service"
	obsmetrics "github.com/mercatopro/mercato/internal/observability/metrics"
	paymentdomain "github.com/mercatopro/mercato/internal/payment/domain"
	"github.com/mercatopro/mercato/internal/payment/gateway/gatewaytest"
	"github.com/mercatopro/mercato/internal/payment/ipn"
	"github.com/mercatopro/mercato/internal/payment/paymenttest"
	"github.com/mercatopro/mercato/internal/payment/refund"
	paymentrepo "github.com/mercatopro/mercato/internal/payment/repository"
	paymentservice "github.com/mercatopro/mercato/internal/payment/service"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db      *gorm.DB
	node    *snowflake.Node
	gateway *gatewaytest.Fake
	server  *Server
}

func newFixture(t *testing.T, nodeID int64) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

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
	repo := paymentrepo.Provide()
	paymentSvc := paymentservice.NewService(paymentservice.Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       fakeClock,
		Repo:        repo,
		LotteryRepo: lotteryRepo,
		LotterySvc:  lotterySvc,
		Gateway:     fakeGateway,
		Marketplace: marketplace,
	})
	refundSvc := refund.NewService(refund.Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       fakeClock,
		Repo:        repo,
		LotteryRepo: lotteryRepo,
		LotterySvc:  lotterySvc,
		Gateway:     fakeGateway,
	})
	ipnSvc := ipn.NewService(ipn.Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      fakeClock,
		Repo:       repo,
		Gateway:    fakeGateway,
		PaymentSvc: paymentSvc,
		RefundSvc:  refundSvc,
	})

	cfg := config.Config{AppName: "mercato-test", HTTPAddr: ":0"}
	engine := NewEngine(cfg, obsmetrics.New())
	srv := NewServer(ServerParams{
		Gin:        engine,
		Cfg:        cfg,
		Log:        zap.NewNop(),
		GenID:      node,
		LotterySvc: lotterySvc,
		PaymentSvc: paymentSvc,
		RefundSvc:  refundSvc,
		IPNSvc:     ipnSvc,
	})

	return &fixture{db: db, node: node, gateway: fakeGateway, server: srv}
}

func (f *fixture) do(method, path string, body []byte, userID snowflake.ID) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		req.Header.Set(HeaderUserID, userID.String())
	}
	w := httptest.NewRecorder()
	f.server.Engine().ServeHTTP(w, req)
	return w
}

func (f *fixture) seedActiveLottery(t *testing.T) snowflake.ID {
	t.Helper()
	sellerID := f.node.Generate()
	paymenttest.SeedUser(t, f.db, sellerID, "seller@example.com", true)
	lotteryID := f.node.Generate()
	paymenttest.SeedLottery(t, f.db, lotteryID, sellerID, 5000, 10, "active")
	return lotteryID
}

func TestHealth(t *testing.T) {
	f := newFixture(t, 50)

	w := f.do(http.MethodGet, "/health", nil, 0)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestCheckoutRequiresUser(t *testing.T) {
	f := newFixture(t, 51)
	lotteryID := f.seedActiveLottery(t)

	body := []byte(fmt.Sprintf(`{"lottery_id": %q}`, lotteryID.String()))
	w := f.do(http.MethodPost, "/api/v1/checkout", body, 0)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCheckoutCreatesOrder(t *testing.T) {
	f := newFixture(t, 52)
	lotteryID := f.seedActiveLottery(t)
	buyerID := f.node.Generate()

	body := []byte(fmt.Sprintf(`{"lottery_id": %q}`, lotteryID.String()))
	w := f.do(http.MethodPost, "/api/v1/checkout", body, buyerID)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if f.gateway.Orders() != 1 {
		t.Fatalf("expected one gateway order, got %d", f.gateway.Orders())
	}
}

func TestCheckoutUnknownLotteryIs404(t *testing.T) {
	f := newFixture(t, 53)
	buyerID := f.node.Generate()

	body := []byte(fmt.Sprintf(`{"lottery_id": %q}`, f.node.Generate().String()))
	w := f.do(http.MethodPost, "/api/v1/checkout", body, buyerID)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCheckoutSoldOutIs409(t *testing.T) {
	f := newFixture(t, 54)

	sellerID := f.node.Generate()
	paymenttest.SeedUser(t, f.db, sellerID, "seller@example.com", true)
	lotteryID := f.node.Generate()
	paymenttest.SeedLottery(t, f.db, lotteryID, sellerID, 100, 1, "active")

	body := []byte(fmt.Sprintf(`{"lottery_id": %q}`, lotteryID.String()))
	if w := f.do(http.MethodPost, "/api/v1/checkout", body, f.node.Generate()); w.Code != http.StatusOK {
		t.Fatalf("first checkout: expected 200, got %d", w.Code)
	}
	w := f.do(http.MethodPost, "/api/v1/checkout", body, f.node.Generate())
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestIPNUnverifiedIs400(t *testing.T) {
	f := newFixture(t, 55)
	f.gateway.VerifyErr = paymentdomain.ErrUnverified

	payload := []byte(`{"id": "WH-1", "event_type": "PAYMENT.CAPTURE.COMPLETED", "resource": {"id": "CAP-1"}}`)
	w := f.do(http.MethodPost, "/payments/paypal/ipn/", payload, 0)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestIPNOrphanIs200(t *testing.T) {
	f := newFixture(t, 56)

	payload := []byte(`{
		"id": "WH-2",
		"event_type": "PAYMENT.CAPTURE.COMPLETED",
		"resource": {
			"id": "CAP-X",
			"amount": {"value": "5.00", "currency_code": "EUR"},
			"supplementary_data": {"related_ids": {"order_id": "ORDER-UNKNOWN"}}
		}
	}`)
	w := f.do(http.MethodPost, "/payments/paypal/ipn/", payload, 0)
	if w.Code != http.StatusOK {
		t.Fatalf("orphan event must be acknowledged, got %d: %s", w.Code, w.Body.String())
	}
}

func TestIPNRedeliveryIs200(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 57)
	lotteryID := f.seedActiveLottery(t)
	buyerID := f.node.Generate()

	result, err := f.server.paymentSvc.CreateOrder(ctx, lotteryID, buyerID)
	if err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}

	payload := []byte(fmt.Sprintf(`{
		"id": "WH-3",
		"event_type": "PAYMENT.CAPTURE.COMPLETED",
		"resource": {
			"id": "CAP-1",
			"amount": {"value": "5.00", "currency_code": "EUR"},
			"supplementary_data": {"related_ids": {"order_id": %q}}
		}
	}`, result.Transaction.ProviderOrderID))

	for i := 0; i < 2; i++ {
		w := f.do(http.MethodPost, "/payments/paypal/ipn/", payload, 0)
		if w.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected 200, got %d: %s", i, w.Code, w.Body.String())
		}
	}

	stored, err := f.server.paymentSvc.Get(ctx, result.Transaction.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if stored.Status != paymentdomain.TransactionStatusCompleted {
		t.Fatalf("expected completed transaction, got %s", stored.Status)
	}
}

func TestCaptureForeignTransactionIs403(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 58)
	lotteryID := f.seedActiveLottery(t)
	buyerID := f.node.Generate()

	result, err := f.server.paymentSvc.CreateOrder(ctx, lotteryID, buyerID)
	if err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}

	body := []byte(fmt.Sprintf(`{"transaction_id": %q}`, result.Transaction.ID.String()))
	w := f.do(http.MethodPost, "/api/v1/checkout/capture", body, f.node.Generate())
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreateLotteryValidation(t *testing.T) {
	f := newFixture(t, 59)
	sellerID := f.node.Generate()
	paymenttest.SeedUser(t, f.db, sellerID, "seller@example.com", true)

	body := []byte(`{"title": "", "item_value": 5000, "items_count": 10}`)
	w := f.do(http.MethodPost, "/api/v1/lotteries", body, sellerID)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestActivateRequiresVerifiedSeller(t *testing.T) {
	f := newFixture(t, 60)
	sellerID := f.node.Generate()
	paymenttest.SeedUser(t, f.db, sellerID, "seller@example.com", false)

	body := []byte(`{"title": "Vintage Watch", "item_value": 5000, "items_count": 10}`)
	w := f.do(http.MethodPost, "/api/v1/lotteries", body, sellerID)
	if w.Code != http.StatusOK {
		t.Fatalf("create: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var created struct {
		Data lotterydomain.Lottery `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	w = f.do(http.MethodPost, "/api/v1/lotteries/"+created.Data.ID.String()+"/activate", nil, sellerID)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
}
