// Package ipn reconciles asynchronous gateway notifications against the
// local payment state. Every write is a conditional state transition, so
// redeliveries and races with the synchronous capture path are safe.
package ipn

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/mercatopro/mercato/internal/clock"
	obsmetrics "github.com/mercatopro/mercato/internal/observability/metrics"
	"github.com/mercatopro/mercato/internal/payment/domain"
	"github.com/mercatopro/mercato/internal/payment/gateway"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	eventOrderApproved    = "CHECKOUT.ORDER.APPROVED"
	eventCaptureCompleted = "PAYMENT.CAPTURE.COMPLETED"
	eventCaptureRefunded  = "PAYMENT.CAPTURE.REFUNDED"
	eventCaptureReversed  = "PAYMENT.CAPTURE.REVERSED"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	Gateway    gateway.Gateway
	PaymentSvc domain.Service
	RefundSvc  domain.RefundService
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	gateway    gateway.Gateway
	paymentSvc domain.Service
	refundSvc  domain.RefundService
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.ipn"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		gateway:    p.Gateway,
		paymentSvc: p.PaymentSvc,
		refundSvc:  p.RefundSvc,
		obsMetrics: p.ObsMetrics,
	}
}

type webhookEvent struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Resource  json.RawMessage `json:"resource"`
}

type webhookResource struct {
	ID     string `json:"id"`
	Amount struct {
		Value        string `json:"value"`
		CurrencyCode string `json:"currency_code"`
	} `json:"amount"`
	Payer struct {
		Email string `json:"email_address"`
	} `json:"payer"`
	SupplementaryData struct {
		RelatedIDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
}

// HandleIPN verifies, deduplicates and applies one webhook delivery.
// A nil return means the delivery is acknowledged, including verified
// duplicates, orphans and ignored event types.
func (s *Service) HandleIPN(ctx context.Context, headers http.Header, body []byte) error {
	if err := s.gateway.VerifyWebhook(ctx, headers, body); err != nil {
		s.count("", "unverified")
		s.log.Warn("unverified webhook discarded", zap.Error(err))
		return domain.ErrUnverified
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		s.count("", "unverified")
		return domain.ErrUnverified
	}
	event.ID = strings.TrimSpace(event.ID)
	event.EventType = strings.TrimSpace(event.EventType)
	if event.ID == "" || event.EventType == "" {
		s.count("", "unverified")
		return domain.ErrUnverified
	}

	now := s.clock.Now()
	record := &domain.GatewayEvent{
		ID:              s.genID.Generate(),
		Provider:        s.gateway.Provider(),
		ProviderEventID: event.ID,
		EventType:       event.EventType,
		Payload:         datatypes.JSON(body),
		ReceivedAt:      now,
	}
	inserted, err := s.repo.InsertEvent(ctx, s.db, record)
	if err != nil {
		return err
	}
	if !inserted {
		stored, err := s.repo.FindEvent(ctx, s.db, record.Provider, event.ID)
		if err != nil {
			return err
		}
		if stored == nil || stored.ProcessedAt != nil {
			// Fully processed on an earlier delivery.
			s.count(event.EventType, "duplicate")
			return nil
		}
		// A previous delivery inserted the record but crashed before
		// finishing; reprocess on this one.
		record = stored
	}

	if err := s.process(ctx, event); err != nil {
		return err
	}

	if err := s.repo.MarkEventProcessed(ctx, s.db, record.ID, s.clock.Now()); err != nil {
		return err
	}
	return nil
}

func (s *Service) process(ctx context.Context, event webhookEvent) error {
	var resource webhookResource
	if len(event.Resource) > 0 {
		if err := json.Unmarshal(event.Resource, &resource); err != nil {
			s.count(event.EventType, "ignored")
			return nil
		}
	}

	switch event.EventType {
	case eventOrderApproved:
		return s.handleOrderApproved(ctx, event, resource)
	case eventCaptureCompleted:
		return s.handleCaptureCompleted(ctx, event, resource)
	case eventCaptureRefunded, eventCaptureReversed:
		return s.handleCaptureRefunded(ctx, event, resource)
	default:
		s.count(event.EventType, "ignored")
		return nil
	}
}

// handleOrderApproved only flips the ticket into payment_processing; money
// movement is exclusively capture-driven.
func (s *Service) handleOrderApproved(ctx context.Context, event webhookEvent, resource webhookResource) error {
	trx, err := s.paymentSvc.FindByProviderOrder(ctx, s.gateway.Provider(), resource.ID)
	if err != nil {
		return err
	}
	if trx == nil {
		return s.orphan(event, resource.ID)
	}
	if err := s.paymentSvc.MarkProcessing(ctx, trx); err != nil {
		return err
	}
	s.count(event.EventType, "processed")
	return nil
}

// handleCaptureCompleted is the recovery path for a capture whose
// synchronous response was lost. An already-completed transaction makes the
// redelivery a no-op.
func (s *Service) handleCaptureCompleted(ctx context.Context, event webhookEvent, resource webhookResource) error {
	orderID := resource.SupplementaryData.RelatedIDs.OrderID
	trx, err := s.paymentSvc.FindByProviderOrder(ctx, s.gateway.Provider(), orderID)
	if err != nil {
		return err
	}
	if trx == nil {
		return s.orphan(event, orderID)
	}

	switch trx.Status {
	case domain.TransactionStatusCompleted:
		s.count(event.EventType, "duplicate")
		return nil
	case domain.TransactionStatusPending:
		if _, err := s.paymentSvc.ApplyCapture(ctx, trx, resource.ID, resource.Payer.Email); err != nil {
			return err
		}
		s.count(event.EventType, "processed")
		return nil
	default:
		// failed or refunded; the notification arrived too late to matter.
		s.count(event.EventType, "ignored")
		return nil
	}
}

func (s *Service) handleCaptureRefunded(ctx context.Context, event webhookEvent, resource webhookResource) error {
	orderID := resource.SupplementaryData.RelatedIDs.OrderID
	trx, err := s.paymentSvc.FindByProviderOrder(ctx, s.gateway.Provider(), orderID)
	if err != nil {
		return err
	}
	if trx == nil {
		return s.orphan(event, orderID)
	}

	amount := int64(0)
	if parsed, ok := parseAmount(resource.Amount.Value); ok {
		amount = parsed
	}
	if err := s.refundSvc.ApplyRefundEvent(ctx, trx, resource.ID, amount, "gateway notification"); err != nil {
		return err
	}
	s.count(event.EventType, "processed")
	return nil
}

// orphan acknowledges an event for an order this system never opened.
func (s *Service) orphan(event webhookEvent, orderID string) error {
	s.count(event.EventType, "orphan")
	s.log.Warn("webhook for unknown order acknowledged",
		zap.String("event_id", event.ID),
		zap.String("event_type", event.EventType),
		zap.String("order_id", orderID),
	)
	return nil
}

func (s *Service) count(eventType, result string) {
	if s.obsMetrics == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	s.obsMetrics.IPNEvents.WithLabelValues(eventType, result).Inc()
}

func parseAmount(value string) (int64, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	whole, frac, found := strings.Cut(value, ".")
	var cents int64
	for _, r := range whole {
		if r < '0' || r > '9' {
			return 0, false
		}
		cents = cents*10 + int64(r-'0')
	}
	cents *= 100
	if found {
		if len(frac) > 2 {
			frac = frac[:2]
		}
		for len(frac) < 2 {
			frac += "0"
		}
		for _, r := range frac {
			if r < '0' || r > '9' {
				return 0, false
			}
		}
		cents += int64(frac[0]-'0')*10 + int64(frac[1]-'0')
	}
	return cents, true
}
