package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/mercatopro/mercato/internal/payment/domain"
	"github.com/mercatopro/mercato/pkg/db/pagination"
)

type createCheckoutRequest struct {
	LotteryID string `json:"lottery_id"`
}

func (s *Server) CreateCheckout(c *gin.Context) {
	buyerID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req createCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	lotteryID, err := parseSnowflakeID(req.LotteryID)
	if err != nil {
		AbortWithError(c, newValidationError("lottery_id", "invalid_lottery_id", "invalid lottery id"))
		return
	}

	resp, err := s.paymentSvc.CreateOrder(c.Request.Context(), lotteryID, buyerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type captureCheckoutRequest struct {
	TransactionID string `json:"transaction_id"`
}

// CaptureCheckout is the return-redirect handler: the buyer approved the
// order at the provider and came back with the transaction reference.
func (s *Server) CaptureCheckout(c *gin.Context) {
	buyerID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req captureCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	transactionID, err := parseSnowflakeID(req.TransactionID)
	if err != nil {
		AbortWithError(c, newValidationError("transaction_id", "invalid_transaction_id", "invalid transaction id"))
		return
	}

	trx, err := s.paymentSvc.Get(c.Request.Context(), transactionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if trx.BuyerID != buyerID {
		AbortWithError(c, ErrForbidden)
		return
	}

	resp, err := s.paymentSvc.CaptureOrder(c.Request.Context(), transactionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CancelCheckout(c *gin.Context) {
	buyerID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req captureCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	transactionID, err := parseSnowflakeID(req.TransactionID)
	if err != nil {
		AbortWithError(c, newValidationError("transaction_id", "invalid_transaction_id", "invalid transaction id"))
		return
	}

	if err := s.paymentSvc.CancelOrder(c.Request.Context(), transactionID, buyerID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (s *Server) ListPayments(c *gin.Context) {
	buyerID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var query struct {
		Status string `form:"status"`
		pagination.Pagination
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	items, pageInfo, err := s.paymentSvc.History(c.Request.Context(), paymentdomain.HistoryFilter{
		BuyerID:    buyerID,
		Status:     paymentdomain.TransactionStatus(strings.TrimSpace(query.Status)),
		Pagination: query.Pagination,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items, "page_info": pageInfo})
}

func (s *Server) GetPaymentSummary(c *gin.Context) {
	buyerID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	resp, err := s.paymentSvc.Summary(c.Request.Context(), buyerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// ListFailedRefunds is the manual review queue for refunds the provider
// rejected.
func (s *Server) ListFailedRefunds(c *gin.Context) {
	if _, ok := currentUserID(c); !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	items, err := s.refundSvc.ListFailed(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}
