package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	lotterydomain "github.com/mercatopro/mercato/internal/lottery/domain"
	"github.com/mercatopro/mercato/pkg/db/pagination"
)

type createLotteryRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	ItemValue   int64  `json:"item_value"`
	ItemsCount  int    `json:"items_count"`
}

func (s *Server) CreateLottery(c *gin.Context) {
	sellerID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req createLotteryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.lotterySvc.Create(c.Request.Context(), lotterydomain.CreateLotteryInput{
		SellerID:    sellerID,
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		ItemValue:   req.ItemValue,
		ItemsCount:  req.ItemsCount,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListLotteries(c *gin.Context) {
	var query struct {
		SellerID string `form:"seller_id"`
		Status   string `form:"status"`
		pagination.Pagination
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	sellerID, err := parseOptionalSnowflakeID(query.SellerID)
	if err != nil {
		AbortWithError(c, newValidationError("seller_id", "invalid_seller_id", "invalid seller id"))
		return
	}

	filter := lotterydomain.ListFilter{
		Status:     lotterydomain.LotteryStatus(strings.TrimSpace(query.Status)),
		Pagination: query.Pagination,
	}
	if sellerID != nil {
		filter.SellerID = *sellerID
	}

	items, pageInfo, err := s.lotterySvc.List(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items, "page_info": pageInfo})
}

func (s *Server) GetLotteryByID(c *gin.Context) {
	id, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.lotterySvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ActivateLottery(c *gin.Context) {
	sellerID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	id, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.lotterySvc.Activate(c.Request.Context(), id, sellerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// CancelLottery cancels the lottery and refunds every paid ticket.
func (s *Server) CancelLottery(c *gin.Context) {
	sellerID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	id, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.refundSvc.CancelLottery(c.Request.Context(), id, sellerID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}
