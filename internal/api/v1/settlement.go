package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tixello/settlement/internal/api/dto"
	ierr "github.com/tixello/settlement/internal/errors"
	"github.com/tixello/settlement/internal/logger"
	"github.com/tixello/settlement/internal/service"
)

type SettlementHandler struct {
	settlementService service.SettlementService
	logger            *logger.Logger
}

func NewSettlementHandler(settlementService service.SettlementService, logger *logger.Logger) *SettlementHandler {
	return &SettlementHandler{
		settlementService: settlementService,
		logger:            logger,
	}
}

// @Summary Quote an order
// @Description Prices an order without recording code usage or charging a gift card
// @Tags Settlements
// @Accept json
// @Produce json
// @Param request body dto.SettlementRequest true "Order to price"
// @Success 200 {object} dto.SettlementResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /settlements/quote [post]
func (h *SettlementHandler) Quote(c *gin.Context) {
	var req dto.SettlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.settlementService.Quote(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Settle an order
// @Description Records discount code usage and charges the gift card. Retries with the same order_ref charge once.
// @Tags Settlements
// @Accept json
// @Produce json
// @Param request body dto.SettleRequest true "Order to settle"
// @Success 201 {object} dto.SettlementResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 409 {object} ierr.ErrorResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /settlements [post]
func (h *SettlementHandler) Settle(c *gin.Context) {
	var req dto.SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}
	if req.StoredValue != nil && req.StoredValue.IdempotencyKey == nil {
		req.StoredValue.IdempotencyKey = idempotencyKeyHeader(c)
	}

	resp, err := h.settlementService.Settle(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}
