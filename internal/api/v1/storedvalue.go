package v1

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"github.com/tixello/settlement/internal/api/dto"
	ierr "github.com/tixello/settlement/internal/errors"
	"github.com/tixello/settlement/internal/logger"
	"github.com/tixello/settlement/internal/service"
	"github.com/tixello/settlement/internal/types"
)

type StoredValueHandler struct {
	storedValueService service.StoredValueService
	logger             *logger.Logger
}

func NewStoredValueHandler(storedValueService service.StoredValueService, logger *logger.Logger) *StoredValueHandler {
	return &StoredValueHandler{
		storedValueService: storedValueService,
		logger:             logger,
	}
}

// @Summary Issue a gift card
// @Tags StoredValue
// @Accept json
// @Produce json
// @Param request body dto.IssueStoredValueRequest true "Gift card to issue"
// @Success 201 {object} dto.StoredValueAccountResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /stored-value/accounts [post]
func (h *StoredValueHandler) Issue(c *gin.Context) {
	var req dto.IssueStoredValueRequest
	if !bind(c, &req) {
		return
	}

	account, err := h.storedValueService.Issue(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, account)
}

// @Summary Get a gift card
// @Tags StoredValue
// @Produce json
// @Param id path string true "Account ID"
// @Success 200 {object} dto.StoredValueAccountResponse
// @Failure 404 {object} ierr.ErrorResponse
// @Router /stored-value/accounts/{id} [get]
func (h *StoredValueHandler) Get(c *gin.Context) {
	account, err := h.storedValueService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, account)
}

// @Summary Get a gift card by code
// @Tags StoredValue
// @Produce json
// @Param code path string true "Gift card code"
// @Success 200 {object} dto.StoredValueAccountResponse
// @Failure 404 {object} ierr.ErrorResponse
// @Router /stored-value/accounts/code/{code} [get]
func (h *StoredValueHandler) GetByCode(c *gin.Context) {
	account, err := h.storedValueService.GetByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, account)
}

// @Summary List gift card transactions
// @Description Transactions in commit order
// @Tags StoredValue
// @Produce json
// @Param id path string true "Account ID"
// @Success 200 {object} dto.ListStoredValueTransactionsResponse
// @Failure 404 {object} ierr.ErrorResponse
// @Router /stored-value/accounts/{id}/transactions [get]
func (h *StoredValueHandler) ListTransactions(c *gin.Context) {
	resp, err := h.storedValueService.ListTransactions(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Activate a gift card
// @Tags StoredValue
// @Accept json
// @Produce json
// @Param id path string true "Account ID"
// @Success 200 {object} dto.StoredValueMutationResponse
// @Failure 409 {object} ierr.ErrorResponse
// @Router /stored-value/accounts/{id}/activate [post]
func (h *StoredValueHandler) Activate(c *gin.Context) {
	h.action(c, h.storedValueService.Activate)
}

// @Summary Revoke a gift card
// @Tags StoredValue
// @Accept json
// @Produce json
// @Param id path string true "Account ID"
// @Success 200 {object} dto.StoredValueMutationResponse
// @Failure 409 {object} ierr.ErrorResponse
// @Router /stored-value/accounts/{id}/revoke [post]
func (h *StoredValueHandler) Revoke(c *gin.Context) {
	h.action(c, h.storedValueService.Revoke)
}

// @Summary Expire a gift card
// @Description Only accounts past their expiry can be expired
// @Tags StoredValue
// @Accept json
// @Produce json
// @Param id path string true "Account ID"
// @Success 200 {object} dto.StoredValueMutationResponse
// @Failure 409 {object} ierr.ErrorResponse
// @Router /stored-value/accounts/{id}/expire [post]
func (h *StoredValueHandler) Expire(c *gin.Context) {
	h.action(c, h.storedValueService.Expire)
}

// @Summary Redeem from a gift card
// @Tags StoredValue
// @Accept json
// @Produce json
// @Param id path string true "Account ID"
// @Param Idempotency-Key header string false "Idempotency key"
// @Param request body dto.StoredValueAmountRequest true "Amount"
// @Success 200 {object} dto.StoredValueMutationResponse
// @Failure 409 {object} ierr.ErrorResponse
// @Router /stored-value/accounts/{id}/redeem [post]
func (h *StoredValueHandler) Redeem(c *gin.Context) {
	h.amount(c, h.storedValueService.Redeem)
}

// @Summary Refund to a gift card
// @Tags StoredValue
// @Accept json
// @Produce json
// @Param id path string true "Account ID"
// @Param Idempotency-Key header string false "Idempotency key"
// @Param request body dto.StoredValueAmountRequest true "Amount"
// @Success 200 {object} dto.StoredValueMutationResponse
// @Failure 409 {object} ierr.ErrorResponse
// @Router /stored-value/accounts/{id}/refund [post]
func (h *StoredValueHandler) Refund(c *gin.Context) {
	h.amount(c, h.storedValueService.Refund)
}

// @Summary Adjust a gift card balance
// @Tags StoredValue
// @Accept json
// @Produce json
// @Param id path string true "Account ID"
// @Param Idempotency-Key header string false "Idempotency key"
// @Param request body dto.AdjustStoredValueRequest true "Signed amount and reason"
// @Success 200 {object} dto.StoredValueMutationResponse
// @Failure 409 {object} ierr.ErrorResponse
// @Router /stored-value/accounts/{id}/adjust [post]
func (h *StoredValueHandler) Adjust(c *gin.Context) {
	var req dto.AdjustStoredValueRequest
	if !bind(c, &req) {
		return
	}
	if req.IdempotencyKey == nil {
		req.IdempotencyKey = idempotencyKeyHeader(c)
	}

	resp, err := h.storedValueService.Adjust(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Reconcile a gift card
// @Description Replays the transaction log against the stored balance
// @Tags StoredValue
// @Produce json
// @Param id path string true "Account ID"
// @Success 200 {object} dto.ReconcileStoredValueResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /stored-value/accounts/{id}/reconcile [get]
func (h *StoredValueHandler) Reconcile(c *gin.Context) {
	resp, err := h.storedValueService.Reconcile(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *StoredValueHandler) action(
	c *gin.Context,
	fn func(ctx context.Context, id string, req *dto.StoredValueActionRequest) (*dto.StoredValueMutationResponse, error),
) {
	// the body is optional for state transitions
	var req dto.StoredValueActionRequest
	if c.Request.ContentLength > 0 && !bind(c, &req) {
		return
	}

	resp, err := fn(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *StoredValueHandler) amount(
	c *gin.Context,
	fn func(ctx context.Context, id string, req *dto.StoredValueAmountRequest) (*dto.StoredValueMutationResponse, error),
) {
	var req dto.StoredValueAmountRequest
	if !bind(c, &req) {
		return
	}
	if req.IdempotencyKey == nil {
		req.IdempotencyKey = idempotencyKeyHeader(c)
	}

	resp, err := fn(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return false
	}
	return true
}

func idempotencyKeyHeader(c *gin.Context) *string {
	key := strings.TrimSpace(c.GetHeader(types.HeaderIdempotencyKey))
	return lo.EmptyableToPtr(key)
}
