package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tixello/settlement/internal/api/dto"
	ierr "github.com/tixello/settlement/internal/errors"
	"github.com/tixello/settlement/internal/logger"
	"github.com/tixello/settlement/internal/service"
)

type DiscountCodeHandler struct {
	discountCodeService service.DiscountCodeService
	logger              *logger.Logger
}

func NewDiscountCodeHandler(discountCodeService service.DiscountCodeService, logger *logger.Logger) *DiscountCodeHandler {
	return &DiscountCodeHandler{
		discountCodeService: discountCodeService,
		logger:              logger,
	}
}

// @Summary Create a discount code
// @Tags DiscountCodes
// @Accept json
// @Produce json
// @Param request body dto.CreateDiscountCodeRequest true "Discount code"
// @Success 201 {object} discountcode.DiscountCode
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 409 {object} ierr.ErrorResponse
// @Router /discount-codes [post]
func (h *DiscountCodeHandler) Create(c *gin.Context) {
	var req dto.CreateDiscountCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	code, err := h.discountCodeService.Create(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, code)
}

// @Summary Get a discount code
// @Tags DiscountCodes
// @Produce json
// @Param id path string true "Discount code ID"
// @Success 200 {object} discountcode.DiscountCode
// @Failure 404 {object} ierr.ErrorResponse
// @Router /discount-codes/{id} [get]
func (h *DiscountCodeHandler) Get(c *gin.Context) {
	code, err := h.discountCodeService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, code)
}

// @Summary Validate a discount code
// @Description Dry run of a code against an order. Rejections are reported in the body, not as errors.
// @Tags DiscountCodes
// @Accept json
// @Produce json
// @Param request body dto.ValidateDiscountCodeRequest true "Code and order lines"
// @Success 200 {object} dto.ValidateDiscountCodeResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /discount-codes/validate [post]
func (h *DiscountCodeHandler) Validate(c *gin.Context) {
	var req dto.ValidateDiscountCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.discountCodeService.ValidateCode(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Reverse a discount code usage
// @Tags DiscountCodes
// @Produce json
// @Param id path string true "Discount code ID"
// @Param usage_id path string true "Redemption ID"
// @Success 200 {object} discountcode.Redemption
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 404 {object} ierr.ErrorResponse
// @Router /discount-codes/{id}/usages/{usage_id}/reverse [post]
func (h *DiscountCodeHandler) ReverseUsage(c *gin.Context) {
	redemption, err := h.discountCodeService.ReverseUsage(c.Request.Context(), c.Param("id"), c.Param("usage_id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, redemption)
}
