package dto

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tixello/settlement/internal/domain/discountcode"
	"github.com/tixello/settlement/internal/domain/tickettype"
	ierr "github.com/tixello/settlement/internal/errors"
	"github.com/tixello/settlement/internal/types"
	"github.com/tixello/settlement/internal/validator"
)

// CreateDiscountCodeRequest registers a code owned by a campaign or organizer
type CreateDiscountCodeRequest struct {
	Code                  string                   `json:"code" validate:"required,max=64"`
	Source                types.DiscountCodeSource `json:"source" validate:"required"`
	OrganizerID           *string                  `json:"organizer_id,omitempty"`
	Type                  types.DiscountCodeType   `json:"type" validate:"required"`
	Value                 decimal.Decimal          `json:"value"`
	MaxDiscountAmount     *int64                   `json:"max_discount_amount,omitempty" validate:"omitempty,gte=0"`
	MinPurchaseAmount     int64                    `json:"min_purchase_amount" validate:"gte=0"`
	MinTickets            int64                    `json:"min_tickets" validate:"gte=0"`
	StartsAt              *time.Time               `json:"starts_at,omitempty"`
	ExpiresAt             *time.Time               `json:"expires_at,omitempty"`
	Status                types.DiscountCodeStatus `json:"status,omitempty"`
	UsageLimitTotal       *int64                   `json:"usage_limit_total,omitempty" validate:"omitempty,gt=0"`
	UsageLimitPerCustomer *int64                   `json:"usage_limit_per_customer,omitempty" validate:"omitempty,gt=0"`
	Scope                 discountcode.Scope       `json:"scope"`
	Currency              *string                  `json:"currency,omitempty" validate:"omitempty,currency"`
	Combinable            bool                     `json:"combinable"`
}

func (r *CreateDiscountCodeRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	if r.Source == types.DiscountCodeSourceOrganizerPromo && r.OrganizerID == nil {
		return ierr.NewError("organizer_id is required for promo codes").
			WithHint("Organizer promo codes must name their organizer").
			Mark(ierr.ErrValidation)
	}
	return nil
}

func (r *CreateDiscountCodeRequest) ToDiscountCode(ctx context.Context) *discountcode.DiscountCode {
	status := r.Status
	if status == "" {
		status = types.DiscountCodeStatusActive
	}
	scope := r.Scope
	if scope.Kind == "" {
		scope.Kind = types.DiscountScopeAllEvents
	}
	return &discountcode.DiscountCode{
		ID:                    types.GenerateUUIDWithPrefix(types.UUID_PREFIX_DISCOUNT_CODE),
		Code:                  types.NormalizeDiscountCode(r.Code),
		Source:                r.Source,
		OrganizerID:           r.OrganizerID,
		Type:                  r.Type,
		Value:                 r.Value,
		MaxDiscountAmount:     r.MaxDiscountAmount,
		MinPurchaseAmount:     r.MinPurchaseAmount,
		MinTickets:            r.MinTickets,
		StartsAt:              r.StartsAt,
		ExpiresAt:             r.ExpiresAt,
		Status:                status,
		UsageLimitTotal:       r.UsageLimitTotal,
		UsageLimitPerCustomer: r.UsageLimitPerCustomer,
		Scope:                 scope,
		Currency:              r.Currency,
		Combinable:            r.Combinable,
		BaseModel:             types.GetDefaultBaseModel(ctx),
	}
}

// ValidateDiscountCodeRequest checks a code against a cart without using it
type ValidateDiscountCodeRequest struct {
	Code       string             `json:"code" validate:"required"`
	Lines      []*tickettype.Line `json:"lines" validate:"required,min=1"`
	CustomerID string             `json:"customer_id,omitempty"`
}

func (r *ValidateDiscountCodeRequest) Validate() error {
	return validator.ValidateRequest(r)
}

// ValidateDiscountCodeResponse carries the amount a valid code would take
// off, or the reason it would be rejected
type ValidateDiscountCodeResponse struct {
	Code           string                        `json:"code"`
	Valid          bool                          `json:"valid"`
	DiscountAmount int64                         `json:"discount_amount"`
	Reason         types.DiscountRejectionReason `json:"reason,omitempty"`
	Message        string                        `json:"message,omitempty"`
}
