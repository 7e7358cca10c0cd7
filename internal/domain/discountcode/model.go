package discountcode

import (
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	ierr "github.com/tixello/settlement/internal/errors"
	"github.com/tixello/settlement/internal/types"
)

// DiscountCode is a customer entered code, either a marketplace coupon or an
// organizer promo code. Amounts are in minor units.
type DiscountCode struct {
	ID          string                   `json:"id"`
	Code        string                   `json:"code"`
	Source      types.DiscountCodeSource `json:"source"`
	OrganizerID *string                  `json:"organizer_id,omitempty"`
	Type        types.DiscountCodeType   `json:"type"`
	// Value is a percentage for percentage codes and minor units for fixed_amount codes
	Value                 decimal.Decimal          `json:"value"`
	MaxDiscountAmount     *int64                   `json:"max_discount_amount,omitempty"`
	MinPurchaseAmount     int64                    `json:"min_purchase_amount"`
	MinTickets            int64                    `json:"min_tickets"`
	StartsAt              *time.Time               `json:"starts_at,omitempty"`
	ExpiresAt             *time.Time               `json:"expires_at,omitempty"`
	Status                types.DiscountCodeStatus `json:"status"`
	UsageLimitTotal       *int64                   `json:"usage_limit_total,omitempty"`
	UsageLimitPerCustomer *int64                   `json:"usage_limit_per_customer,omitempty"`
	UsageCount            int64                    `json:"usage_count"`
	Scope                 Scope                    `json:"scope"`
	Currency              *string                  `json:"currency,omitempty"`
	Combinable            bool                     `json:"combinable"`
	types.BaseModel
}

// Scope restricts the lines a code applies to. IDs are event ids for
// specific_event and ticket type ids for ticket_type.
type Scope struct {
	Kind types.DiscountScopeKind `json:"kind"`
	IDs  []string                `json:"ids,omitempty"`
}

// Covers reports whether a line of eventID / ticketTypeID falls in the scope
func (s Scope) Covers(eventID, ticketTypeID string) bool {
	switch s.Kind {
	case types.DiscountScopeAllEvents, "":
		return true
	case types.DiscountScopeSpecificEvent:
		return lo.Contains(s.IDs, eventID)
	case types.DiscountScopeTicketType:
		return lo.Contains(s.IDs, ticketTypeID)
	}
	return false
}

func (c *DiscountCode) Validate() error {
	if c.Code == "" {
		return ierr.NewError("code is required").
			WithHint("Discount code must not be empty").
			Mark(ierr.ErrValidation)
	}
	if err := c.Type.Validate(); err != nil {
		return err
	}
	if err := c.Status.Validate(); err != nil {
		return err
	}
	if err := c.Scope.Kind.Validate(); err != nil {
		return err
	}
	if c.Scope.Kind != types.DiscountScopeAllEvents && len(c.Scope.IDs) == 0 {
		return ierr.NewError("scope ids are required").
			WithHintf("A %s scope must list at least one id", c.Scope.Kind).
			Mark(ierr.ErrValidation)
	}
	if c.Value.IsNegative() {
		return ierr.NewError("value must not be negative").
			WithHint("Discount value must be zero or positive").
			Mark(ierr.ErrValidation)
	}
	if c.Type == types.DiscountCodeTypeFixedAmount && !c.Value.IsInteger() {
		return ierr.NewError("fixed amount must be in minor units").
			WithHint("Fixed amount discount value must be a whole number of minor units").
			WithReportableDetails(map[string]any{
				"value": c.Value.String(),
			}).
			Mark(ierr.ErrValidation)
	}
	if c.StartsAt != nil && c.ExpiresAt != nil && c.ExpiresAt.Before(*c.StartsAt) {
		return ierr.NewError("expires_at before starts_at").
			WithHint("Discount code validity window is inverted").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// Redemption records one use of a code by a customer
type Redemption struct {
	ID             string     `db:"id" json:"id"`
	DiscountCodeID string     `db:"discount_code_id" json:"discount_code_id"`
	CustomerID     string     `db:"customer_id" json:"customer_id"`
	OrderRef       string     `db:"order_ref" json:"order_ref"`
	ReversedAt     *time.Time `db:"reversed_at" json:"reversed_at,omitempty"`
	types.BaseModel
}

func (r *Redemption) IsReversed() bool {
	return r.ReversedAt != nil
}

// LimitReached reports whether usage_count has hit usage_limit_total
func (c *DiscountCode) LimitReached() bool {
	return c.UsageLimitTotal != nil && c.UsageCount >= *c.UsageLimitTotal
}
