package types

import (
	"strings"

	"github.com/samber/lo"
	ierr "github.com/tixello/settlement/internal/errors"
)

// DiscountCodeType is how a code's value is interpreted
type DiscountCodeType string

const (
	DiscountCodeTypePercentage  DiscountCodeType = "percentage"
	DiscountCodeTypeFixedAmount DiscountCodeType = "fixed_amount"
)

func (t DiscountCodeType) Validate() error {
	allowed := []DiscountCodeType{
		DiscountCodeTypePercentage,
		DiscountCodeTypeFixedAmount,
	}
	if !lo.Contains(allowed, t) {
		return ierr.NewError("invalid discount code type").
			WithHint("Discount code type must be percentage or fixed_amount").
			WithReportableDetails(map[string]any{
				"allowed": allowed,
				"type":    t,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

type DiscountCodeStatus string

const (
	DiscountCodeStatusDraft     DiscountCodeStatus = "draft"
	DiscountCodeStatusActive    DiscountCodeStatus = "active"
	DiscountCodeStatusInactive  DiscountCodeStatus = "inactive"
	DiscountCodeStatusExpired   DiscountCodeStatus = "expired"
	DiscountCodeStatusExhausted DiscountCodeStatus = "exhausted"
)

func (s DiscountCodeStatus) Validate() error {
	allowed := []DiscountCodeStatus{
		DiscountCodeStatusDraft,
		DiscountCodeStatusActive,
		DiscountCodeStatusInactive,
		DiscountCodeStatusExpired,
		DiscountCodeStatusExhausted,
	}
	if !lo.Contains(allowed, s) {
		return ierr.NewError("invalid discount code status").
			WithHint("Unknown discount code status").
			WithReportableDetails(map[string]any{
				"allowed": allowed,
				"status":  s,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// DiscountCodeSource tells marketplace coupons apart from organizer promo codes.
// Both go through the same validation.
type DiscountCodeSource string

const (
	DiscountCodeSourceCoupon         DiscountCodeSource = "coupon"
	DiscountCodeSourceOrganizerPromo DiscountCodeSource = "organizer_promo"
)

// DiscountScopeKind restricts which lines of an order a code may discount
type DiscountScopeKind string

const (
	DiscountScopeAllEvents     DiscountScopeKind = "all_events"
	DiscountScopeSpecificEvent DiscountScopeKind = "specific_event"
	DiscountScopeTicketType    DiscountScopeKind = "ticket_type"
)

func (k DiscountScopeKind) Validate() error {
	allowed := []DiscountScopeKind{
		DiscountScopeAllEvents,
		DiscountScopeSpecificEvent,
		DiscountScopeTicketType,
	}
	if !lo.Contains(allowed, k) {
		return ierr.NewError("invalid discount scope").
			WithHint("Discount scope must be all_events, specific_event or ticket_type").
			WithReportableDetails(map[string]any{
				"allowed": allowed,
				"scope":   k,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// NormalizeDiscountCode trims and upper-cases a customer entered code
func NormalizeDiscountCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// DiscountLineSource is where an applied discount line came from
type DiscountLineSource string

const (
	DiscountLineSourceBulk DiscountLineSource = "bulk"
	DiscountLineSourceCode DiscountLineSource = "code"
)

// BulkRuleType is the discriminator of a bulk discount rule
type BulkRuleType string

const (
	BulkRuleTypeBuyXGetY           BulkRuleType = "buy_x_get_y"
	BulkRuleTypeBuyXPercentOff     BulkRuleType = "buy_x_percent_off"
	BulkRuleTypeAmountOffPerTicket BulkRuleType = "amount_off_per_ticket"
	BulkRuleTypeBundlePrice        BulkRuleType = "bundle_price"
)
