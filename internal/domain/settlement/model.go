package settlement

import (
	"github.com/shopspring/decimal"
	"github.com/tixello/settlement/internal/types"
)

// DiscountLine is one applied discount. Bulk lines carry the ticket type and
// rule, code lines the code.
type DiscountLine struct {
	Source       types.DiscountLineSource `json:"source"`
	TicketTypeID string                   `json:"ticket_type_id,omitempty"`
	RuleType     types.BulkRuleType       `json:"rule_type,omitempty"`
	CodeID       string                   `json:"code_id,omitempty"`
	Code         string                   `json:"code,omitempty"`
	Amount       int64                    `json:"amount"`
}

// DiscountResolution is the outcome of resolving the discounts of an order.
// Total is the sum of Lines and never exceeds Subtotal.
type DiscountResolution struct {
	Subtotal int64          `json:"subtotal"`
	Lines    []DiscountLine `json:"lines"`
	Total    int64          `json:"total"`
}

// Notice is a non fatal message about something that was not applied
type Notice struct {
	Code    types.DiscountRejectionReason `json:"code"`
	Message string                        `json:"message"`
	// DiscountCode is the rejected code, when the notice is about a code
	DiscountCode string `json:"discount_code,omitempty"`
}

// LineResult is the settled breakdown of one ticket line
type LineResult struct {
	TicketTypeID     string               `json:"ticket_type_id"`
	EventID          string               `json:"event_id"`
	Subtotal         int64                `json:"subtotal"`
	Discount         int64                `json:"discount"`
	DiscountedAmount int64                `json:"discounted_amount"`
	CommissionRate   decimal.Decimal      `json:"commission_rate"`
	CommissionMode   types.CommissionMode `json:"commission_mode"`
	Commission       int64                `json:"commission"`
	OrganizerRevenue int64                `json:"organizer_revenue"`
	CustomerCharge   int64                `json:"customer_charge"`
}

// Result is the reconciled breakdown of an order, in minor units
type Result struct {
	Currency              string         `json:"currency"`
	Subtotal              int64          `json:"subtotal"`
	DiscountTotal         int64          `json:"discount_total"`
	CommissionTotal       int64          `json:"commission_total"`
	OrganizerRevenueTotal int64          `json:"organizer_revenue_total"`
	StoredValueApplied    int64          `json:"stored_value_applied"`
	CustomerChargeTotal   int64          `json:"customer_charge_total"`
	Lines                 []LineResult   `json:"lines"`
	Discounts             []DiscountLine `json:"discounts"`
	Notices               []Notice       `json:"notices,omitempty"`
	// StoredValueTransactionID is set when a ledger mutation was committed
	StoredValueTransactionID string `json:"stored_value_transaction_id,omitempty"`
	// CodeRedemptionIDs lists the recorded code usages, set by Settle
	CodeRedemptionIDs []string `json:"code_redemption_ids,omitempty"`
}
