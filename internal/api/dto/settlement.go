package dto

import (
	"strings"

	"github.com/samber/lo"
	"github.com/tixello/settlement/internal/domain/pricing"
	"github.com/tixello/settlement/internal/domain/settlement"
	"github.com/tixello/settlement/internal/domain/tickettype"
	ierr "github.com/tixello/settlement/internal/errors"
	"github.com/tixello/settlement/internal/types"
)

// SettlementRequest describes an order to price. The pricing records are
// supplied by the caller, which owns them.
type SettlementRequest struct {
	Marketplace *pricing.Marketplace `json:"marketplace" validate:"required"`
	Organizers  []*pricing.Organizer `json:"organizers,omitempty"`
	Events      []*pricing.Event     `json:"events" validate:"required,min=1"`
	Lines       []*tickettype.Line   `json:"lines" validate:"required,min=1"`
	// DiscountCodes in the order the customer entered them
	DiscountCodes []string `json:"discount_codes,omitempty"`
	CustomerID    string   `json:"customer_id,omitempty"`

	StoredValue *StoredValueRedemption `json:"stored_value,omitempty"`
}

func (r *SettlementRequest) Validate() error {
	if r.Marketplace == nil {
		return ierr.NewError("marketplace is required").
			WithHint("Marketplace pricing record is required").
			Mark(ierr.ErrValidation)
	}
	if len(r.Lines) == 0 {
		return ierr.NewError("order has no lines").
			WithHint("At least one ticket line is required").
			Mark(ierr.ErrValidation)
	}
	if len(r.Events) == 0 {
		return ierr.NewError("events are required").
			WithHint("Every event referenced by a line must be supplied").
			Mark(ierr.ErrValidation)
	}
	if lo.SomeBy(r.Lines, func(l *tickettype.Line) bool { return l == nil }) {
		return ierr.NewError("nil ticket line").
			WithHint("Ticket lines must not be empty").
			Mark(ierr.ErrValidation)
	}
	if r.StoredValue != nil {
		if err := r.StoredValue.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Catalog indexes the pricing records of the request
func (r *SettlementRequest) Catalog() *pricing.Catalog {
	return pricing.NewCatalog(r.Marketplace, r.Events, r.Organizers)
}

// NormalizedCodes returns the entered codes normalized and deduplicated,
// keeping entry order
func (r *SettlementRequest) NormalizedCodes() []string {
	codes := lo.Map(r.DiscountCodes, func(c string, _ int) string {
		return types.NormalizeDiscountCode(c)
	})
	codes = lo.Filter(codes, func(c string, _ int) bool { return c != "" })
	return lo.Uniq(codes)
}

// SettleRequest is a settlement that commits: code usage is recorded and the
// gift card is charged
type SettleRequest struct {
	SettlementRequest
	// OrderRef identifies the caller's order and keys idempotent retries
	OrderRef string `json:"order_ref" validate:"required"`
}

func (r *SettleRequest) Validate() error {
	if strings.TrimSpace(r.OrderRef) == "" {
		return ierr.NewError("order_ref is required").
			WithHint("Order reference is required to settle an order").
			Mark(ierr.ErrValidation)
	}
	if len(r.NormalizedCodes()) > 0 && r.CustomerID == "" {
		return ierr.NewError("customer_id is required with discount codes").
			WithHint("A customer is required to redeem discount codes").
			Mark(ierr.ErrValidation)
	}
	return r.SettlementRequest.Validate()
}

// SettlementResponse wraps the settlement result with display amounts
type SettlementResponse struct {
	*settlement.Result
	SubtotalDisplay            string `json:"subtotal_display"`
	DiscountTotalDisplay       string `json:"discount_total_display"`
	CommissionTotalDisplay     string `json:"commission_total_display"`
	StoredValueAppliedDisplay  string `json:"stored_value_applied_display"`
	CustomerChargeTotalDisplay string `json:"customer_charge_total_display"`
}

func FromSettlementResult(r *settlement.Result) *SettlementResponse {
	if r == nil {
		return nil
	}
	return &SettlementResponse{
		Result:                     r,
		SubtotalDisplay:            types.FormatMinorUnits(r.Subtotal, r.Currency),
		DiscountTotalDisplay:       types.FormatMinorUnits(r.DiscountTotal, r.Currency),
		CommissionTotalDisplay:     types.FormatMinorUnits(r.CommissionTotal, r.Currency),
		StoredValueAppliedDisplay:  types.FormatMinorUnits(r.StoredValueApplied, r.Currency),
		CustomerChargeTotalDisplay: types.FormatMinorUnits(r.CustomerChargeTotal, r.Currency),
	}
}
