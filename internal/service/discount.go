package service

import (
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/tixello/settlement/internal/domain/discountcode"
	"github.com/tixello/settlement/internal/domain/settlement"
	"github.com/tixello/settlement/internal/domain/tickettype"
	ierr "github.com/tixello/settlement/internal/errors"
	"github.com/tixello/settlement/internal/types"
)

// DiscountCodeError is returned when a code cannot be applied. It unwraps to
// an error marked ErrNotApplicable or ErrExpiredOrExhausted.
type DiscountCodeError struct {
	CodeID string
	Code   string
	Reason types.DiscountRejectionReason
	err    error
}

func (e *DiscountCodeError) Error() string {
	return e.err.Error()
}

func (e *DiscountCodeError) Unwrap() error {
	return e.err
}

// DiscountResolveRequest is the input of a discount resolution
type DiscountResolveRequest struct {
	Lines []*tickettype.Line
	// Codes in the order the customer entered them
	Codes []*discountcode.DiscountCode
	// CustomerUsage maps a code id to the customer's prior uses of it
	CustomerUsage map[string]int64
	Now           time.Time
}

func (r *DiscountResolveRequest) Validate() error {
	if len(r.Lines) == 0 {
		return ierr.NewError("order has no lines").
			WithHint("At least one ticket line is required").
			Mark(ierr.ErrValidation)
	}
	for _, l := range r.Lines {
		if l == nil {
			return ierr.NewError("nil ticket line").
				WithHint("Ticket lines must not be empty").
				Mark(ierr.ErrValidation)
		}
		if err := l.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// DiscountResolver resolves bulk rules and discount codes for an order.
// It is pure: identical requests give identical resolutions.
type DiscountResolver interface {
	Resolve(req *DiscountResolveRequest) (*settlement.DiscountResolution, error)
	// EvaluateCode runs the validity checks of a single code against the
	// order and returns the amount it would discount on its own
	EvaluateCode(code *discountcode.DiscountCode, req *DiscountResolveRequest) (int64, error)
}

type discountResolver struct{}

func NewDiscountResolver() DiscountResolver {
	return &discountResolver{}
}

func (r *discountResolver) Resolve(req *DiscountResolveRequest) (*settlement.DiscountResolution, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	subtotal := orderSubtotal(req.Lines)
	lines := make([]settlement.DiscountLine, 0, len(req.Lines)+len(req.Codes))

	for _, l := range req.Lines {
		rule, amount := l.BestBulkDiscount()
		if rule == nil || amount == 0 {
			continue
		}
		lines = append(lines, settlement.DiscountLine{
			Source:       types.DiscountLineSourceBulk,
			TicketTypeID: l.TicketTypeID,
			RuleType:     rule.Type(),
			Amount:       amount,
		})
	}

	if len(req.Codes) > 1 {
		if c, found := lo.Find(req.Codes, func(c *discountcode.DiscountCode) bool {
			return !c.Combinable
		}); found {
			return nil, codeError(c, types.DiscountRejectionNotCombinable, ierr.ErrNotApplicable,
				"Only one discount code can be used on this order")
		}
	}

	for _, c := range req.Codes {
		amount, err := r.EvaluateCode(c, req)
		if err != nil {
			return nil, err
		}
		if amount == 0 {
			continue
		}
		lines = append(lines, settlement.DiscountLine{
			Source: types.DiscountLineSourceCode,
			CodeID: c.ID,
			Code:   c.Code,
			Amount: amount,
		})
	}

	lines, total := capDiscountLines(lines, subtotal)
	return &settlement.DiscountResolution{
		Subtotal: subtotal,
		Lines:    lines,
		Total:    total,
	}, nil
}

// EvaluateCode checks, in order and stopping at the first failure: status,
// validity window, total usage, per customer usage, minimum purchase,
// minimum tickets, scope and currency.
func (r *discountResolver) EvaluateCode(c *discountcode.DiscountCode, req *DiscountResolveRequest) (int64, error) {
	if c == nil {
		return 0, ierr.NewError("discount code is nil").
			WithHint("Discount code is required").
			Mark(ierr.ErrValidation)
	}

	switch c.Status {
	case types.DiscountCodeStatusActive:
	case types.DiscountCodeStatusExpired:
		return 0, codeError(c, types.DiscountRejectionCodeExpired, ierr.ErrExpiredOrExhausted,
			"This discount code has expired")
	case types.DiscountCodeStatusExhausted:
		return 0, codeError(c, types.DiscountRejectionUsageLimitReached, ierr.ErrExpiredOrExhausted,
			"This discount code has been fully used")
	default:
		return 0, codeError(c, types.DiscountRejectionCodeNotActive, ierr.ErrNotApplicable,
			"This discount code is not active")
	}

	if c.StartsAt != nil && req.Now.Before(*c.StartsAt) {
		return 0, codeError(c, types.DiscountRejectionCodeNotStarted, ierr.ErrExpiredOrExhausted,
			"This discount code is not valid yet")
	}
	if c.ExpiresAt != nil && req.Now.After(*c.ExpiresAt) {
		return 0, codeError(c, types.DiscountRejectionCodeExpired, ierr.ErrExpiredOrExhausted,
			"This discount code has expired")
	}

	if c.UsageLimitTotal != nil && c.UsageCount >= *c.UsageLimitTotal {
		return 0, codeError(c, types.DiscountRejectionUsageLimitReached, ierr.ErrExpiredOrExhausted,
			"This discount code has been fully used")
	}
	if c.UsageLimitPerCustomer != nil && req.CustomerUsage[c.ID] >= *c.UsageLimitPerCustomer {
		return 0, codeError(c, types.DiscountRejectionCustomerLimit, ierr.ErrExpiredOrExhausted,
			"You have already used this discount code the maximum number of times")
	}

	subtotal := orderSubtotal(req.Lines)
	if subtotal < c.MinPurchaseAmount {
		return 0, codeError(c, types.DiscountRejectionMinPurchase, ierr.ErrNotApplicable,
			"Order total is below the minimum purchase for this discount code")
	}

	tickets := lo.SumBy(req.Lines, func(l *tickettype.Line) int64 { return l.Quantity })
	if tickets < c.MinTickets {
		return 0, codeError(c, types.DiscountRejectionMinTickets, ierr.ErrNotApplicable,
			"Not enough tickets in the order for this discount code")
	}

	eligible := lo.Filter(req.Lines, func(l *tickettype.Line, _ int) bool {
		return c.Scope.Covers(l.EventID, l.TicketTypeID)
	})
	if len(eligible) == 0 {
		return 0, codeError(c, types.DiscountRejectionScopeMismatch, ierr.ErrNotApplicable,
			"This discount code does not apply to the tickets in the order")
	}

	if c.Currency != nil && *c.Currency != req.Lines[0].Currency {
		return 0, codeError(c, types.DiscountRejectionCurrencyMismatch, ierr.ErrNotApplicable,
			"This discount code is not valid for the order currency")
	}

	return codeAmount(c, orderSubtotal(eligible)), nil
}

// codeAmount computes the discount of a valid code over base, the subtotal
// of the lines in its scope
func codeAmount(c *discountcode.DiscountCode, base int64) int64 {
	var amount int64
	switch c.Type {
	case types.DiscountCodeTypePercentage:
		amount = decimal.NewFromInt(base).Mul(c.Value).Div(hundred).Round(0).IntPart()
		if c.MaxDiscountAmount != nil {
			amount = min(amount, *c.MaxDiscountAmount)
		}
	case types.DiscountCodeTypeFixedAmount:
		amount = c.Value.IntPart()
	}
	return max(0, min(amount, base))
}

// capDiscountLines keeps the sum of lines at or below subtotal, trimming from
// the end so code lines give way before bulk lines
func capDiscountLines(lines []settlement.DiscountLine, subtotal int64) ([]settlement.DiscountLine, int64) {
	sum := lo.SumBy(lines, func(l settlement.DiscountLine) int64 { return l.Amount })
	excess := sum - subtotal
	for i := len(lines) - 1; i >= 0 && excess > 0; i-- {
		cut := min(excess, lines[i].Amount)
		lines[i].Amount -= cut
		excess -= cut
	}

	lines = lo.Filter(lines, func(l settlement.DiscountLine, _ int) bool { return l.Amount > 0 })
	return lines, min(sum, subtotal)
}

func orderSubtotal(lines []*tickettype.Line) int64 {
	return lo.SumBy(lines, func(l *tickettype.Line) int64 { return l.Subtotal() })
}

func codeError(c *discountcode.DiscountCode, reason types.DiscountRejectionReason, mark error, hint string) error {
	return &DiscountCodeError{
		CodeID: c.ID,
		Code:   c.Code,
		Reason: reason,
		err: ierr.NewErrorf("discount code %s rejected: %s", c.Code, reason).
			WithHint(hint).
			WithReportableDetails(map[string]any{
				"code":   c.Code,
				"reason": reason,
			}).
			Mark(mark),
	}
}
