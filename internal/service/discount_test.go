package service

import (
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tixello/settlement/internal/domain/discountcode"
	"github.com/tixello/settlement/internal/domain/settlement"
	"github.com/tixello/settlement/internal/domain/tickettype"
	ierr "github.com/tixello/settlement/internal/errors"
	"github.com/tixello/settlement/internal/types"
)

var discountNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func activeCode(id string, mutate ...func(c *discountcode.DiscountCode)) *discountcode.DiscountCode {
	c := &discountcode.DiscountCode{
		ID:     id,
		Code:   types.NormalizeDiscountCode(id),
		Source: types.DiscountCodeSourceCoupon,
		Type:   types.DiscountCodeTypePercentage,
		Value:  decimal.NewFromInt(10),
		Status: types.DiscountCodeStatusActive,
		Scope:  discountcode.Scope{Kind: types.DiscountScopeAllEvents},
	}
	for _, m := range mutate {
		m(c)
	}
	return c
}

func ticketLine(id, eventID string, unitPrice, qty int64, rules ...tickettype.BulkRule) *tickettype.Line {
	return &tickettype.Line{
		TicketTypeID: id,
		EventID:      eventID,
		Currency:     "RON",
		UnitPrice:    unitPrice,
		Quantity:     qty,
		BulkRules:    rules,
	}
}

func rejectionReason(t *testing.T, err error) types.DiscountRejectionReason {
	t.Helper()
	var codeErr *DiscountCodeError
	require.True(t, ierr.As(err, &codeErr), "expected a discount code error, got %v", err)
	return codeErr.Reason
}

func TestResolveBulkBuyXGetY(t *testing.T) {
	resolver := NewDiscountResolver()

	res, err := resolver.Resolve(&DiscountResolveRequest{
		Lines: []*tickettype.Line{ticketLine("tt_1", "evt_1", 5000, 9, tickettype.BuyXGetY{X: 2, Y: 1})},
		Now:   discountNow,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(45000), res.Subtotal)
	assert.Equal(t, int64(15000), res.Total)
	require.Len(t, res.Lines, 1)
	assert.Equal(t, types.DiscountLineSourceBulk, res.Lines[0].Source)
	assert.Equal(t, types.BulkRuleTypeBuyXGetY, res.Lines[0].RuleType)
}

func TestResolveCapsAtSubtotal(t *testing.T) {
	resolver := NewDiscountResolver()

	// subtotal 100.00, bulk 60.00, code 60.00
	res, err := resolver.Resolve(&DiscountResolveRequest{
		Lines: []*tickettype.Line{ticketLine("tt_1", "evt_1", 1000, 10, tickettype.AmountOffPerTicket{MinQty: 1, Amount: 600})},
		Codes: []*discountcode.DiscountCode{activeCode("FLAT60", func(c *discountcode.DiscountCode) {
			c.Type = types.DiscountCodeTypeFixedAmount
			c.Value = decimal.NewFromInt(6000)
		})},
		Now: discountNow,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10000), res.Total)
	require.Len(t, res.Lines, 2)
	assert.Equal(t, int64(6000), res.Lines[0].Amount, "bulk line is kept whole")
	assert.Equal(t, int64(4000), res.Lines[1].Amount, "code line absorbs the cap")
	assert.Equal(t, res.Total, lo.SumBy(res.Lines, func(l settlement.DiscountLine) int64 { return l.Amount }))
}

func TestResolvePercentageCodeRespectsMaxAndScope(t *testing.T) {
	resolver := NewDiscountResolver()
	lines := []*tickettype.Line{
		ticketLine("tt_1", "evt_1", 10000, 2),
		ticketLine("tt_2", "evt_2", 5000, 2),
	}

	scoped := activeCode("EVT1", func(c *discountcode.DiscountCode) {
		c.Value = decimal.NewFromInt(50)
		c.Scope = discountcode.Scope{Kind: types.DiscountScopeSpecificEvent, IDs: []string{"evt_1"}}
	})
	res, err := resolver.Resolve(&DiscountResolveRequest{Lines: lines, Codes: []*discountcode.DiscountCode{scoped}, Now: discountNow})
	require.NoError(t, err)
	assert.Equal(t, int64(10000), res.Total, "half of the in-scope 200.00")

	scoped.MaxDiscountAmount = lo.ToPtr(int64(2500))
	res, err = resolver.Resolve(&DiscountResolveRequest{Lines: lines, Codes: []*discountcode.DiscountCode{scoped}, Now: discountNow})
	require.NoError(t, err)
	assert.Equal(t, int64(2500), res.Total)
}

func TestEvaluateCodeValidationOrder(t *testing.T) {
	resolver := NewDiscountResolver()
	lines := []*tickettype.Line{ticketLine("tt_1", "evt_1", 1000, 2)}
	past := discountNow.Add(-time.Hour)
	future := discountNow.Add(time.Hour)

	tests := []struct {
		name      string
		code      *discountcode.DiscountCode
		usage     map[string]int64
		reason    types.DiscountRejectionReason
		exhausted bool
	}{
		{
			name: "inactive status wins over everything",
			code: activeCode("A", func(c *discountcode.DiscountCode) {
				c.Status = types.DiscountCodeStatusInactive
				c.ExpiresAt = &past
				c.MinPurchaseAmount = 999999
			}),
			reason: types.DiscountRejectionCodeNotActive,
		},
		{
			name:      "expired status",
			code:      activeCode("B", func(c *discountcode.DiscountCode) { c.Status = types.DiscountCodeStatusExpired }),
			reason:    types.DiscountRejectionCodeExpired,
			exhausted: true,
		},
		{
			name: "window before usage",
			code: activeCode("C", func(c *discountcode.DiscountCode) {
				c.StartsAt = &future
				c.UsageLimitTotal = lo.ToPtr(int64(1))
				c.UsageCount = 1
			}),
			reason:    types.DiscountRejectionCodeNotStarted,
			exhausted: true,
		},
		{
			name: "total usage before customer usage",
			code: activeCode("D", func(c *discountcode.DiscountCode) {
				c.UsageLimitTotal = lo.ToPtr(int64(5))
				c.UsageCount = 5
				c.UsageLimitPerCustomer = lo.ToPtr(int64(1))
			}),
			usage:     map[string]int64{"D": 1},
			reason:    types.DiscountRejectionUsageLimitReached,
			exhausted: true,
		},
		{
			name: "customer usage before min purchase",
			code: activeCode("E", func(c *discountcode.DiscountCode) {
				c.UsageLimitPerCustomer = lo.ToPtr(int64(1))
				c.MinPurchaseAmount = 999999
			}),
			usage:     map[string]int64{"E": 1},
			reason:    types.DiscountRejectionCustomerLimit,
			exhausted: true,
		},
		{
			name: "min purchase before min tickets",
			code: activeCode("F", func(c *discountcode.DiscountCode) {
				c.MinPurchaseAmount = 5000
				c.MinTickets = 10
			}),
			reason: types.DiscountRejectionMinPurchase,
		},
		{
			name: "min tickets before scope",
			code: activeCode("G", func(c *discountcode.DiscountCode) {
				c.MinTickets = 10
				c.Scope = discountcode.Scope{Kind: types.DiscountScopeTicketType, IDs: []string{"tt_9"}}
			}),
			reason: types.DiscountRejectionMinTickets,
		},
		{
			name: "scope mismatch",
			code: activeCode("H", func(c *discountcode.DiscountCode) {
				c.Scope = discountcode.Scope{Kind: types.DiscountScopeTicketType, IDs: []string{"tt_9"}}
			}),
			reason: types.DiscountRejectionScopeMismatch,
		},
		{
			name:   "currency mismatch",
			code:   activeCode("I", func(c *discountcode.DiscountCode) { c.Currency = lo.ToPtr("EUR") }),
			reason: types.DiscountRejectionCurrencyMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resolver.EvaluateCode(tt.code, &DiscountResolveRequest{
				Lines:         lines,
				Codes:         []*discountcode.DiscountCode{tt.code},
				CustomerUsage: tt.usage,
				Now:           discountNow,
			})
			require.Error(t, err)
			assert.Equal(t, tt.reason, rejectionReason(t, err))
			assert.True(t, ierr.IsRecoverableDiscount(err))
			assert.Equal(t, tt.exhausted, ierr.IsExpiredOrExhausted(err))
			assert.Equal(t, !tt.exhausted, ierr.IsNotApplicable(err))
		})
	}
}

func TestResolveRejectsNonCombinableCodes(t *testing.T) {
	resolver := NewDiscountResolver()
	lines := []*tickettype.Line{ticketLine("tt_1", "evt_1", 1000, 2)}

	_, err := resolver.Resolve(&DiscountResolveRequest{
		Lines: lines,
		Codes: []*discountcode.DiscountCode{
			activeCode("A", func(c *discountcode.DiscountCode) { c.Combinable = true }),
			activeCode("B"),
		},
		Now: discountNow,
	})
	require.Error(t, err)
	assert.Equal(t, types.DiscountRejectionNotCombinable, rejectionReason(t, err))

	res, err := resolver.Resolve(&DiscountResolveRequest{
		Lines: lines,
		Codes: []*discountcode.DiscountCode{
			activeCode("A", func(c *discountcode.DiscountCode) { c.Combinable = true }),
			activeCode("B", func(c *discountcode.DiscountCode) { c.Combinable = true }),
		},
		Now: discountNow,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(400), res.Total)
}

func TestResolveIsIdempotent(t *testing.T) {
	resolver := NewDiscountResolver()
	req := &DiscountResolveRequest{
		Lines: []*tickettype.Line{
			ticketLine("tt_1", "evt_1", 3333, 7, tickettype.BuyXPercentOff{MinQty: 5, Percent: decimal.NewFromFloat(12.5)}),
			ticketLine("tt_2", "evt_1", 999, 3),
		},
		Codes: []*discountcode.DiscountCode{activeCode("SAME")},
		Now:   discountNow,
	}

	first, err := resolver.Resolve(req)
	require.NoError(t, err)
	second, err := resolver.Resolve(req)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestResolveRejectsInvalidLines(t *testing.T) {
	resolver := NewDiscountResolver()

	_, err := resolver.Resolve(&DiscountResolveRequest{Now: discountNow})
	assert.True(t, ierr.IsValidation(err))

	_, err = resolver.Resolve(&DiscountResolveRequest{
		Lines: []*tickettype.Line{ticketLine("tt_1", "evt_1", 1000, 0)},
		Now:   discountNow,
	})
	assert.True(t, ierr.IsValidation(err))
}
