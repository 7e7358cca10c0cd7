package service

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/iter"
	"github.com/tixello/settlement/internal/domain/discountcode"
	"github.com/tixello/settlement/internal/domain/pricing"
	"github.com/tixello/settlement/internal/domain/settlement"
	"github.com/tixello/settlement/internal/domain/storedvalue"
	"github.com/tixello/settlement/internal/domain/tickettype"
	ierr "github.com/tixello/settlement/internal/errors"
	"github.com/tixello/settlement/internal/logger"
	"github.com/tixello/settlement/internal/types"
)

// SettlementInput is one order to settle. Pricing records, lines and codes
// are read-only inputs owned by the caller.
type SettlementInput struct {
	Catalog *pricing.Catalog
	Lines   []*tickettype.Line
	// Codes in entry order, already looked up
	Codes         []*discountcode.DiscountCode
	CustomerUsage map[string]int64
	// Notices collected before the calculation, e.g. unknown codes
	Notices     []settlement.Notice
	StoredValue *StoredValueCharge
	Now         time.Time
}

// StoredValueCharge asks to pay up to Requested from a gift card
type StoredValueCharge struct {
	AccountID string
	Requested int64
	Meta      storedvalue.Meta
}

// SettlementCalculator prices an order. Quote never mutates anything;
// Finalize performs the single ledger mutation of a settlement.
type SettlementCalculator interface {
	Quote(ctx context.Context, in *SettlementInput) (*settlement.Result, error)
	Finalize(ctx context.Context, in *SettlementInput, quote *settlement.Result) (*settlement.Result, error)
	Calculate(ctx context.Context, in *SettlementInput) (*settlement.Result, error)
}

type settlementCalculator struct {
	commission CommissionResolver
	discount   DiscountResolver
	ledger     StoredValueService
	logger     *logger.Logger
}

func NewSettlementCalculator(
	commission CommissionResolver,
	discount DiscountResolver,
	ledger StoredValueService,
	logger *logger.Logger,
) SettlementCalculator {
	return &settlementCalculator{
		commission: commission,
		discount:   discount,
		ledger:     ledger,
		logger:     logger,
	}
}

// rateResolution is the pricing context and rate of one line
type rateResolution struct {
	ctx  pricing.Context
	rate decimal.Decimal
	mode types.CommissionMode
	err  error
}

func (c *settlementCalculator) Calculate(ctx context.Context, in *SettlementInput) (*settlement.Result, error) {
	quote, err := c.Quote(ctx, in)
	if err != nil {
		return nil, err
	}
	return c.Finalize(ctx, in, quote)
}

// Quote runs subtotal, discounts and commission. Discounts and commission
// rates are resolved concurrently; both resolvers are pure.
func (c *settlementCalculator) Quote(ctx context.Context, in *SettlementInput) (*settlement.Result, error) {
	currency, err := c.validate(in)
	if err != nil {
		return nil, err
	}

	var (
		resolution *settlement.DiscountResolution
		notices    []settlement.Notice
		discErr    error
		rates      []rateResolution
	)

	var wg conc.WaitGroup
	wg.Go(func() {
		resolution, notices, discErr = c.resolveDiscounts(in)
	})
	wg.Go(func() {
		rates = iter.Map(in.Lines, func(l **tickettype.Line) rateResolution {
			pc, err := in.Catalog.ContextFor((*l).EventID)
			if err == nil {
				err = pc.Validate()
			}
			if err != nil {
				return rateResolution{err: err}
			}
			rate, mode := c.commission.ResolveRate(pc)
			return rateResolution{ctx: pc, rate: rate, mode: mode}
		})
	})
	wg.Wait()

	if discErr != nil {
		return nil, discErr
	}
	if r, found := lo.Find(rates, func(r rateResolution) bool { return r.err != nil }); found {
		return nil, r.err
	}

	shares := allocateDiscount(in.Lines, resolution.Total)

	result := &settlement.Result{
		Currency:      currency,
		Subtotal:      resolution.Subtotal,
		DiscountTotal: resolution.Total,
		Lines:         make([]settlement.LineResult, 0, len(in.Lines)),
		Discounts:     resolution.Lines,
		Notices:       append(append([]settlement.Notice{}, in.Notices...), notices...),
	}

	for i, l := range in.Lines {
		subtotal := l.Subtotal()
		discounted := subtotal - shares[i]
		commission := c.commission.Compute(rates[i].ctx, discounted)

		result.Lines = append(result.Lines, settlement.LineResult{
			TicketTypeID:     l.TicketTypeID,
			EventID:          l.EventID,
			Subtotal:         subtotal,
			Discount:         shares[i],
			DiscountedAmount: discounted,
			CommissionRate:   commission.Rate,
			CommissionMode:   commission.Mode,
			Commission:       commission.Commission,
			OrganizerRevenue: commission.OrganizerRevenue,
			CustomerCharge:   commission.CustomerCharge,
		})
		result.CommissionTotal += commission.Commission
		result.OrganizerRevenueTotal += commission.OrganizerRevenue
		result.CustomerChargeTotal += commission.CustomerCharge
	}

	if err := checkQuoteInvariants(result); err != nil {
		c.logger.Errorw("settlement quote failed reconciliation",
			"error", err,
			"subtotal", result.Subtotal,
			"discount_total", result.DiscountTotal,
		)
		return nil, err
	}
	return result, nil
}

// Finalize charges the gift card, if one was requested, as the last step.
// The quote is not modified; a copy is returned.
func (c *settlementCalculator) Finalize(ctx context.Context, in *SettlementInput, quote *settlement.Result) (*settlement.Result, error) {
	result := *quote
	if in.StoredValue == nil || in.StoredValue.Requested <= 0 || result.CustomerChargeTotal <= 0 {
		return &result, nil
	}

	account, err := c.ledger.Get(ctx, in.StoredValue.AccountID)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(account.Currency, result.Currency) {
		return nil, ierr.NewError("gift card currency differs from order currency").
			WithHint("This gift card cannot be used for an order in this currency").
			WithReportableDetails(map[string]any{
				"account_currency": account.Currency,
				"order_currency":   result.Currency,
			}).
			Mark(ierr.ErrValidation)
	}

	limit := min(in.StoredValue.Requested, result.CustomerChargeTotal)
	_, txn, err := c.ledger.RedeemUpTo(ctx, in.StoredValue.AccountID, limit, in.StoredValue.Meta)
	if err != nil {
		return nil, err
	}
	if txn != nil {
		result.StoredValueApplied = -txn.Amount
		result.CustomerChargeTotal -= result.StoredValueApplied
		result.StoredValueTransactionID = txn.ID
	}

	if err := checkChargeInvariant(&result); err != nil {
		// the redemption is committed; surface loudly, it is a logic defect
		c.logger.Errorw("settlement charge failed reconciliation after ledger mutation",
			"error", err,
			"transaction_id", result.StoredValueTransactionID,
		)
		return nil, err
	}
	return &result, nil
}

// resolveDiscounts resolves bulk rules and codes. A code that cannot apply
// is dropped with a notice and resolution is retried without it.
func (c *settlementCalculator) resolveDiscounts(in *SettlementInput) (*settlement.DiscountResolution, []settlement.Notice, error) {
	codes := in.Codes
	var notices []settlement.Notice

	for {
		resolution, err := c.discount.Resolve(&DiscountResolveRequest{
			Lines:         in.Lines,
			Codes:         codes,
			CustomerUsage: in.CustomerUsage,
			Now:           in.Now,
		})
		if err == nil {
			return resolution, notices, nil
		}

		var codeErr *DiscountCodeError
		if !ierr.As(err, &codeErr) || !ierr.IsRecoverableDiscount(err) {
			return nil, nil, err
		}

		if codeErr.Reason == types.DiscountRejectionNotCombinable {
			// first entered code wins
			for _, dropped := range codes[1:] {
				notices = append(notices, settlement.Notice{
					Code:         types.DiscountRejectionNotCombinable,
					Message:      hintOf(err),
					DiscountCode: dropped.Code,
				})
			}
			codes = codes[:1]
			continue
		}

		notices = append(notices, settlement.Notice{
			Code:         codeErr.Reason,
			Message:      hintOf(err),
			DiscountCode: codeErr.Code,
		})
		codes = lo.Filter(codes, func(dc *discountcode.DiscountCode, _ int) bool {
			return dc.ID != codeErr.CodeID
		})
	}
}

func (c *settlementCalculator) validate(in *SettlementInput) (string, error) {
	if in == nil || in.Catalog == nil {
		return "", ierr.NewError("settlement input is incomplete").
			WithHint("Pricing records are required").
			Mark(ierr.ErrValidation)
	}
	if len(in.Lines) == 0 {
		return "", ierr.NewError("order has no lines").
			WithHint("At least one ticket line is required").
			Mark(ierr.ErrValidation)
	}
	for _, l := range in.Lines {
		if l == nil {
			return "", ierr.NewError("nil ticket line").
				WithHint("Ticket lines must not be empty").
				Mark(ierr.ErrValidation)
		}
		if err := l.Validate(); err != nil {
			return "", err
		}
	}

	currency := strings.ToUpper(in.Lines[0].Currency)
	if currency == "" && in.Catalog.Marketplace() != nil {
		currency = strings.ToUpper(in.Catalog.Marketplace().Currency)
	}
	for _, l := range in.Lines {
		if l.Currency != "" && !strings.EqualFold(l.Currency, currency) {
			return "", ierr.NewError("order mixes currencies").
				WithHint("All tickets of an order must be priced in one currency").
				WithReportableDetails(map[string]any{
					"currency":       currency,
					"line_currency":  l.Currency,
					"ticket_type_id": l.TicketTypeID,
				}).
				Mark(ierr.ErrValidation)
		}
	}
	if currency == "" {
		return "", ierr.NewError("order currency is unknown").
			WithHint("Ticket lines must carry a currency").
			Mark(ierr.ErrValidation)
	}
	return currency, nil
}

// allocateDiscount spreads total over lines pro rata to their subtotal,
// rounding down. The rounding residual goes to the last line, spilling
// backwards when a line cannot absorb more than its own subtotal.
func allocateDiscount(lines []*tickettype.Line, total int64) []int64 {
	shares := make([]int64, len(lines))
	subtotal := orderSubtotal(lines)
	if total <= 0 || subtotal <= 0 {
		return shares
	}

	totalDec := decimal.NewFromInt(total)
	subtotalDec := decimal.NewFromInt(subtotal)

	var allocated int64
	for i, l := range lines {
		shares[i] = totalDec.Mul(decimal.NewFromInt(l.Subtotal())).Div(subtotalDec).Floor().IntPart()
		allocated += shares[i]
	}

	residual := total - allocated
	for i := len(lines) - 1; i >= 0 && residual > 0; i-- {
		room := lines[i].Subtotal() - shares[i]
		add := min(room, residual)
		shares[i] += add
		residual -= add
	}
	return shares
}

func checkQuoteInvariants(r *settlement.Result) error {
	var discount, charge int64
	for _, l := range r.Lines {
		discount += l.Discount
		charge += l.CustomerCharge

		ok := l.Discount >= 0 && l.DiscountedAmount >= 0 && l.Commission >= 0 &&
			l.Subtotal-l.Discount == l.DiscountedAmount
		switch l.CommissionMode {
		case types.CommissionModeIncluded:
			ok = ok && l.OrganizerRevenue+l.Commission == l.DiscountedAmount &&
				l.CustomerCharge == l.DiscountedAmount
		case types.CommissionModeAddedOnTop:
			ok = ok && l.CustomerCharge == l.DiscountedAmount+l.Commission &&
				l.OrganizerRevenue == l.DiscountedAmount
		default:
			ok = false
		}
		if !ok {
			return roundingError("line does not reconcile", map[string]any{
				"ticket_type_id": l.TicketTypeID,
				"subtotal":       l.Subtotal,
				"discount":       l.Discount,
				"commission":     l.Commission,
				"mode":           l.CommissionMode,
			})
		}
	}

	if discount != r.DiscountTotal || r.DiscountTotal > r.Subtotal || charge != r.CustomerChargeTotal {
		return roundingError("totals do not reconcile", map[string]any{
			"subtotal":              r.Subtotal,
			"discount_total":        r.DiscountTotal,
			"allocated_discount":    discount,
			"customer_charge_total": r.CustomerChargeTotal,
			"line_charge_total":     charge,
		})
	}
	return nil
}

// checkChargeInvariant verifies the gift card payment against the lines
func checkChargeInvariant(r *settlement.Result) error {
	lineCharge := lo.SumBy(r.Lines, func(l settlement.LineResult) int64 { return l.CustomerCharge })
	if r.CustomerChargeTotal < 0 || r.StoredValueApplied < 0 ||
		r.CustomerChargeTotal+r.StoredValueApplied != lineCharge {
		return roundingError("customer charge does not reconcile", map[string]any{
			"customer_charge_total": r.CustomerChargeTotal,
			"stored_value_applied":  r.StoredValueApplied,
			"line_charge_total":     lineCharge,
		})
	}
	return nil
}

func roundingError(msg string, details map[string]any) error {
	return ierr.NewError(msg).
		WithHint("Settlement could not be reconciled").
		WithReportableDetails(details).
		Mark(ierr.ErrRoundingInvariant)
}

// hintOf returns the first user facing hint of err
func hintOf(err error) string {
	for _, h := range errors.GetAllHints(err) {
		if h = strings.TrimSpace(h); h != "" {
			return h
		}
	}
	return err.Error()
}
