package service

import (
	"context"
	"time"

	"github.com/samber/lo"
	"github.com/tixello/settlement/internal/api/dto"
	"github.com/tixello/settlement/internal/domain/discountcode"
	"github.com/tixello/settlement/internal/domain/settlement"
	"github.com/tixello/settlement/internal/domain/storedvalue"
	ierr "github.com/tixello/settlement/internal/errors"
	"github.com/tixello/settlement/internal/idempotency"
	"github.com/tixello/settlement/internal/metrics"
	"github.com/tixello/settlement/internal/types"
)

// SettlementService is the order facing boundary of the settlement core
type SettlementService interface {
	// Quote prices an order without recording anything
	Quote(ctx context.Context, req *dto.SettlementRequest) (*dto.SettlementResponse, error)
	// Settle records the code usages and charges the gift card. The ledger
	// mutation is the last step; if it fails the code usages are reversed.
	// Settling an order_ref again reuses its code usages and gift card debit.
	Settle(ctx context.Context, req *dto.SettleRequest) (*dto.SettlementResponse, error)
}

const (
	settlementKindQuote  = "quote"
	settlementKindSettle = "settle"
)

type settlementService struct {
	ServiceParams
	calculator    SettlementCalculator
	discountCodes DiscountCodeService
	storedValue   StoredValueService
	keys          *idempotency.Generator
}

func NewSettlementService(
	params ServiceParams,
	discountCodes DiscountCodeService,
	storedValue StoredValueService,
) SettlementService {
	return &settlementService{
		ServiceParams: params,
		calculator:    NewSettlementCalculator(params.CommissionResolver, params.DiscountResolver, storedValue, params.Logger),
		discountCodes: discountCodes,
		storedValue:   storedValue,
		keys:          idempotency.NewGenerator(),
	}
}

func (s *settlementService) Quote(ctx context.Context, req *dto.SettlementRequest) (resp *dto.SettlementResponse, err error) {
	defer func() {
		metrics.SettlementsTotal.WithLabelValues(settlementKindQuote, metrics.Outcome(err)).Inc()
	}()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	in, err := s.buildInput(ctx, req)
	if err != nil {
		return nil, err
	}

	result, err := s.calculator.Quote(ctx, in)
	if err != nil {
		return nil, err
	}
	s.recordNotices(result.Notices)

	if req.StoredValue != nil {
		// quote what the card would cover without touching it
		if applied, err := s.previewStoredValue(ctx, in, result); err != nil {
			return nil, err
		} else if applied > 0 {
			result.StoredValueApplied = applied
			result.CustomerChargeTotal -= applied
		}
	}
	return dto.FromSettlementResult(result), nil
}

func (s *settlementService) Settle(ctx context.Context, req *dto.SettleRequest) (resp *dto.SettlementResponse, err error) {
	defer func() {
		metrics.SettlementsTotal.WithLabelValues(settlementKindSettle, metrics.Outcome(err)).Inc()
	}()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	in, err := s.buildInput(ctx, &req.SettlementRequest)
	if err != nil {
		return nil, err
	}
	prior, err := s.priorRedemptions(ctx, in, req)
	if err != nil {
		return nil, err
	}
	if in.StoredValue != nil && in.StoredValue.Meta.IdempotencyKey == nil {
		key := s.keys.GenerateKey(idempotency.ScopeSettlementRedeem, map[string]interface{}{
			"order_ref":  req.OrderRef,
			"account_id": in.StoredValue.AccountID,
		})
		in.StoredValue.Meta.IdempotencyKey = &key
	}
	if in.StoredValue != nil {
		in.StoredValue.Meta.ReferenceID = lo.ToPtr(req.OrderRef)
	}

	quote, redemptions, err := s.quoteAndRecordUsage(ctx, in, req, prior)
	if err != nil {
		return nil, err
	}

	result, err := s.calculator.Finalize(ctx, in, quote)
	if err != nil {
		taken := takenNow(redemptions, prior)
		s.Logger.Warnw("ledger step failed, reversing discount code usage",
			"order_ref", req.OrderRef,
			"redemptions", len(taken),
			"error", err,
		)
		s.reverseUsages(ctx, taken)
		return nil, err
	}

	result.CodeRedemptionIDs = lo.Map(redemptions, func(r *discountcode.Redemption, _ int) string { return r.ID })
	s.recordNotices(result.Notices)

	s.Logger.Infow("settled order",
		"order_ref", req.OrderRef,
		"subtotal", result.Subtotal,
		"discount_total", result.DiscountTotal,
		"commission_total", result.CommissionTotal,
		"stored_value_applied", result.StoredValueApplied,
		"customer_charge_total", result.CustomerChargeTotal,
	)
	return dto.FromSettlementResult(result), nil
}

// quoteAndRecordUsage quotes and records one usage per applied code. A code
// that ran out between the quote and the record is dropped with a notice and
// the order is quoted again.
func (s *settlementService) quoteAndRecordUsage(
	ctx context.Context,
	in *SettlementInput,
	req *dto.SettleRequest,
	prior map[string]*discountcode.Redemption,
) (*settlement.Result, []*discountcode.Redemption, error) {
	for {
		quote, err := s.calculator.Quote(ctx, in)
		if err != nil {
			return nil, nil, err
		}

		applied := lo.Uniq(lo.FilterMap(quote.Discounts, func(d settlement.DiscountLine, _ int) (string, bool) {
			return d.CodeID, d.CodeID != ""
		}))

		redemptions := make([]*discountcode.Redemption, 0, len(applied))
		var exhausted *discountcode.DiscountCode
		for _, codeID := range applied {
			code, found := lo.Find(in.Codes, func(c *discountcode.DiscountCode) bool { return c.ID == codeID })
			if !found {
				continue
			}

			redemption, err := s.discountCodes.RecordUsage(ctx, code, req.CustomerID, req.OrderRef)
			if err != nil {
				s.reverseUsages(ctx, takenNow(redemptions, prior))
				if ierr.IsExpiredOrExhausted(err) {
					exhausted = code
					break
				}
				return nil, nil, err
			}
			redemptions = append(redemptions, redemption)
		}

		if exhausted == nil {
			return quote, redemptions, nil
		}

		in.Codes = lo.Filter(in.Codes, func(c *discountcode.DiscountCode, _ int) bool { return c.ID != exhausted.ID })
		in.Notices = append(in.Notices, s.exhaustedNotice(ctx, exhausted, req.CustomerID))
	}
}

// priorRedemptions loads the code usages an earlier attempt of the same order
// recorded. Those codes are quoted as they stood before that attempt, at its
// time, so a retry prices the order the way the first attempt did.
func (s *settlementService) priorRedemptions(
	ctx context.Context,
	in *SettlementInput,
	req *dto.SettleRequest,
) (map[string]*discountcode.Redemption, error) {
	reds, err := s.discountCodes.OrderRedemptions(ctx, req.OrderRef)
	if err != nil {
		return nil, err
	}
	prior := lo.KeyBy(reds, func(r *discountcode.Redemption) string { return r.DiscountCodeID })
	if len(prior) == 0 {
		return prior, nil
	}

	in.Codes = lo.Map(in.Codes, func(c *discountcode.DiscountCode, _ int) *discountcode.DiscountCode {
		if _, ok := prior[c.ID]; !ok {
			return c
		}
		released := *c
		released.UsageCount = max(0, c.UsageCount-1)
		if released.Status == types.DiscountCodeStatusExhausted && !released.LimitReached() {
			released.Status = types.DiscountCodeStatusActive
		}
		return &released
	})
	for codeID, r := range prior {
		if r.CustomerID == req.CustomerID && in.CustomerUsage[codeID] > 0 {
			in.CustomerUsage[codeID]--
		}
	}

	first := lo.MinBy(reds, func(a, b *discountcode.Redemption) bool { return a.CreatedAt.Before(b.CreatedAt) })
	if first.CreatedAt.Before(in.Now) {
		in.Now = first.CreatedAt
	}
	return prior, nil
}

// takenNow drops the redemptions an earlier attempt already owned
func takenNow(redemptions []*discountcode.Redemption, prior map[string]*discountcode.Redemption) []*discountcode.Redemption {
	return lo.Filter(redemptions, func(r *discountcode.Redemption, _ int) bool {
		p, ok := prior[r.DiscountCodeID]
		return !ok || p.ID != r.ID
	})
}

// exhaustedNotice tells a code that ran out for everyone apart from one the
// customer used up themselves
func (s *settlementService) exhaustedNotice(ctx context.Context, code *discountcode.DiscountCode, customerID string) settlement.Notice {
	notice := settlement.Notice{
		Code:         types.DiscountRejectionUsageLimitReached,
		Message:      "This discount code has been fully used",
		DiscountCode: code.Code,
	}
	if code.UsageLimitPerCustomer == nil || customerID == "" {
		return notice
	}
	used, err := s.DiscountCodeRepo.CountCustomerUsage(ctx, code.ID, customerID)
	if err == nil && used >= *code.UsageLimitPerCustomer {
		notice.Code = types.DiscountRejectionCustomerLimit
		notice.Message = "You have already used this discount code the maximum number of times"
	}
	return notice
}

// buildInput looks up the entered codes and the gift card. Unknown codes
// become notices.
func (s *settlementService) buildInput(ctx context.Context, req *dto.SettlementRequest) (*SettlementInput, error) {
	in := &SettlementInput{
		Catalog: req.Catalog(),
		Lines:   req.Lines,
		Now:     time.Now().UTC(),
	}

	for _, code := range req.NormalizedCodes() {
		c, err := s.discountCodes.GetByCode(ctx, code)
		if err != nil {
			if ierr.IsNotFound(err) {
				in.Notices = append(in.Notices, settlement.Notice{
					Code:         types.DiscountRejectionCodeNotFound,
					Message:      "This discount code does not exist",
					DiscountCode: code,
				})
				continue
			}
			return nil, err
		}
		in.Codes = append(in.Codes, c)
	}

	usage, err := s.discountCodes.CustomerUsage(ctx, in.Codes, req.CustomerID)
	if err != nil {
		return nil, err
	}
	in.CustomerUsage = usage

	if req.StoredValue != nil {
		accountID := req.StoredValue.AccountID
		if accountID == "" {
			if accountID, err = s.storedValue.ResolveAccountID(ctx, req.StoredValue.Code); err != nil {
				return nil, err
			}
		}
		in.StoredValue = &StoredValueCharge{
			AccountID: accountID,
			Requested: req.StoredValue.Amount,
			Meta: storedvalue.Meta{
				Actor:          types.GetUserID(ctx),
				Description:    "order settlement",
				IdempotencyKey: req.StoredValue.IdempotencyKey,
			},
		}
	}
	return in, nil
}

// previewStoredValue is the amount a redemption would take right now
func (s *settlementService) previewStoredValue(ctx context.Context, in *SettlementInput, quote *settlement.Result) (int64, error) {
	account, err := s.storedValue.Get(ctx, in.StoredValue.AccountID)
	if err != nil {
		return 0, err
	}
	if account.Status != types.StoredValueStatusActive || account.IsExpired(in.Now) ||
		account.Currency != quote.Currency {
		return 0, nil
	}
	return max(0, min(in.StoredValue.Requested, account.Balance, quote.CustomerChargeTotal)), nil
}

func (s *settlementService) reverseUsages(ctx context.Context, redemptions []*discountcode.Redemption) {
	for _, r := range redemptions {
		if _, err := s.discountCodes.ReverseUsage(ctx, r.DiscountCodeID, r.ID); err != nil {
			s.Logger.Errorw("failed to reverse discount code usage",
				"redemption_id", r.ID,
				"discount_code_id", r.DiscountCodeID,
				"error", err,
			)
		}
	}
}

func (s *settlementService) recordNotices(notices []settlement.Notice) {
	for _, n := range notices {
		metrics.DiscountCodeRejectionsTotal.WithLabelValues(string(n.Code)).Inc()
	}
}
