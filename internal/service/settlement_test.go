package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"github.com/tixello/settlement/internal/api/dto"
	"github.com/tixello/settlement/internal/domain/discountcode"
	"github.com/tixello/settlement/internal/domain/pricing"
	"github.com/tixello/settlement/internal/domain/settlement"
	"github.com/tixello/settlement/internal/domain/tickettype"
	ierr "github.com/tixello/settlement/internal/errors"
	"github.com/tixello/settlement/internal/repository/memory"
	"github.com/tixello/settlement/internal/testutil"
	"github.com/tixello/settlement/internal/types"
)

type SettlementServiceSuite struct {
	testutil.BaseServiceTestSuite
	discountCodes DiscountCodeService
	storedValue   StoredValueService
	service       SettlementService
}

func TestSettlementService(t *testing.T) {
	suite.Run(t, new(SettlementServiceSuite))
}

func (s *SettlementServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.wire(s.GetStores().DiscountCodeRepo)
}

func (s *SettlementServiceSuite) wire(codes discountcode.Repository) {
	params := ServiceParams{
		Logger:             s.GetLogger(),
		Config:             s.GetConfig(),
		Cache:              s.GetCache(),
		StoredValueRepo:    s.GetStores().StoredValueRepo,
		DiscountCodeRepo:   codes,
		LedgerPublisher:    s.GetPublisher(),
		CommissionResolver: NewCommissionResolver(DefaultFallbackCommissionRate),
		DiscountResolver:   NewDiscountResolver(),
	}
	s.discountCodes = NewDiscountCodeService(params)
	s.storedValue = NewStoredValueService(params)
	s.service = NewSettlementService(params, s.discountCodes, s.storedValue)
}

// order builds a RON order on a marketplace charging 10% included.
// evt_top overrides the mode to added_on_top.
func (s *SettlementServiceSuite) order(lines ...*tickettype.Line) dto.SettlementRequest {
	return dto.SettlementRequest{
		Marketplace: &pricing.Marketplace{
			ID:             "mkt_1",
			Currency:       "RON",
			CommissionRate: lo.ToPtr(decimal.NewFromInt(10)),
			CommissionMode: lo.ToPtr(types.CommissionModeIncluded),
		},
		Organizers: []*pricing.Organizer{{ID: "org_1"}},
		Events: []*pricing.Event{
			{ID: "evt_inc", OrganizerID: "org_1"},
			{ID: "evt_top", OrganizerID: "org_1", CommissionMode: lo.ToPtr(types.CommissionModeAddedOnTop)},
		},
		Lines:      lines,
		CustomerID: "cus_1",
	}
}

func (s *SettlementServiceSuite) createCode(code string, mutate ...func(r *dto.CreateDiscountCodeRequest)) *discountcode.DiscountCode {
	req := &dto.CreateDiscountCodeRequest{
		Code:   code,
		Source: types.DiscountCodeSourceCoupon,
		Type:   types.DiscountCodeTypePercentage,
		Value:  decimal.NewFromInt(10),
	}
	for _, m := range mutate {
		m(req)
	}
	c, err := s.discountCodes.Create(s.GetContext(), req)
	s.Require().NoError(err)
	return c
}

func (s *SettlementServiceSuite) giftCard(amount int64, currency string) *dto.StoredValueAccountResponse {
	acct, err := s.storedValue.Issue(s.GetContext(), &dto.IssueStoredValueRequest{
		Currency:  currency,
		Amount:    amount,
		OwnerType: types.StoredValueOwnerMarketplace,
		OwnerID:   "mkt_1",
		Activate:  true,
	})
	s.Require().NoError(err)
	return acct
}

func (s *SettlementServiceSuite) TestQuoteIncluded() {
	req := s.order(ticketLine("tt_1", "evt_inc", 10000, 2))

	resp, err := s.service.Quote(s.GetContext(), &req)
	s.Require().NoError(err)

	s.Equal("RON", resp.Currency)
	s.Equal(int64(20000), resp.Subtotal)
	s.Equal(int64(2000), resp.CommissionTotal)
	s.Equal(int64(18000), resp.OrganizerRevenueTotal)
	s.Equal(int64(20000), resp.CustomerChargeTotal)
	s.Equal("200.00", resp.CustomerChargeTotalDisplay)
}

func (s *SettlementServiceSuite) TestQuoteAddedOnTop() {
	req := s.order(ticketLine("tt_1", "evt_top", 10000, 2))

	resp, err := s.service.Quote(s.GetContext(), &req)
	s.Require().NoError(err)

	s.Equal(int64(2000), resp.CommissionTotal)
	s.Equal(int64(20000), resp.OrganizerRevenueTotal)
	s.Equal(int64(22000), resp.CustomerChargeTotal)
}

func (s *SettlementServiceSuite) TestQuoteMixedModesWithCode() {
	s.createCode("spring10")
	req := s.order(
		ticketLine("tt_1", "evt_inc", 5000, 2),
		ticketLine("tt_2", "evt_top", 3000, 1),
	)
	req.DiscountCodes = []string{" Spring10 "}

	resp, err := s.service.Quote(s.GetContext(), &req)
	s.Require().NoError(err)

	s.Equal(int64(13000), resp.Subtotal)
	s.Equal(int64(1300), resp.DiscountTotal)
	s.Require().Len(resp.Lines, 2)

	inc, top := resp.Lines[0], resp.Lines[1]
	s.Equal(int64(1000), inc.Discount)
	s.Equal(int64(900), inc.Commission)
	s.Equal(int64(8100), inc.OrganizerRevenue)
	s.Equal(int64(9000), inc.CustomerCharge)

	s.Equal(int64(300), top.Discount)
	s.Equal(int64(270), top.Commission)
	s.Equal(int64(2700), top.OrganizerRevenue)
	s.Equal(int64(2970), top.CustomerCharge)

	// subtotal - discount + commission carried by the customer
	s.Equal(resp.Subtotal-resp.DiscountTotal+top.Commission, resp.CustomerChargeTotal)
	s.Equal(int64(1170), resp.CommissionTotal)
	s.Empty(resp.Notices)
}

func (s *SettlementServiceSuite) TestQuoteDropsInapplicableCode() {
	s.createCode("BIGSPENDER", func(r *dto.CreateDiscountCodeRequest) {
		r.MinPurchaseAmount = 50000
	})
	req := s.order(ticketLine("tt_1", "evt_inc", 10000, 2))
	req.DiscountCodes = []string{"BIGSPENDER"}

	resp, err := s.service.Quote(s.GetContext(), &req)
	s.Require().NoError(err)

	s.Zero(resp.DiscountTotal)
	s.Equal(int64(20000), resp.CustomerChargeTotal)
	s.Require().Len(resp.Notices, 1)
	s.Equal(types.DiscountRejectionMinPurchase, resp.Notices[0].Code)
	s.Equal("BIGSPENDER", resp.Notices[0].DiscountCode)
	s.NotEmpty(resp.Notices[0].Message)
}

func (s *SettlementServiceSuite) TestQuoteUnknownCode() {
	req := s.order(ticketLine("tt_1", "evt_inc", 10000, 2))
	req.DiscountCodes = []string{"NOPE"}

	resp, err := s.service.Quote(s.GetContext(), &req)
	s.Require().NoError(err)

	s.Zero(resp.DiscountTotal)
	s.Equal([]settlement.Notice{{
		Code:         types.DiscountRejectionCodeNotFound,
		Message:      "This discount code does not exist",
		DiscountCode: "NOPE",
	}}, resp.Notices)
}

func (s *SettlementServiceSuite) TestQuoteNonCombinableFirstCodeWins() {
	s.createCode("FIRST")
	s.createCode("SECOND")
	req := s.order(ticketLine("tt_1", "evt_inc", 10000, 1))
	req.DiscountCodes = []string{"FIRST", "SECOND"}

	resp, err := s.service.Quote(s.GetContext(), &req)
	s.Require().NoError(err)

	s.Equal(int64(1000), resp.DiscountTotal)
	s.Require().Len(resp.Discounts, 1)
	s.Equal("FIRST", resp.Discounts[0].Code)
	s.Require().Len(resp.Notices, 1)
	s.Equal(types.DiscountRejectionNotCombinable, resp.Notices[0].Code)
	s.Equal("SECOND", resp.Notices[0].DiscountCode)
}

func (s *SettlementServiceSuite) TestQuotePreviewsStoredValueWithoutCharging() {
	card := s.giftCard(5000, "RON")
	req := s.order(ticketLine("tt_1", "evt_inc", 10000, 2))
	req.StoredValue = &dto.StoredValueRedemption{Code: card.Code, Amount: 8000}

	resp, err := s.service.Quote(s.GetContext(), &req)
	s.Require().NoError(err)

	s.Equal(int64(5000), resp.StoredValueApplied)
	s.Equal(int64(15000), resp.CustomerChargeTotal)
	s.Empty(resp.StoredValueTransactionID)

	after, err := s.storedValue.Get(s.GetContext(), card.ID)
	s.Require().NoError(err)
	s.Equal(int64(5000), after.Balance)
}

func (s *SettlementServiceSuite) TestQuoteRejectsMixedCurrencies() {
	eur := ticketLine("tt_2", "evt_inc", 1000, 1)
	eur.Currency = "EUR"
	req := s.order(ticketLine("tt_1", "evt_inc", 1000, 1), eur)

	_, err := s.service.Quote(s.GetContext(), &req)
	s.True(ierr.IsValidation(err))
}

func (s *SettlementServiceSuite) TestQuoteRejectsUnknownEvent() {
	req := s.order(ticketLine("tt_1", "evt_missing", 1000, 1))

	_, err := s.service.Quote(s.GetContext(), &req)
	s.True(ierr.IsValidation(err))
}

func (s *SettlementServiceSuite) TestSettleRecordsUsageAndChargesGiftCard() {
	ctx := s.GetContext()
	code := s.createCode("SPRING10")
	card := s.giftCard(5000, "RON")

	req := &dto.SettleRequest{
		SettlementRequest: s.order(ticketLine("tt_1", "evt_inc", 10000, 2)),
		OrderRef:          "ord_1",
	}
	req.DiscountCodes = []string{"spring10"}
	req.StoredValue = &dto.StoredValueRedemption{AccountID: card.ID, Amount: 10000}

	resp, err := s.service.Settle(ctx, req)
	s.Require().NoError(err)

	s.Equal(int64(2000), resp.DiscountTotal)
	s.Equal(int64(5000), resp.StoredValueApplied)
	s.Equal(int64(13000), resp.CustomerChargeTotal)
	s.NotEmpty(resp.StoredValueTransactionID)
	s.Len(resp.CodeRedemptionIDs, 1)

	stored, err := s.discountCodes.Get(ctx, code.ID)
	s.Require().NoError(err)
	s.Equal(int64(1), stored.UsageCount)

	after, err := s.storedValue.Get(ctx, card.ID)
	s.Require().NoError(err)
	s.Zero(after.Balance)
	s.Equal(types.StoredValueStatusUsed, after.Status)

	txns, err := s.storedValue.ListTransactions(ctx, card.ID)
	s.Require().NoError(err)
	debit := txns.Transactions[len(txns.Transactions)-1]
	s.Equal(resp.StoredValueTransactionID, debit.ID)
	s.Equal(lo.ToPtr("ord_1"), debit.ReferenceID)
}

func (s *SettlementServiceSuite) TestSettleRetryChargesOnce() {
	ctx := s.GetContext()
	card := s.giftCard(5000, "RON")

	req := &dto.SettleRequest{
		SettlementRequest: s.order(ticketLine("tt_1", "evt_inc", 1000, 2)),
		OrderRef:          "ord_retry",
	}
	req.StoredValue = &dto.StoredValueRedemption{AccountID: card.ID, Amount: 2000}

	first, err := s.service.Settle(ctx, req)
	s.Require().NoError(err)
	second, err := s.service.Settle(ctx, req)
	s.Require().NoError(err)

	s.Equal(first.StoredValueTransactionID, second.StoredValueTransactionID)

	after, err := s.storedValue.Get(ctx, card.ID)
	s.Require().NoError(err)
	s.Equal(int64(3000), after.Balance)
}

func (s *SettlementServiceSuite) TestSettleRetryRecordsCodeUsageOnce() {
	ctx := s.GetContext()
	code := s.createCode("SPRING10")

	req := &dto.SettleRequest{
		SettlementRequest: s.order(ticketLine("tt_1", "evt_inc", 10000, 2)),
		OrderRef:          "ord_retry_code",
	}
	req.DiscountCodes = []string{"SPRING10"}

	first, err := s.service.Settle(ctx, req)
	s.Require().NoError(err)
	second, err := s.service.Settle(ctx, req)
	s.Require().NoError(err)

	s.Equal(first.CodeRedemptionIDs, second.CodeRedemptionIDs)
	s.Equal(first.DiscountTotal, second.DiscountTotal)
	s.Equal(first.CustomerChargeTotal, second.CustomerChargeTotal)

	stored, err := s.discountCodes.Get(ctx, code.ID)
	s.Require().NoError(err)
	s.Equal(int64(1), stored.UsageCount)
}

func (s *SettlementServiceSuite) TestSettleRetryKeepsCustomerLimitedCode() {
	ctx := s.GetContext()
	code := s.createCode("ONCEPC", func(r *dto.CreateDiscountCodeRequest) {
		r.UsageLimitPerCustomer = lo.ToPtr(int64(1))
		r.UsageLimitTotal = lo.ToPtr(int64(1))
	})
	card := s.giftCard(1800, "RON")

	req := &dto.SettleRequest{
		SettlementRequest: s.order(ticketLine("tt_1", "evt_inc", 1000, 2)),
		OrderRef:          "ord_retry_limit",
	}
	req.DiscountCodes = []string{"ONCEPC"}
	req.StoredValue = &dto.StoredValueRedemption{AccountID: card.ID, Amount: 2000}

	first, err := s.service.Settle(ctx, req)
	s.Require().NoError(err)
	s.Equal(int64(200), first.DiscountTotal)
	s.Equal(int64(1800), first.StoredValueApplied)
	s.Zero(first.CustomerChargeTotal)

	stored, err := s.discountCodes.Get(ctx, code.ID)
	s.Require().NoError(err)
	s.Equal(types.DiscountCodeStatusExhausted, stored.Status)

	second, err := s.service.Settle(ctx, req)
	s.Require().NoError(err)
	s.Equal(first.DiscountTotal, second.DiscountTotal)
	s.Equal(first.StoredValueApplied, second.StoredValueApplied)
	s.Equal(first.StoredValueTransactionID, second.StoredValueTransactionID)
	s.Zero(second.CustomerChargeTotal)
	s.Empty(second.Notices)

	stored, err = s.discountCodes.Get(ctx, code.ID)
	s.Require().NoError(err)
	s.Equal(int64(1), stored.UsageCount)
}

func (s *SettlementServiceSuite) TestSettleConcurrentOrdersHonorCustomerLimit() {
	ctx := s.GetContext()
	code := s.createCode("ONCEPC", func(r *dto.CreateDiscountCodeRequest) {
		r.UsageLimitPerCustomer = lo.ToPtr(int64(1))
	})

	const orders = 8
	results := make([]*dto.SettlementResponse, orders)
	errs := make([]error, orders)
	var wg sync.WaitGroup
	for i := 0; i < orders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := &dto.SettleRequest{
				SettlementRequest: s.order(ticketLine("tt_1", "evt_inc", 1000, 2)),
				OrderRef:          fmt.Sprintf("ord_pc_%d", i),
			}
			req.DiscountCodes = []string{"ONCEPC"}
			results[i], errs[i] = s.service.Settle(ctx, req)
		}(i)
	}
	wg.Wait()

	discounted := 0
	for i, resp := range results {
		s.Require().NoError(errs[i])
		if resp.DiscountTotal > 0 {
			discounted++
			s.Equal(int64(200), resp.DiscountTotal)
			continue
		}
		s.Require().Len(resp.Notices, 1)
		s.Equal(types.DiscountRejectionCustomerLimit, resp.Notices[0].Code)
	}
	s.Equal(1, discounted)

	stored, err := s.discountCodes.Get(ctx, code.ID)
	s.Require().NoError(err)
	s.Equal(int64(1), stored.UsageCount)
}

func (s *SettlementServiceSuite) TestSettleLedgerFailureReversesCodeUsage() {
	ctx := s.GetContext()
	code := s.createCode("SPRING10")
	card := s.giftCard(5000, "EUR")

	req := &dto.SettleRequest{
		SettlementRequest: s.order(ticketLine("tt_1", "evt_inc", 10000, 2)),
		OrderRef:          "ord_2",
	}
	req.DiscountCodes = []string{"SPRING10"}
	req.StoredValue = &dto.StoredValueRedemption{AccountID: card.ID, Amount: 1000}

	_, err := s.service.Settle(ctx, req)
	s.True(ierr.IsValidation(err), "gift card currency differs from the order")

	stored, err := s.discountCodes.Get(ctx, code.ID)
	s.Require().NoError(err)
	s.Zero(stored.UsageCount)

	after, err := s.storedValue.Get(ctx, card.ID)
	s.Require().NoError(err)
	s.Equal(int64(5000), after.Balance)
}

func (s *SettlementServiceSuite) TestSettleRequoteWhenCodeRunsOut() {
	ctx := s.GetContext()
	s.wire(&exhaustingCodeRepo{DiscountCodeStore: s.GetStores().DiscountCodeRepo})
	s.createCode("LASTONE")

	req := &dto.SettleRequest{
		SettlementRequest: s.order(ticketLine("tt_1", "evt_inc", 10000, 1)),
		OrderRef:          "ord_3",
	}
	req.DiscountCodes = []string{"LASTONE"}

	resp, err := s.service.Settle(ctx, req)
	s.Require().NoError(err)

	s.Zero(resp.DiscountTotal)
	s.Equal(int64(10000), resp.CustomerChargeTotal)
	s.Empty(resp.CodeRedemptionIDs)
	s.Require().Len(resp.Notices, 1)
	s.Equal(types.DiscountRejectionUsageLimitReached, resp.Notices[0].Code)
	s.Equal("LASTONE", resp.Notices[0].DiscountCode)
}

func (s *SettlementServiceSuite) TestSettleValidation() {
	req := &dto.SettleRequest{SettlementRequest: s.order(ticketLine("tt_1", "evt_inc", 1000, 1))}
	_, err := s.service.Settle(s.GetContext(), req)
	s.True(ierr.IsValidation(err), "order_ref is required")

	req.OrderRef = "ord_4"
	req.CustomerID = ""
	req.DiscountCodes = []string{"SPRING10"}
	_, err = s.service.Settle(s.GetContext(), req)
	s.True(ierr.IsValidation(err), "codes need a customer")
}

// exhaustingCodeRepo loses every usage race
type exhaustingCodeRepo struct {
	*memory.DiscountCodeStore
}

func (r *exhaustingCodeRepo) RecordUsage(ctx context.Context, red *discountcode.Redemption) (*discountcode.Redemption, error) {
	return nil, ierr.NewError("usage limit reached").
		WithHint("This discount code has been fully used").
		Mark(ierr.ErrExpiredOrExhausted)
}

func TestAllocateDiscount(t *testing.T) {
	tests := []struct {
		name      string
		subtotals []int64
		total     int64
		want      []int64
	}{
		{"nothing to allocate", []int64{1000, 2000}, 0, []int64{0, 0}},
		{"exact pro rata", []int64{1000, 3000}, 400, []int64{100, 300}},
		{"residual to last line", []int64{100, 100, 100}, 100, []int64{33, 33, 34}},
		{"residual spills backwards", []int64{5, 5, 1}, 10, []int64{4, 5, 1}},
		{"full discount", []int64{700, 300}, 1000, []int64{700, 300}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines := lo.Map(tt.subtotals, func(sub int64, i int) *tickettype.Line {
				return ticketLine("tt", "evt", sub, 1)
			})
			got := allocateDiscount(lines, tt.total)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.total, lo.Sum(got))
		})
	}
}
