package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"
	"github.com/tixello/settlement/internal/api/dto"
	"github.com/tixello/settlement/internal/domain/storedvalue"
	ierr "github.com/tixello/settlement/internal/errors"
	"github.com/tixello/settlement/internal/publisher"
	"github.com/tixello/settlement/internal/repository/memory"
	"github.com/tixello/settlement/internal/testutil"
	"github.com/tixello/settlement/internal/types"
)

type StoredValueServiceSuite struct {
	testutil.BaseServiceTestSuite
	service StoredValueService
}

func TestStoredValueService(t *testing.T) {
	suite.Run(t, new(StoredValueServiceSuite))
}

func (s *StoredValueServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.service = NewStoredValueService(s.serviceParams(s.GetStores().StoredValueRepo))
}

func (s *StoredValueServiceSuite) serviceParams(repo storedvalue.Repository) ServiceParams {
	return ServiceParams{
		Logger:             s.GetLogger(),
		Config:             s.GetConfig(),
		Cache:              s.GetCache(),
		StoredValueRepo:    repo,
		DiscountCodeRepo:   s.GetStores().DiscountCodeRepo,
		LedgerPublisher:    s.GetPublisher(),
		CommissionResolver: NewCommissionResolver(DefaultFallbackCommissionRate),
		DiscountResolver:   NewDiscountResolver(),
	}
}

func (s *StoredValueServiceSuite) issue(amount int64, activate bool) *dto.StoredValueAccountResponse {
	resp, err := s.service.Issue(s.GetContext(), &dto.IssueStoredValueRequest{
		Currency:  "ron",
		Amount:    amount,
		OwnerType: types.StoredValueOwnerMarketplace,
		OwnerID:   "mkt_1",
		Activate:  activate,
	})
	s.Require().NoError(err)
	return resp
}

func (s *StoredValueServiceSuite) TestIssue() {
	acct := s.issue(20000, false)

	s.Equal(types.StoredValueStatusPending, acct.Status)
	s.Equal("RON", acct.Currency)
	s.Equal(int64(20000), acct.Balance)
	s.Equal(acct.InitialAmount, acct.Balance)
	s.Equal("200.00", acct.BalanceDisplay)
	s.True(len(acct.Code) > 2 && acct.Code[:2] == "GC")

	txns, err := s.service.ListTransactions(s.GetContext(), acct.ID)
	s.NoError(err)
	s.Empty(txns.Transactions, "issuance is not a transaction")

	byCode, err := s.service.GetByCode(s.GetContext(), acct.Code)
	s.NoError(err)
	s.Equal(acct.ID, byCode.ID)
}

func (s *StoredValueServiceSuite) TestIssueValidation() {
	_, err := s.service.Issue(s.GetContext(), &dto.IssueStoredValueRequest{
		Currency:  "RON",
		Amount:    0,
		OwnerType: types.StoredValueOwnerShop,
		OwnerID:   "shop_1",
	})
	s.True(ierr.IsValidation(err))

	_, err = s.service.Issue(s.GetContext(), &dto.IssueStoredValueRequest{
		Currency:  "RON",
		Amount:    100,
		OwnerType: "bank",
		OwnerID:   "x",
	})
	s.True(ierr.IsValidation(err))
}

func (s *StoredValueServiceSuite) TestGiftCardLifecycle() {
	ctx := s.GetContext()
	acct := s.issue(20000, true)
	s.Equal(types.StoredValueStatusActive, acct.Status)

	resp, err := s.service.Redeem(ctx, acct.ID, &dto.StoredValueAmountRequest{Amount: 5000})
	s.Require().NoError(err)
	s.Equal(int64(15000), resp.Account.Balance)
	s.Equal(types.StoredValueStatusActive, resp.Account.Status)
	s.Equal(int64(-5000), resp.Transaction.Amount)

	resp, err = s.service.Redeem(ctx, acct.ID, &dto.StoredValueAmountRequest{Amount: 15000})
	s.Require().NoError(err)
	s.Equal(int64(0), resp.Account.Balance)
	s.Equal(types.StoredValueStatusUsed, resp.Account.Status)

	resp, err = s.service.Refund(ctx, acct.ID, &dto.StoredValueAmountRequest{Amount: 3000})
	s.Require().NoError(err)
	s.Equal(int64(3000), resp.Account.Balance)
	s.Equal(types.StoredValueStatusActive, resp.Account.Status)

	txns, err := s.service.ListTransactions(ctx, acct.ID)
	s.Require().NoError(err)
	s.Equal([]types.LedgerTransactionType{
		types.LedgerTransactionTypeActivation,
		types.LedgerTransactionTypeDebit,
		types.LedgerTransactionTypeDebit,
		types.LedgerTransactionTypeRefund,
	}, lo.Map(txns.Transactions, func(t *storedvalue.Transaction, _ int) types.LedgerTransactionType { return t.Type }))

	rec, err := s.service.Reconcile(ctx, acct.ID)
	s.Require().NoError(err)
	s.True(rec.Consistent)
	s.Equal(int64(3000), rec.ReplayedBalance)
	s.Equal(4, rec.TransactionCount)
}

func (s *StoredValueServiceSuite) TestStateMachineErrors() {
	ctx := s.GetContext()
	acct := s.issue(1000, false)

	_, err := s.service.Redeem(ctx, acct.ID, &dto.StoredValueAmountRequest{Amount: 100})
	s.True(ierr.IsInvalidState(err), "pending accounts cannot be redeemed")

	_, err = s.service.Activate(ctx, acct.ID, &dto.StoredValueActionRequest{})
	s.Require().NoError(err)
	_, err = s.service.Activate(ctx, acct.ID, &dto.StoredValueActionRequest{})
	s.True(ierr.IsInvalidState(err))

	_, err = s.service.Redeem(ctx, acct.ID, &dto.StoredValueAmountRequest{Amount: 1001})
	s.True(ierr.IsInsufficientBalance(err))

	_, err = s.service.Refund(ctx, acct.ID, &dto.StoredValueAmountRequest{Amount: 1})
	s.True(ierr.IsCapExceeded(err))

	resp, err := s.service.Revoke(ctx, acct.ID, &dto.StoredValueActionRequest{Reason: "fraud"})
	s.Require().NoError(err)
	s.Equal(types.StoredValueStatusRevoked, resp.Account.Status)
	s.Equal(int64(1000), resp.Account.Balance, "revocation freezes the balance")

	_, err = s.service.Redeem(ctx, acct.ID, &dto.StoredValueAmountRequest{Amount: 100})
	s.True(ierr.IsInvalidState(err))
	_, err = s.service.Refund(ctx, acct.ID, &dto.StoredValueAmountRequest{Amount: 100})
	s.True(ierr.IsInvalidState(err))

	_, err = s.service.Get(ctx, "sva_missing")
	s.True(ierr.IsNotFound(err))
}

func (s *StoredValueServiceSuite) TestExpire() {
	ctx := s.GetContext()
	acct, err := s.service.Issue(ctx, &dto.IssueStoredValueRequest{
		Currency:  "RON",
		Amount:    1000,
		OwnerType: types.StoredValueOwnerShop,
		OwnerID:   "shop_1",
		ExpiresAt: lo.ToPtr(time.Now().Add(50 * time.Millisecond)),
		Activate:  true,
	})
	s.Require().NoError(err)

	_, err = s.service.Expire(ctx, acct.ID, &dto.StoredValueActionRequest{})
	s.True(ierr.IsInvalidState(err), "not past expiry yet")

	time.Sleep(100 * time.Millisecond)

	_, err = s.service.Redeem(ctx, acct.ID, &dto.StoredValueAmountRequest{Amount: 100})
	s.True(ierr.IsInvalidState(err), "expired accounts cannot be redeemed")

	resp, err := s.service.Expire(ctx, acct.ID, &dto.StoredValueActionRequest{Reason: "scheduler"})
	s.Require().NoError(err)
	s.Equal(types.StoredValueStatusExpired, resp.Account.Status)
	s.Equal(types.LedgerTransactionTypeExpire, resp.Transaction.Type)
	s.Equal(int64(1000), resp.Account.Balance)
}

func (s *StoredValueServiceSuite) TestConcurrentRedeemNeverOverdraws() {
	ctx := s.GetContext()
	acct := s.issue(1000, true)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.service.Redeem(ctx, acct.ID, &dto.StoredValueAmountRequest{Amount: 700})
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	failed := lo.Filter(errs, func(err error, _ int) bool { return err != nil })
	s.Require().Len(failed, 1)
	s.True(ierr.IsInsufficientBalance(failed[0]))

	final, err := s.service.Get(ctx, acct.ID)
	s.Require().NoError(err)
	s.Equal(int64(300), final.Balance)
}

func (s *StoredValueServiceSuite) TestConcurrentRedeemsAcrossInstances() {
	ctx := s.GetContext()
	acct := s.issue(10000, true)

	// two services share a store but not their locks, like two processes
	other := NewStoredValueService(s.serviceParams(s.GetStores().StoredValueRepo))
	services := []StoredValueService{s.service, other}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(svc StoredValueService) {
			defer wg.Done()
			_, _ = svc.Redeem(ctx, acct.ID, &dto.StoredValueAmountRequest{Amount: 700})
		}(services[i%2])
	}
	wg.Wait()

	final, err := s.service.Get(ctx, acct.ID)
	s.Require().NoError(err)
	s.GreaterOrEqual(final.Balance, int64(0))

	rec, err := s.service.Reconcile(ctx, acct.ID)
	s.Require().NoError(err)
	s.Equal(final.Balance, rec.ReplayedBalance)
	s.Equal(int64(10000)-int64(rec.TransactionCount-1)*700, final.Balance)
}

func (s *StoredValueServiceSuite) TestIdempotencyKeyReturnsOriginalTransaction() {
	ctx := s.GetContext()
	acct := s.issue(1000, true)
	key := lo.ToPtr("order-42")

	first, err := s.service.Redeem(ctx, acct.ID, &dto.StoredValueAmountRequest{Amount: 400, IdempotencyKey: key})
	s.Require().NoError(err)
	second, err := s.service.Redeem(ctx, acct.ID, &dto.StoredValueAmountRequest{Amount: 400, IdempotencyKey: key})
	s.Require().NoError(err)

	s.Equal(first.Transaction.ID, second.Transaction.ID)
	s.Equal(int64(600), second.Account.Balance)

	txns, err := s.service.ListTransactions(ctx, acct.ID)
	s.Require().NoError(err)
	s.Len(txns.Transactions, 2, "activation and one debit")
}

func (s *StoredValueServiceSuite) TestVersionConflictIsRetried() {
	ctx := s.GetContext()
	repo := &conflictingRepo{StoredValueStore: s.GetStores().StoredValueRepo, conflicts: 2}
	svc := NewStoredValueService(s.serviceParams(repo))

	acct := s.issue(1000, true)
	resp, err := svc.Redeem(ctx, acct.ID, &dto.StoredValueAmountRequest{Amount: 100})
	s.Require().NoError(err)
	s.Equal(int64(900), resp.Account.Balance)
	s.Equal(0, repo.conflicts)

	repo.conflicts = 100
	_, err = svc.Redeem(ctx, acct.ID, &dto.StoredValueAmountRequest{Amount: 100})
	s.True(ierr.IsVersionConflict(err), "gives up after the configured retries")
}

func (s *StoredValueServiceSuite) TestPublishesCommittedTransactions() {
	ctx := s.GetContext()
	acct := s.issue(1000, true)
	_, err := s.service.Redeem(ctx, acct.ID, &dto.StoredValueAmountRequest{Amount: 250})
	s.Require().NoError(err)

	msgs := s.GetPubSub().GetMessages(s.GetConfig().PubSub.Topic)
	s.Require().Len(msgs, 2)

	txn, err := publisher.DecodeTransaction(msgs[1])
	s.Require().NoError(err)
	s.Equal(msgs[1].UUID, txn.ID)
	s.Equal(int64(-250), txn.Amount)
	s.Equal(int64(750), txn.BalanceAfter)
	s.Equal(acct.ID, msgs[1].Metadata.Get("account_id"))
}

func (s *StoredValueServiceSuite) TestPublishFailureDoesNotFailMutation() {
	ctx := s.GetContext()
	acct := s.issue(1000, true)

	s.GetPubSub().FailPublish = true
	resp, err := s.service.Redeem(ctx, acct.ID, &dto.StoredValueAmountRequest{Amount: 250})
	s.Require().NoError(err)
	s.Equal(int64(750), resp.Account.Balance)
}

func (s *StoredValueServiceSuite) TestAdjust() {
	ctx := s.GetContext()
	acct := s.issue(1000, true)

	resp, err := s.service.Adjust(ctx, acct.ID, &dto.AdjustStoredValueRequest{Amount: -300, Reason: "chargeback"})
	s.Require().NoError(err)
	s.Equal(int64(700), resp.Account.Balance)
	s.Equal(types.LedgerTransactionTypeDebit, resp.Transaction.Type)

	resp, err = s.service.Adjust(ctx, acct.ID, &dto.AdjustStoredValueRequest{Amount: 300, Reason: "goodwill"})
	s.Require().NoError(err)
	s.Equal(int64(1000), resp.Account.Balance)
	s.Equal(types.LedgerTransactionTypeCredit, resp.Transaction.Type)

	_, err = s.service.Adjust(ctx, acct.ID, &dto.AdjustStoredValueRequest{Amount: 1, Reason: "too much"})
	s.True(ierr.IsCapExceeded(err))

	_, err = s.service.Adjust(ctx, acct.ID, &dto.AdjustStoredValueRequest{Amount: 0, Reason: "noop"})
	s.True(ierr.IsValidation(err))
}

func (s *StoredValueServiceSuite) TestRedeemUpTo() {
	ctx := s.GetContext()
	acct := s.issue(1000, true)

	account, txn, err := s.service.RedeemUpTo(ctx, acct.ID, 5000, storedvalue.Meta{Actor: "checkout"})
	s.Require().NoError(err)
	s.Equal(int64(-1000), txn.Amount)
	s.Equal(types.StoredValueStatusUsed, account.Status)

	_, _, err = s.service.RedeemUpTo(ctx, acct.ID, 100, storedvalue.Meta{})
	s.True(ierr.IsInvalidState(err), "used accounts are not redeemable")

	_, _, err = s.service.RedeemUpTo(ctx, acct.ID, 0, storedvalue.Meta{})
	s.True(ierr.IsValidation(err))
}

// conflictingRepo loses the compare-and-set a number of times
type conflictingRepo struct {
	*memory.StoredValueStore
	conflicts int
}

func (r *conflictingRepo) ApplyMutation(ctx context.Context, a *storedvalue.Account, expected int64, txn *storedvalue.Transaction) error {
	if r.conflicts > 0 {
		r.conflicts--
		return ierr.NewError("stale version").
			WithHint("Please retry the operation").
			Mark(ierr.ErrVersionConflict)
	}
	return r.StoredValueStore.ApplyMutation(ctx, a, expected, txn)
}
