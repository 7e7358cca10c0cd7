package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tixello/settlement/internal/api/dto"
	"github.com/tixello/settlement/internal/cache"
	"github.com/tixello/settlement/internal/domain/storedvalue"
	ierr "github.com/tixello/settlement/internal/errors"
	"github.com/tixello/settlement/internal/metrics"
	"github.com/tixello/settlement/internal/types"
)

// StoredValueService is the stored-value ledger. Every mutation of one
// account is serialized and appends exactly one transaction.
type StoredValueService interface {
	Issue(ctx context.Context, req *dto.IssueStoredValueRequest) (*dto.StoredValueAccountResponse, error)
	Get(ctx context.Context, id string) (*dto.StoredValueAccountResponse, error)
	GetByCode(ctx context.Context, code string) (*dto.StoredValueAccountResponse, error)
	ListTransactions(ctx context.Context, id string) (*dto.ListStoredValueTransactionsResponse, error)

	Activate(ctx context.Context, id string, req *dto.StoredValueActionRequest) (*dto.StoredValueMutationResponse, error)
	Redeem(ctx context.Context, id string, req *dto.StoredValueAmountRequest) (*dto.StoredValueMutationResponse, error)
	Refund(ctx context.Context, id string, req *dto.StoredValueAmountRequest) (*dto.StoredValueMutationResponse, error)
	Adjust(ctx context.Context, id string, req *dto.AdjustStoredValueRequest) (*dto.StoredValueMutationResponse, error)
	Revoke(ctx context.Context, id string, req *dto.StoredValueActionRequest) (*dto.StoredValueMutationResponse, error)
	Expire(ctx context.Context, id string, req *dto.StoredValueActionRequest) (*dto.StoredValueMutationResponse, error)
	Reconcile(ctx context.Context, id string) (*dto.ReconcileStoredValueResponse, error)

	// RedeemUpTo redeems min(limit, balance) under the account lock. The
	// transaction is nil when there was nothing to redeem.
	RedeemUpTo(ctx context.Context, id string, limit int64, meta storedvalue.Meta) (*storedvalue.Account, *storedvalue.Transaction, error)
	// ResolveAccountID maps a gift card code to its account id
	ResolveAccountID(ctx context.Context, code string) (string, error)
}

const (
	ledgerOpActivate = "activate"
	ledgerOpRedeem   = "redeem"
	ledgerOpRefund   = "refund"
	ledgerOpAdjust   = "adjust"
	ledgerOpRevoke   = "revoke"
	ledgerOpExpire   = "expire"
)

// mutationFunc applies one state machine step to a freshly loaded account
type mutationFunc func(a *storedvalue.Account, now time.Time) (*storedvalue.Transaction, error)

type storedValueService struct {
	ServiceParams
	locks *accountLocks
}

func NewStoredValueService(params ServiceParams) StoredValueService {
	return &storedValueService{
		ServiceParams: params,
		locks:         newAccountLocks(),
	}
}

func (s *storedValueService) Issue(ctx context.Context, req *dto.IssueStoredValueRequest) (*dto.StoredValueAccountResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	account := req.ToAccount(ctx, types.GenerateShortIDWithPrefix(s.Config.Ledger.CodePrefix))
	if err := account.Validate(); err != nil {
		return nil, err
	}

	if err := s.StoredValueRepo.Create(ctx, account); err != nil {
		return nil, err
	}

	s.Logger.Infow("issued stored value account",
		"account_id", account.ID,
		"owner_type", account.OwnerType,
		"owner_id", account.OwnerID,
		"amount", account.InitialAmount,
		"currency", account.Currency,
	)

	if req.Activate {
		resp, err := s.Activate(ctx, account.ID, &dto.StoredValueActionRequest{Reason: "activated at issue"})
		if err != nil {
			return nil, err
		}
		return resp.Account, nil
	}

	return dto.FromStoredValueAccount(account), nil
}

func (s *storedValueService) Get(ctx context.Context, id string) (*dto.StoredValueAccountResponse, error) {
	account, err := s.StoredValueRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return dto.FromStoredValueAccount(account), nil
}

func (s *storedValueService) GetByCode(ctx context.Context, code string) (*dto.StoredValueAccountResponse, error) {
	id, err := s.ResolveAccountID(ctx, code)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// ResolveAccountID caches code to id lookups; both are immutable once issued
func (s *storedValueService) ResolveAccountID(ctx context.Context, code string) (string, error) {
	key := cache.GenerateKey(cache.PrefixStoredValueCode, types.GetTenantID(ctx), code)
	if cached, found := s.Cache.Get(ctx, key); found {
		if id, ok := cached.(string); ok {
			return id, nil
		}
	}

	account, err := s.StoredValueRepo.GetByCode(ctx, code)
	if err != nil {
		return "", err
	}
	s.Cache.Set(ctx, key, account.ID, 0)
	return account.ID, nil
}

func (s *storedValueService) ListTransactions(ctx context.Context, id string) (*dto.ListStoredValueTransactionsResponse, error) {
	if _, err := s.StoredValueRepo.Get(ctx, id); err != nil {
		return nil, err
	}

	txns, err := s.StoredValueRepo.ListTransactions(ctx, id)
	if err != nil {
		return nil, err
	}
	return &dto.ListStoredValueTransactionsResponse{
		AccountID:    id,
		Transactions: txns,
	}, nil
}

func (s *storedValueService) Activate(ctx context.Context, id string, req *dto.StoredValueActionRequest) (*dto.StoredValueMutationResponse, error) {
	meta := req.ToMeta(ctx)
	return s.respond(s.mutate(ctx, id, ledgerOpActivate, meta, func(a *storedvalue.Account, now time.Time) (*storedvalue.Transaction, error) {
		return a.Activate(now, meta)
	}))
}

func (s *storedValueService) Redeem(ctx context.Context, id string, req *dto.StoredValueAmountRequest) (*dto.StoredValueMutationResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	meta := req.ToMeta(ctx)
	return s.respond(s.mutate(ctx, id, ledgerOpRedeem, meta, func(a *storedvalue.Account, now time.Time) (*storedvalue.Transaction, error) {
		return a.Redeem(req.Amount, now, meta)
	}))
}

func (s *storedValueService) RedeemUpTo(ctx context.Context, id string, limit int64, meta storedvalue.Meta) (*storedvalue.Account, *storedvalue.Transaction, error) {
	if limit <= 0 {
		return nil, nil, ierr.NewError("redemption limit must be positive").
			WithHint("Redemption amount must be greater than zero").
			WithReportableDetails(map[string]any{
				"limit": limit,
			}).
			Mark(ierr.ErrValidation)
	}
	return s.mutate(ctx, id, ledgerOpRedeem, meta, func(a *storedvalue.Account, now time.Time) (*storedvalue.Transaction, error) {
		return a.RedeemUpTo(limit, now, meta)
	})
}

func (s *storedValueService) Refund(ctx context.Context, id string, req *dto.StoredValueAmountRequest) (*dto.StoredValueMutationResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	meta := req.ToMeta(ctx)
	return s.respond(s.mutate(ctx, id, ledgerOpRefund, meta, func(a *storedvalue.Account, now time.Time) (*storedvalue.Transaction, error) {
		return a.Refund(req.Amount, now, meta)
	}))
}

func (s *storedValueService) Adjust(ctx context.Context, id string, req *dto.AdjustStoredValueRequest) (*dto.StoredValueMutationResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	meta := req.ToMeta(ctx)
	return s.respond(s.mutate(ctx, id, ledgerOpAdjust, meta, func(a *storedvalue.Account, now time.Time) (*storedvalue.Transaction, error) {
		return a.Adjust(req.Amount, now, meta)
	}))
}

func (s *storedValueService) Revoke(ctx context.Context, id string, req *dto.StoredValueActionRequest) (*dto.StoredValueMutationResponse, error) {
	meta := req.ToMeta(ctx)
	return s.respond(s.mutate(ctx, id, ledgerOpRevoke, meta, func(a *storedvalue.Account, now time.Time) (*storedvalue.Transaction, error) {
		return a.Revoke(now, meta)
	}))
}

// Expire is called by the expiry scheduler for accounts past expires_at
func (s *storedValueService) Expire(ctx context.Context, id string, req *dto.StoredValueActionRequest) (*dto.StoredValueMutationResponse, error) {
	meta := req.ToMeta(ctx)
	return s.respond(s.mutate(ctx, id, ledgerOpExpire, meta, func(a *storedvalue.Account, now time.Time) (*storedvalue.Transaction, error) {
		if !a.IsExpired(now) {
			return nil, ierr.NewError("account has not reached its expiry").
				WithHint("Gift card is not expired yet").
				WithReportableDetails(map[string]any{
					"account_id": a.ID,
					"status":     a.Status,
					"expires_at": a.ExpiresAt,
				}).
				Mark(ierr.ErrInvalidState)
		}
		return a.Expire(now, meta)
	}))
}

func (s *storedValueService) Reconcile(ctx context.Context, id string) (*dto.ReconcileStoredValueResponse, error) {
	account, err := s.StoredValueRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	txns, err := s.StoredValueRepo.ListTransactions(ctx, id)
	if err != nil {
		return nil, err
	}

	replayed, err := storedvalue.Replay(account.InitialAmount, txns)
	if err == nil && replayed != account.Balance {
		err = ierr.NewError("replayed balance differs from stored balance").
			WithHint("Stored-value transaction history does not reconcile").
			WithReportableDetails(map[string]any{
				"account_id": id,
				"stored":     account.Balance,
				"replayed":   replayed,
			}).
			Mark(ierr.ErrRoundingInvariant)
	}
	if err != nil {
		s.Logger.Errorw("stored value account does not reconcile",
			"account_id", id,
			"error", err,
		)
		return nil, err
	}

	return &dto.ReconcileStoredValueResponse{
		AccountID:        id,
		InitialAmount:    account.InitialAmount,
		StoredBalance:    account.Balance,
		ReplayedBalance:  replayed,
		TransactionCount: len(txns),
		Consistent:       true,
	}, nil
}

// mutate runs apply under the account lock and commits with a version
// compare-and-set. A lost race reloads and retries with backoff; state
// machine errors are returned as is. A reused idempotency key returns the
// transaction it first produced.
func (s *storedValueService) mutate(
	ctx context.Context,
	id string,
	op string,
	meta storedvalue.Meta,
	apply mutationFunc,
) (account *storedvalue.Account, txn *storedvalue.Transaction, err error) {
	start := time.Now()
	defer func() {
		metrics.LedgerMutationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		metrics.LedgerMutationsTotal.WithLabelValues(op, metrics.Outcome(err)).Inc()
	}()

	unlock := s.locks.Lock(id)
	defer unlock()

	if meta.IdempotencyKey != nil {
		if a, t, found, err := s.replayIdempotent(ctx, id, *meta.IdempotencyKey); err != nil || found {
			return a, t, err
		}
	}

	operation := func() error {
		a, err := s.StoredValueRepo.Get(ctx, id)
		if err != nil {
			return backoff.Permanent(err)
		}
		expected := a.Version

		now := time.Now().UTC()
		t, err := apply(a, now)
		if err != nil {
			return backoff.Permanent(err)
		}
		if t == nil {
			account = a
			return nil
		}
		a.UpdatedAt = now
		a.UpdatedBy = types.GetUserID(ctx)

		if err := s.StoredValueRepo.ApplyMutation(ctx, a, expected, t); err != nil {
			if ierr.IsVersionConflict(err) {
				metrics.LedgerVersionConflictsTotal.WithLabelValues(op).Inc()
				s.Logger.Debugw("stored value version conflict, retrying",
					"account_id", id,
					"operation", op,
					"expected_version", expected,
				)
				return err
			}
			return backoff.Permanent(err)
		}

		account, txn = a, t
		return nil
	}

	if err := backoff.Retry(operation, s.newBackOff(ctx)); err != nil {
		// another instance committed the same key between our check and write
		if ierr.IsAlreadyExists(err) && meta.IdempotencyKey != nil {
			if a, t, found, lookupErr := s.replayIdempotent(ctx, id, *meta.IdempotencyKey); lookupErr == nil && found {
				return a, t, nil
			}
		}
		return nil, nil, err
	}

	if txn != nil {
		s.Logger.Infow("stored value mutation committed",
			"account_id", id,
			"operation", op,
			"transaction_id", txn.ID,
			"amount", txn.Amount,
			"balance_after", txn.BalanceAfter,
			"status", account.Status,
		)
		if err := s.LedgerPublisher.Publish(ctx, txn); err != nil {
			s.Logger.Errorw("failed to publish ledger transaction",
				"transaction_id", txn.ID,
				"account_id", id,
				"error", err,
			)
		}
	}
	return account, txn, nil
}

func (s *storedValueService) replayIdempotent(ctx context.Context, id, key string) (*storedvalue.Account, *storedvalue.Transaction, bool, error) {
	txn, err := s.StoredValueRepo.GetTransactionByIdempotencyKey(ctx, id, key)
	if err != nil {
		if ierr.IsNotFound(err) {
			return nil, nil, false, nil
		}
		return nil, nil, false, err
	}

	account, err := s.StoredValueRepo.Get(ctx, id)
	if err != nil {
		return nil, nil, false, err
	}
	s.Logger.Infow("idempotency key already applied, returning original transaction",
		"account_id", id,
		"transaction_id", txn.ID,
		"idempotency_key", key,
	)
	return account, txn, true, nil
}

func (s *storedValueService) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.Config.Ledger.InitialBackoff
	b.MaxInterval = s.Config.Ledger.MaxBackoff
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.Config.Ledger.MaxRetries)), ctx)
}

func (s *storedValueService) respond(account *storedvalue.Account, txn *storedvalue.Transaction, err error) (*dto.StoredValueMutationResponse, error) {
	if err != nil {
		return nil, err
	}
	return &dto.StoredValueMutationResponse{
		Account:     dto.FromStoredValueAccount(account),
		Transaction: txn,
	}, nil
}
