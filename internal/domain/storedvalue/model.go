package storedvalue

import (
	"time"

	"github.com/samber/lo"
	ierr "github.com/tixello/settlement/internal/errors"
	"github.com/tixello/settlement/internal/types"
)

// Account is a stored-value account (gift card). Amounts are in minor units
// and 0 <= Balance <= InitialAmount always holds.
type Account struct {
	ID            string                     `db:"id" json:"id"`
	Code          string                     `db:"code" json:"code"`
	Currency      string                     `db:"currency" json:"currency"`
	OwnerType     types.StoredValueOwnerType `db:"owner_type" json:"owner_type"`
	OwnerID       string                     `db:"owner_id" json:"owner_id"`
	InitialAmount int64                      `db:"initial_amount" json:"initial_amount"`
	Balance       int64                      `db:"balance" json:"balance"`
	Status        types.StoredValueStatus    `db:"status" json:"status"`
	ExpiresAt     *time.Time                 `db:"expires_at" json:"expires_at,omitempty"`
	// Version is bumped by every committed mutation and guards the
	// compare-and-set in the repository
	Version int64 `db:"version" json:"version"`
	types.BaseModel
}

// Transaction is an immutable ledger record. Amount is signed: debits are
// negative, credits and refunds positive, markers zero.
type Transaction struct {
	ID             string                      `db:"id" json:"id"`
	TenantID       string                      `db:"tenant_id" json:"tenant_id"`
	AccountID      string                      `db:"account_id" json:"account_id"`
	Type           types.LedgerTransactionType `db:"type" json:"type"`
	Amount         int64                       `db:"amount" json:"amount"`
	BalanceAfter   int64                       `db:"balance_after" json:"balance_after"`
	Description    string                      `db:"description" json:"description"`
	Actor          string                      `db:"actor" json:"actor"`
	ReferenceID    *string                     `db:"reference_id" json:"reference_id,omitempty"`
	IdempotencyKey *string                     `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time                   `db:"created_at" json:"created_at"`
}

// Meta describes who performs a mutation and why
type Meta struct {
	Actor          string
	Description    string
	ReferenceID    *string
	IdempotencyKey *string
}

// Validate checks the balance invariant of a freshly issued account
func (a *Account) Validate() error {
	if a.InitialAmount <= 0 {
		return ierr.NewError("initial amount must be positive").
			WithHint("Stored-value accounts must be issued with a positive amount").
			WithReportableDetails(map[string]any{
				"initial_amount": a.InitialAmount,
			}).
			Mark(ierr.ErrValidation)
	}
	if a.Balance < 0 || a.Balance > a.InitialAmount {
		return ierr.NewError("balance out of range").
			WithHint("Balance must stay between zero and the initial amount").
			WithReportableDetails(map[string]any{
				"balance":        a.Balance,
				"initial_amount": a.InitialAmount,
			}).
			Mark(ierr.ErrValidation)
	}
	if a.Currency == "" {
		return ierr.NewError("currency is required").
			WithHint("Currency is required").
			Mark(ierr.ErrValidation)
	}
	return a.OwnerType.Validate()
}

// IsExpired is true when the account is active and past its expiry
func (a *Account) IsExpired(now time.Time) bool {
	return a.Status == types.StoredValueStatusActive &&
		a.ExpiresAt != nil &&
		now.After(*a.ExpiresAt)
}

// Activate moves a pending account to active
func (a *Account) Activate(now time.Time, meta Meta) (*Transaction, error) {
	if err := a.requireStatus("activate", types.StoredValueStatusPending); err != nil {
		return nil, err
	}
	a.Status = types.StoredValueStatusActive
	return a.newTransaction(types.LedgerTransactionTypeActivation, 0, now, meta), nil
}

// Redeem debits amount. Reaching a zero balance marks the account used.
func (a *Account) Redeem(amount int64, now time.Time, meta Meta) (*Transaction, error) {
	if err := a.requireRedeemable(now); err != nil {
		return nil, err
	}
	if err := a.debit(amount); err != nil {
		return nil, err
	}
	return a.newTransaction(types.LedgerTransactionTypeDebit, -amount, now, meta), nil
}

// RedeemUpTo redeems min(limit, balance). It returns a nil transaction when
// there is nothing to redeem.
func (a *Account) RedeemUpTo(limit int64, now time.Time, meta Meta) (*Transaction, error) {
	if err := a.requireRedeemable(now); err != nil {
		return nil, err
	}
	amount := min(limit, a.Balance)
	if amount <= 0 {
		return nil, nil
	}
	return a.Redeem(amount, now, meta)
}

// Refund credits amount back. A refund never pushes the balance past the
// initial amount; such a refund fails instead of being clamped.
func (a *Account) Refund(amount int64, now time.Time, meta Meta) (*Transaction, error) {
	if err := a.requireStatus("refund", types.StoredValueStatusActive, types.StoredValueStatusUsed); err != nil {
		return nil, err
	}
	if err := a.credit(amount); err != nil {
		return nil, err
	}
	return a.newTransaction(types.LedgerTransactionTypeRefund, amount, now, meta), nil
}

// Adjust applies an administrative correction. Positive amounts follow the
// refund rules, negative amounts the redeem rules.
func (a *Account) Adjust(amount int64, now time.Time, meta Meta) (*Transaction, error) {
	switch {
	case amount > 0:
		if err := a.requireStatus("adjust", types.StoredValueStatusActive, types.StoredValueStatusUsed); err != nil {
			return nil, err
		}
		if err := a.credit(amount); err != nil {
			return nil, err
		}
		return a.newTransaction(types.LedgerTransactionTypeCredit, amount, now, meta), nil
	case amount < 0:
		if err := a.requireRedeemable(now); err != nil {
			return nil, err
		}
		if err := a.debit(-amount); err != nil {
			return nil, err
		}
		return a.newTransaction(types.LedgerTransactionTypeDebit, amount, now, meta), nil
	default:
		return nil, ierr.NewError("adjustment amount must not be zero").
			WithHint("Adjustment amount must not be zero").
			Mark(ierr.ErrValidation)
	}
}

// Revoke freezes an active account. The balance is left untouched.
func (a *Account) Revoke(now time.Time, meta Meta) (*Transaction, error) {
	if err := a.requireStatus("revoke", types.StoredValueStatusActive); err != nil {
		return nil, err
	}
	a.Status = types.StoredValueStatusRevoked
	return a.newTransaction(types.LedgerTransactionTypeRevoke, 0, now, meta), nil
}

// Expire is called by the expiry scheduler once IsExpired holds
func (a *Account) Expire(now time.Time, meta Meta) (*Transaction, error) {
	if err := a.requireStatus("expire", types.StoredValueStatusActive); err != nil {
		return nil, err
	}
	a.Status = types.StoredValueStatusExpired
	return a.newTransaction(types.LedgerTransactionTypeExpire, 0, now, meta), nil
}

func (a *Account) requireRedeemable(now time.Time) error {
	if err := a.requireStatus("redeem", types.StoredValueStatusActive); err != nil {
		return err
	}
	if a.IsExpired(now) {
		return ierr.NewError("account expired").
			WithHint("This gift card has expired").
			WithReportableDetails(map[string]any{
				"account_id": a.ID,
				"expires_at": a.ExpiresAt,
			}).
			Mark(ierr.ErrInvalidState)
	}
	return nil
}

func (a *Account) debit(amount int64) error {
	if amount <= 0 {
		return ierr.NewError("amount must be positive").
			WithHint("Redemption amount must be greater than zero").
			WithReportableDetails(map[string]any{
				"amount": amount,
			}).
			Mark(ierr.ErrValidation)
	}
	if amount > a.Balance {
		return ierr.NewError("insufficient balance").
			WithHint("Gift card balance is too low for this redemption").
			WithReportableDetails(map[string]any{
				"account_id": a.ID,
				"balance":    a.Balance,
				"requested":  amount,
			}).
			Mark(ierr.ErrInsufficientBalance)
	}

	a.Balance -= amount
	if a.Balance == 0 {
		a.Status = types.StoredValueStatusUsed
	}
	return nil
}

func (a *Account) credit(amount int64) error {
	if amount <= 0 {
		return ierr.NewError("amount must be positive").
			WithHint("Refund amount must be greater than zero").
			WithReportableDetails(map[string]any{
				"amount": amount,
			}).
			Mark(ierr.ErrValidation)
	}
	if a.Balance+amount > a.InitialAmount {
		return ierr.NewError("refund exceeds initial amount").
			WithHint("A gift card cannot hold more than its initial amount").
			WithReportableDetails(map[string]any{
				"account_id":     a.ID,
				"balance":        a.Balance,
				"initial_amount": a.InitialAmount,
				"requested":      amount,
			}).
			Mark(ierr.ErrCapExceeded)
	}

	a.Balance += amount
	if a.Status == types.StoredValueStatusUsed && a.Balance > 0 {
		a.Status = types.StoredValueStatusActive
	}
	return nil
}

func (a *Account) requireStatus(op string, allowed ...types.StoredValueStatus) error {
	if lo.Contains(allowed, a.Status) {
		return nil
	}
	return ierr.NewErrorf("cannot %s account in status %s", op, a.Status).
		WithHintf("Gift card is %s", a.Status).
		WithReportableDetails(map[string]any{
			"account_id": a.ID,
			"status":     a.Status,
			"allowed":    allowed,
		}).
		Mark(ierr.ErrInvalidState)
}

func (a *Account) newTransaction(t types.LedgerTransactionType, amount int64, now time.Time, meta Meta) *Transaction {
	return &Transaction{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_STORED_VALUE_TRANSACTION),
		TenantID:       a.TenantID,
		AccountID:      a.ID,
		Type:           t,
		Amount:         amount,
		BalanceAfter:   a.Balance,
		Description:    meta.Description,
		Actor:          meta.Actor,
		ReferenceID:    meta.ReferenceID,
		IdempotencyKey: meta.IdempotencyKey,
		CreatedAt:      now.UTC(),
	}
}

// Replay rebuilds the balance from the initial amount and the ordered
// transaction log, checking every recorded balance_after on the way.
func Replay(initialAmount int64, txns []*Transaction) (int64, error) {
	balance := initialAmount
	for i, t := range txns {
		balance += t.Amount
		if balance != t.BalanceAfter || balance < 0 || balance > initialAmount {
			return balance, ierr.NewError("ledger replay mismatch").
				WithHint("Stored-value transaction history does not reconcile").
				WithReportableDetails(map[string]any{
					"transaction_id": t.ID,
					"position":       i,
					"replayed":       balance,
					"recorded":       t.BalanceAfter,
				}).
				Mark(ierr.ErrRoundingInvariant)
		}
	}
	return balance, nil
}
