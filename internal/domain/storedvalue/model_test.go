package storedvalue

import (
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ierr "github.com/tixello/settlement/internal/errors"
	"github.com/tixello/settlement/internal/types"
)

func newActiveAccount(t *testing.T, initial int64) *Account {
	a := &Account{
		ID:            "sva_test",
		Code:          "GCTEST",
		Currency:      "RON",
		OwnerType:     types.StoredValueOwnerMarketplace,
		InitialAmount: initial,
		Balance:       initial,
		Status:        types.StoredValueStatusPending,
	}
	_, err := a.Activate(time.Now(), Meta{Actor: "test"})
	require.NoError(t, err)
	return a
}

func TestGiftCardLifecycle(t *testing.T) {
	now := time.Now()
	a := &Account{
		ID:            "sva_test",
		Currency:      "RON",
		OwnerType:     types.StoredValueOwnerShop,
		InitialAmount: 20000,
		Balance:       20000,
		Status:        types.StoredValueStatusPending,
	}

	var log []*Transaction
	record := func(txn *Transaction, err error) {
		require.NoError(t, err)
		log = append(log, txn)
	}

	record(a.Activate(now, Meta{}))
	assert.Equal(t, types.StoredValueStatusActive, a.Status)

	record(a.Redeem(5000, now, Meta{}))
	assert.Equal(t, int64(15000), a.Balance)
	assert.Equal(t, types.StoredValueStatusActive, a.Status)

	record(a.Redeem(15000, now, Meta{}))
	assert.Equal(t, int64(0), a.Balance)
	assert.Equal(t, types.StoredValueStatusUsed, a.Status)

	record(a.Refund(3000, now, Meta{}))
	assert.Equal(t, int64(3000), a.Balance)
	assert.Equal(t, types.StoredValueStatusActive, a.Status)

	balance, err := Replay(a.InitialAmount, log)
	require.NoError(t, err)
	assert.Equal(t, a.Balance, balance)

	assert.Equal(t, []types.LedgerTransactionType{
		types.LedgerTransactionTypeActivation,
		types.LedgerTransactionTypeDebit,
		types.LedgerTransactionTypeDebit,
		types.LedgerTransactionTypeRefund,
	}, lo.Map(log, func(txn *Transaction, _ int) types.LedgerTransactionType { return txn.Type }))
}

func TestRedeemRules(t *testing.T) {
	a := newActiveAccount(t, 1000)

	_, err := a.Redeem(1001, time.Now(), Meta{})
	assert.True(t, ierr.IsInsufficientBalance(err))
	assert.Equal(t, int64(1000), a.Balance)

	_, err = a.Redeem(0, time.Now(), Meta{})
	assert.True(t, ierr.IsValidation(err))

	pending := &Account{Status: types.StoredValueStatusPending, InitialAmount: 10, Balance: 10}
	_, err = pending.Redeem(5, time.Now(), Meta{})
	assert.True(t, ierr.IsInvalidState(err))
}

func TestRedeemBlockedOnceExpired(t *testing.T) {
	a := newActiveAccount(t, 1000)
	a.ExpiresAt = lo.ToPtr(time.Now().Add(-time.Hour))

	assert.True(t, a.IsExpired(time.Now()))
	_, err := a.Redeem(100, time.Now(), Meta{})
	assert.True(t, ierr.IsInvalidState(err))

	_, err = a.Expire(time.Now(), Meta{})
	require.NoError(t, err)
	assert.Equal(t, types.StoredValueStatusExpired, a.Status)
	assert.False(t, a.IsExpired(time.Now()))
}

func TestRefundPastInitialAmountFails(t *testing.T) {
	a := newActiveAccount(t, 1000)
	_, err := a.Redeem(300, time.Now(), Meta{})
	require.NoError(t, err)

	_, err = a.Refund(301, time.Now(), Meta{})
	assert.True(t, ierr.IsCapExceeded(err))
	assert.Equal(t, int64(700), a.Balance)

	_, err = a.Refund(300, time.Now(), Meta{})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), a.Balance)
}

func TestRevokeFreezesBalance(t *testing.T) {
	a := newActiveAccount(t, 1000)
	_, err := a.Redeem(400, time.Now(), Meta{})
	require.NoError(t, err)

	txn, err := a.Revoke(time.Now(), Meta{Actor: "admin", Description: "fraud"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), txn.Amount)
	assert.Equal(t, int64(600), txn.BalanceAfter)
	assert.Equal(t, types.StoredValueStatusRevoked, a.Status)

	_, err = a.Redeem(100, time.Now(), Meta{})
	assert.True(t, ierr.IsInvalidState(err))
	_, err = a.Refund(100, time.Now(), Meta{})
	assert.True(t, ierr.IsInvalidState(err))
	assert.Equal(t, int64(600), a.Balance)
}

func TestRedeemUpTo(t *testing.T) {
	a := newActiveAccount(t, 1000)

	txn, err := a.RedeemUpTo(2500, time.Now(), Meta{})
	require.NoError(t, err)
	assert.Equal(t, int64(-1000), txn.Amount)
	assert.Equal(t, types.StoredValueStatusUsed, a.Status)

	a.Status = types.StoredValueStatusActive
	txn, err = a.RedeemUpTo(100, time.Now(), Meta{})
	require.NoError(t, err)
	assert.Nil(t, txn)
}

func TestAdjust(t *testing.T) {
	a := newActiveAccount(t, 1000)

	txn, err := a.Adjust(-250, time.Now(), Meta{})
	require.NoError(t, err)
	assert.Equal(t, types.LedgerTransactionTypeDebit, txn.Type)
	assert.Equal(t, int64(750), a.Balance)

	txn, err = a.Adjust(100, time.Now(), Meta{})
	require.NoError(t, err)
	assert.Equal(t, types.LedgerTransactionTypeCredit, txn.Type)
	assert.Equal(t, int64(850), a.Balance)

	_, err = a.Adjust(200, time.Now(), Meta{})
	assert.True(t, ierr.IsCapExceeded(err))

	_, err = a.Adjust(0, time.Now(), Meta{})
	assert.True(t, ierr.IsValidation(err))
}

func TestReplayDetectsTampering(t *testing.T) {
	txns := []*Transaction{
		{ID: "a", Amount: -300, BalanceAfter: 700},
		{ID: "b", Amount: -100, BalanceAfter: 650},
	}
	_, err := Replay(1000, txns)
	assert.True(t, ierr.IsRoundingInvariant(err))
}

func TestTerminalStatuses(t *testing.T) {
	a := newActiveAccount(t, 1000)
	assert.False(t, a.Status.IsTerminal())

	_, err := a.Redeem(1000, time.Now(), Meta{})
	require.NoError(t, err)
	assert.False(t, a.Status.IsTerminal(), "used accounts can be refunded")

	_, err = a.Refund(500, time.Now(), Meta{})
	require.NoError(t, err)
	_, err = a.Revoke(time.Now(), Meta{})
	require.NoError(t, err)
	assert.True(t, a.Status.IsTerminal())
	assert.True(t, types.StoredValueStatusCancelled.IsTerminal())
}
