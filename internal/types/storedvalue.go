package types

import (
	"github.com/samber/lo"
	ierr "github.com/tixello/settlement/internal/errors"
)

// StoredValueStatus is the lifecycle state of a stored-value account
type StoredValueStatus string

const (
	StoredValueStatusPending   StoredValueStatus = "pending"
	StoredValueStatusActive    StoredValueStatus = "active"
	StoredValueStatusUsed      StoredValueStatus = "used"
	StoredValueStatusExpired   StoredValueStatus = "expired"
	StoredValueStatusCancelled StoredValueStatus = "cancelled"
	StoredValueStatusRevoked   StoredValueStatus = "revoked"
)

// IsTerminal reports whether no further transition is possible from s.
// used is not terminal since a refund brings the account back to active.
func (s StoredValueStatus) IsTerminal() bool {
	return lo.Contains([]StoredValueStatus{
		StoredValueStatusExpired,
		StoredValueStatusCancelled,
		StoredValueStatusRevoked,
	}, s)
}

// StoredValueOwnerType identifies who issued the account
type StoredValueOwnerType string

const (
	StoredValueOwnerMarketplace StoredValueOwnerType = "marketplace"
	StoredValueOwnerShop        StoredValueOwnerType = "shop"
)

func (o StoredValueOwnerType) Validate() error {
	allowed := []StoredValueOwnerType{
		StoredValueOwnerMarketplace,
		StoredValueOwnerShop,
	}
	if !lo.Contains(allowed, o) {
		return ierr.NewError("invalid owner type").
			WithHint("Owner type must be marketplace or shop").
			WithReportableDetails(map[string]any{
				"allowed":    allowed,
				"owner_type": o,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// LedgerTransactionType is the kind of an appended ledger record
type LedgerTransactionType string

const (
	LedgerTransactionTypeCredit LedgerTransactionType = "credit"
	LedgerTransactionTypeDebit  LedgerTransactionType = "debit"
	LedgerTransactionTypeRefund LedgerTransactionType = "refund"

	// zero amount markers
	LedgerTransactionTypeActivation LedgerTransactionType = "activation"
	LedgerTransactionTypeExpire     LedgerTransactionType = "expire"
	LedgerTransactionTypeRevoke     LedgerTransactionType = "revoke"
)
