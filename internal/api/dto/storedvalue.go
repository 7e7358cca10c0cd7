package dto

import (
	"context"
	"strings"
	"time"

	"github.com/tixello/settlement/internal/domain/storedvalue"
	ierr "github.com/tixello/settlement/internal/errors"
	"github.com/tixello/settlement/internal/types"
	"github.com/tixello/settlement/internal/validator"
)

// IssueStoredValueRequest issues a new gift card. Amount is in minor units.
type IssueStoredValueRequest struct {
	Currency  string                     `json:"currency" validate:"required,currency"`
	Amount    int64                      `json:"amount" validate:"gt=0"`
	OwnerType types.StoredValueOwnerType `json:"owner_type" validate:"required"`
	OwnerID   string                     `json:"owner_id" validate:"required"`
	ExpiresAt *time.Time                 `json:"expires_at,omitempty"`
	// Activate issues the account directly in the active state
	Activate bool `json:"activate,omitempty"`
}

func (r *IssueStoredValueRequest) Validate() error {
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	if err := r.OwnerType.Validate(); err != nil {
		return err
	}
	if r.ExpiresAt != nil && !r.ExpiresAt.After(time.Now()) {
		return ierr.NewError("expires_at must be in the future").
			WithHint("Gift card expiry must be in the future").
			WithReportableDetails(map[string]any{
				"expires_at": r.ExpiresAt,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// ToAccount builds a pending account holding the full amount
func (r *IssueStoredValueRequest) ToAccount(ctx context.Context, code string) *storedvalue.Account {
	return &storedvalue.Account{
		ID:            types.GenerateUUIDWithPrefix(types.UUID_PREFIX_STORED_VALUE_ACCOUNT),
		Code:          code,
		Currency:      r.Currency,
		OwnerType:     r.OwnerType,
		OwnerID:       r.OwnerID,
		InitialAmount: r.Amount,
		Balance:       r.Amount,
		Status:        types.StoredValueStatusPending,
		ExpiresAt:     r.ExpiresAt,
		BaseModel:     types.GetDefaultBaseModel(ctx),
	}
}

// StoredValueAmountRequest is the body of redeem and refund calls
type StoredValueAmountRequest struct {
	Amount         int64   `json:"amount" validate:"gt=0"`
	Description    string  `json:"description,omitempty"`
	ReferenceID    *string `json:"reference_id,omitempty"`
	IdempotencyKey *string `json:"idempotency_key,omitempty"`
}

func (r *StoredValueAmountRequest) Validate() error {
	return validator.ValidateRequest(r)
}

// AdjustStoredValueRequest corrects a balance. Negative amounts debit.
type AdjustStoredValueRequest struct {
	Amount         int64   `json:"amount" validate:"ne=0"`
	Reason         string  `json:"reason" validate:"required"`
	IdempotencyKey *string `json:"idempotency_key,omitempty"`
}

func (r *AdjustStoredValueRequest) Validate() error {
	return validator.ValidateRequest(r)
}

// StoredValueActionRequest is the body of the status transitions
type StoredValueActionRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ToMeta builds the mutation metadata, taking the actor from ctx
func (r *StoredValueAmountRequest) ToMeta(ctx context.Context) storedvalue.Meta {
	return storedvalue.Meta{
		Actor:          types.GetUserID(ctx),
		Description:    r.Description,
		ReferenceID:    r.ReferenceID,
		IdempotencyKey: r.IdempotencyKey,
	}
}

func (r *AdjustStoredValueRequest) ToMeta(ctx context.Context) storedvalue.Meta {
	return storedvalue.Meta{
		Actor:          types.GetUserID(ctx),
		Description:    r.Reason,
		IdempotencyKey: r.IdempotencyKey,
	}
}

func (r *StoredValueActionRequest) ToMeta(ctx context.Context) storedvalue.Meta {
	return storedvalue.Meta{
		Actor:       types.GetUserID(ctx),
		Description: r.Reason,
	}
}

// StoredValueAccountResponse is an account with display formatted amounts
type StoredValueAccountResponse struct {
	*storedvalue.Account
	BalanceDisplay       string `json:"balance_display"`
	InitialAmountDisplay string `json:"initial_amount_display"`
}

func FromStoredValueAccount(a *storedvalue.Account) *StoredValueAccountResponse {
	if a == nil {
		return nil
	}
	return &StoredValueAccountResponse{
		Account:              a,
		BalanceDisplay:       types.FormatMinorUnits(a.Balance, a.Currency),
		InitialAmountDisplay: types.FormatMinorUnits(a.InitialAmount, a.Currency),
	}
}

// StoredValueMutationResponse returns the account after a mutation and the
// transaction it appended
type StoredValueMutationResponse struct {
	Account     *StoredValueAccountResponse `json:"account"`
	Transaction *storedvalue.Transaction    `json:"transaction,omitempty"`
}

type ListStoredValueTransactionsResponse struct {
	AccountID    string                     `json:"account_id"`
	Transactions []*storedvalue.Transaction `json:"transactions"`
}

// ReconcileStoredValueResponse reports the replayed balance of an account
type ReconcileStoredValueResponse struct {
	AccountID        string `json:"account_id"`
	InitialAmount    int64  `json:"initial_amount"`
	StoredBalance    int64  `json:"stored_balance"`
	ReplayedBalance  int64  `json:"replayed_balance"`
	TransactionCount int    `json:"transaction_count"`
	Consistent       bool   `json:"consistent"`
}

// StoredValueRedemption asks a settlement to pay up to Amount from a gift
// card, identified by id or code
type StoredValueRedemption struct {
	AccountID      string  `json:"account_id,omitempty"`
	Code           string  `json:"code,omitempty"`
	Amount         int64   `json:"amount" validate:"gt=0"`
	IdempotencyKey *string `json:"idempotency_key,omitempty"`
}

func (r *StoredValueRedemption) Validate() error {
	if r.AccountID == "" && r.Code == "" {
		return ierr.NewError("stored value account is required").
			WithHint("Provide either a gift card id or code").
			Mark(ierr.ErrValidation)
	}
	return validator.ValidateRequest(r)
}

