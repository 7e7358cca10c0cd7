package storedvalue

import "context"

// Repository persists accounts and their append-only transaction log
type Repository interface {
	Create(ctx context.Context, account *Account) error
	Get(ctx context.Context, id string) (*Account, error)
	GetByCode(ctx context.Context, code string) (*Account, error)

	// ApplyMutation stores the mutated account and appends txn in one atomic
	// step, but only when the stored version still equals expectedVersion.
	// On success account.Version is expectedVersion+1. A lost race returns
	// ErrVersionConflict and nothing is written.
	ApplyMutation(ctx context.Context, account *Account, expectedVersion int64, txn *Transaction) error

	ListTransactions(ctx context.Context, accountID string) ([]*Transaction, error)
	GetTransactionByIdempotencyKey(ctx context.Context, accountID, key string) (*Transaction, error)
}
