package memory

import (
	"context"
	"sync"

	"github.com/tixello/settlement/internal/domain/storedvalue"
	ierr "github.com/tixello/settlement/internal/errors"
)

// StoredValueStore implements storedvalue.Repository in memory. It backs the
// memory ledger store and the service tests.
type StoredValueStore struct {
	// mu serializes mutations so the version check and the append are atomic
	mu           sync.Mutex
	accounts     *Store[*storedvalue.Account]
	transactions *Store[*storedvalue.Transaction]
	seq          map[string]int64
	next         int64
}

func NewStoredValueStore() *StoredValueStore {
	return &StoredValueStore{
		accounts:     NewStore[*storedvalue.Account](),
		transactions: NewStore[*storedvalue.Transaction](),
		seq:          make(map[string]int64),
	}
}

func copyAccount(a *storedvalue.Account) *storedvalue.Account {
	if a == nil {
		return nil
	}
	copied := *a
	if a.ExpiresAt != nil {
		t := *a.ExpiresAt
		copied.ExpiresAt = &t
	}
	return &copied
}

func copyTransaction(t *storedvalue.Transaction) *storedvalue.Transaction {
	if t == nil {
		return nil
	}
	copied := *t
	return &copied
}

func (s *StoredValueStore) Create(ctx context.Context, a *storedvalue.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getByCode(ctx, a.Code); err == nil {
		return ierr.NewError("stored value code already exists").
			WithHint("A gift card with this code already exists").
			WithReportableDetails(map[string]any{
				"code": a.Code,
			}).
			Mark(ierr.ErrAlreadyExists)
	}
	return s.accounts.Create(ctx, a.ID, copyAccount(a))
}

func (s *StoredValueStore) Get(ctx context.Context, id string) (*storedvalue.Account, error) {
	a, err := s.accounts.Get(ctx, id)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHintf("Stored value account %s not found", id).
			Mark(ierr.ErrNotFound)
	}
	return copyAccount(a), nil
}

func (s *StoredValueStore) GetByCode(ctx context.Context, code string) (*storedvalue.Account, error) {
	a, err := s.getByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return copyAccount(a), nil
}

func (s *StoredValueStore) getByCode(ctx context.Context, code string) (*storedvalue.Account, error) {
	matches := s.accounts.List(ctx, func(_ context.Context, a *storedvalue.Account) bool {
		return a.Code == code
	}, nil)
	if len(matches) == 0 {
		return nil, ierr.NewError("stored value account not found").
			WithHint("Gift card not found").
			WithReportableDetails(map[string]any{
				"code": code,
			}).
			Mark(ierr.ErrNotFound)
	}
	return matches[0], nil
}

func (s *StoredValueStore) ApplyMutation(ctx context.Context, a *storedvalue.Account, expectedVersion int64, txn *storedvalue.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.accounts.Get(ctx, a.ID)
	if err != nil {
		return ierr.WithError(err).
			WithHintf("Stored value account %s not found", a.ID).
			Mark(ierr.ErrNotFound)
	}
	if stored.Version != expectedVersion {
		return ierr.NewError("stored value account was modified concurrently").
			WithHint("Please retry the operation").
			WithReportableDetails(map[string]any{
				"account_id":       a.ID,
				"expected_version": expectedVersion,
				"actual_version":   stored.Version,
			}).
			Mark(ierr.ErrVersionConflict)
	}
	if txn.IdempotencyKey != nil {
		if _, err := s.findByIdempotencyKey(ctx, a.ID, *txn.IdempotencyKey); err == nil {
			return ierr.NewError("idempotency key already used").
				WithHint("This operation was already applied").
				WithReportableDetails(map[string]any{
					"account_id":      a.ID,
					"idempotency_key": *txn.IdempotencyKey,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
	}

	if err := s.transactions.Create(ctx, txn.ID, copyTransaction(txn)); err != nil {
		return err
	}
	s.next++
	s.seq[txn.ID] = s.next

	a.Version = expectedVersion + 1
	return s.accounts.Update(ctx, a.ID, copyAccount(a))
}

func (s *StoredValueStore) ListTransactions(ctx context.Context, accountID string) ([]*storedvalue.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txns := s.transactions.List(ctx, func(_ context.Context, t *storedvalue.Transaction) bool {
		return t.AccountID == accountID
	}, func(i, j *storedvalue.Transaction) bool {
		return s.seq[i.ID] < s.seq[j.ID]
	})

	result := make([]*storedvalue.Transaction, 0, len(txns))
	for _, t := range txns {
		result = append(result, copyTransaction(t))
	}
	return result, nil
}

func (s *StoredValueStore) GetTransactionByIdempotencyKey(ctx context.Context, accountID, key string) (*storedvalue.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.findByIdempotencyKey(ctx, accountID, key)
	if err != nil {
		return nil, err
	}
	return copyTransaction(t), nil
}

func (s *StoredValueStore) findByIdempotencyKey(ctx context.Context, accountID, key string) (*storedvalue.Transaction, error) {
	matches := s.transactions.List(ctx, func(_ context.Context, t *storedvalue.Transaction) bool {
		return t.AccountID == accountID && t.IdempotencyKey != nil && *t.IdempotencyKey == key
	}, nil)
	if len(matches) == 0 {
		return nil, ierr.NewError("transaction not found").
			WithHint("No transaction for this idempotency key").
			Mark(ierr.ErrNotFound)
	}
	return matches[0], nil
}

// Clear drops all accounts and transactions
func (s *StoredValueStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts.Clear()
	s.transactions.Clear()
	s.seq = make(map[string]int64)
}

var _ storedvalue.Repository = (*StoredValueStore)(nil)
