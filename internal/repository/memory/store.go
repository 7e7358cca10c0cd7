package memory

import (
	"context"
	"sort"
	"sync"

	ierr "github.com/tixello/settlement/internal/errors"
	"github.com/tixello/settlement/internal/types"
)

// FilterFunc selects items of a List call
type FilterFunc[T any] func(ctx context.Context, item T) bool

// SortFunc is a generic sort function type
type SortFunc[T any] func(i, j T) bool

// Store is a generic tenant scoped in-memory store. Items are keyed by
// tenant id and item id so two tenants never see each other's rows.
type Store[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

func NewStore[T any]() *Store[T] {
	return &Store[T]{
		items: make(map[string]T),
	}
}

func storeKey(ctx context.Context, id string) string {
	return types.GetTenantID(ctx) + "/" + id
}

// Create adds a new item to the store
func (s *Store[T]) Create(ctx context.Context, id string, item T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := storeKey(ctx, id)
	if _, exists := s.items[key]; exists {
		return ierr.NewErrorf("item %s already exists", id).
			WithHint("An item with this id already exists").
			Mark(ierr.ErrAlreadyExists)
	}

	s.items[key] = item
	return nil
}

// Get retrieves an item by ID
func (s *Store[T]) Get(ctx context.Context, id string) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if item, exists := s.items[storeKey(ctx, id)]; exists {
		return item, nil
	}

	var zero T
	return zero, ierr.NewErrorf("item %s not found", id).
		WithHint("Item not found").
		Mark(ierr.ErrNotFound)
}

// List returns the tenant's items matching filterFn, ordered by sortFn
func (s *Store[T]) List(ctx context.Context, filterFn FilterFunc[T], sortFn SortFunc[T]) []T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := types.GetTenantID(ctx) + "/"
	result := make([]T, 0)
	for key, item := range s.items {
		if len(key) < len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		if filterFn == nil || filterFn(ctx, item) {
			result = append(result, item)
		}
	}

	if sortFn != nil {
		sort.SliceStable(result, func(i, j int) bool {
			return sortFn(result[i], result[j])
		})
	}
	return result
}

// Update replaces an existing item
func (s *Store[T]) Update(ctx context.Context, id string, item T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := storeKey(ctx, id)
	if _, exists := s.items[key]; !exists {
		return ierr.NewErrorf("item %s not found", id).
			WithHint("Item not found").
			Mark(ierr.ErrNotFound)
	}

	s.items[key] = item
	return nil
}

// Clear removes all items from the store
func (s *Store[T]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]T)
}
