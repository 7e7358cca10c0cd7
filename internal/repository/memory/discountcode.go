package memory

import (
	"context"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/tixello/settlement/internal/domain/discountcode"
	ierr "github.com/tixello/settlement/internal/errors"
	"github.com/tixello/settlement/internal/types"
)

// DiscountCodeStore implements discountcode.Repository in memory
type DiscountCodeStore struct {
	mu          sync.Mutex
	codes       *Store[*discountcode.DiscountCode]
	redemptions *Store[*discountcode.Redemption]
}

func NewDiscountCodeStore() *DiscountCodeStore {
	return &DiscountCodeStore{
		codes:       NewStore[*discountcode.DiscountCode](),
		redemptions: NewStore[*discountcode.Redemption](),
	}
}

func copyDiscountCode(c *discountcode.DiscountCode) *discountcode.DiscountCode {
	if c == nil {
		return nil
	}
	copied := *c
	copied.Scope.IDs = append([]string(nil), c.Scope.IDs...)
	return &copied
}

func copyRedemption(r *discountcode.Redemption) *discountcode.Redemption {
	if r == nil {
		return nil
	}
	copied := *r
	return &copied
}

func (s *DiscountCodeStore) Create(ctx context.Context, c *discountcode.DiscountCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c.Code = types.NormalizeDiscountCode(c.Code)
	if _, err := s.getByCode(ctx, c.Code); err == nil {
		return ierr.NewError("discount code already exists").
			WithHint("A discount code with this code already exists").
			WithReportableDetails(map[string]any{
				"code": c.Code,
			}).
			Mark(ierr.ErrAlreadyExists)
	}
	return s.codes.Create(ctx, c.ID, copyDiscountCode(c))
}

func (s *DiscountCodeStore) Get(ctx context.Context, id string) (*discountcode.DiscountCode, error) {
	c, err := s.codes.Get(ctx, id)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHintf("Discount code %s not found", id).
			Mark(ierr.ErrNotFound)
	}
	return copyDiscountCode(c), nil
}

func (s *DiscountCodeStore) GetByCode(ctx context.Context, code string) (*discountcode.DiscountCode, error) {
	c, err := s.getByCode(ctx, types.NormalizeDiscountCode(code))
	if err != nil {
		return nil, err
	}
	return copyDiscountCode(c), nil
}

func (s *DiscountCodeStore) getByCode(ctx context.Context, code string) (*discountcode.DiscountCode, error) {
	matches := s.codes.List(ctx, func(_ context.Context, c *discountcode.DiscountCode) bool {
		return c.Code == code
	}, nil)
	if len(matches) == 0 {
		return nil, ierr.NewError("discount code not found").
			WithHint("Discount code not found").
			WithReportableDetails(map[string]any{
				"code": code,
			}).
			Mark(ierr.ErrNotFound)
	}
	return matches[0], nil
}

func (s *DiscountCodeStore) CountCustomerUsage(ctx context.Context, codeID, customerID string) (int64, error) {
	return s.customerUsage(ctx, codeID, customerID), nil
}

func (s *DiscountCodeStore) customerUsage(ctx context.Context, codeID, customerID string) int64 {
	matches := s.redemptions.List(ctx, func(_ context.Context, r *discountcode.Redemption) bool {
		return r.DiscountCodeID == codeID && r.CustomerID == customerID && !r.IsReversed()
	}, nil)
	return int64(len(matches))
}

func (s *DiscountCodeStore) ListOrderRedemptions(ctx context.Context, orderRef string) ([]*discountcode.Redemption, error) {
	matches := s.redemptions.List(ctx, func(_ context.Context, r *discountcode.Redemption) bool {
		return orderRef != "" && r.OrderRef == orderRef && !r.IsReversed()
	}, func(a, b *discountcode.Redemption) bool {
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return lo.Map(matches, func(r *discountcode.Redemption, _ int) *discountcode.Redemption {
		return copyRedemption(r)
	}), nil
}

func (s *DiscountCodeStore) RecordUsage(ctx context.Context, red *discountcode.Redemption) (*discountcode.Redemption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.codes.Get(ctx, red.DiscountCodeID)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHintf("Discount code %s not found", red.DiscountCodeID).
			Mark(ierr.ErrNotFound)
	}

	if red.OrderRef != "" {
		existing := s.redemptions.List(ctx, func(_ context.Context, r *discountcode.Redemption) bool {
			return r.DiscountCodeID == red.DiscountCodeID && r.OrderRef == red.OrderRef && !r.IsReversed()
		}, nil)
		if len(existing) > 0 {
			return copyRedemption(existing[0]), nil
		}
	}

	if c.Status != types.DiscountCodeStatusActive || c.LimitReached() {
		return nil, ierr.NewError("discount code usage limit reached").
			WithHint("This discount code has been fully used").
			WithReportableDetails(map[string]any{
				"discount_code_id": red.DiscountCodeID,
			}).
			Mark(ierr.ErrExpiredOrExhausted)
	}
	if c.UsageLimitPerCustomer != nil && red.CustomerID != "" &&
		s.customerUsage(ctx, c.ID, red.CustomerID) >= *c.UsageLimitPerCustomer {
		return nil, ierr.NewError("discount code customer limit reached").
			WithHint("You have already used this discount code the maximum number of times").
			WithReportableDetails(map[string]any{
				"discount_code_id": red.DiscountCodeID,
				"customer_id":      red.CustomerID,
			}).
			Mark(ierr.ErrExpiredOrExhausted)
	}

	if err := s.redemptions.Create(ctx, red.ID, copyRedemption(red)); err != nil {
		return nil, err
	}

	updated := copyDiscountCode(c)
	updated.UsageCount++
	if updated.LimitReached() {
		updated.Status = types.DiscountCodeStatusExhausted
	}
	updated.UpdatedAt = time.Now().UTC()
	if err := s.codes.Update(ctx, updated.ID, updated); err != nil {
		return nil, err
	}
	return copyRedemption(red), nil
}

func (s *DiscountCodeStore) ReverseUsage(ctx context.Context, redemptionID string) (*discountcode.Redemption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	red, err := s.redemptions.Get(ctx, redemptionID)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHintf("Redemption %s not found", redemptionID).
			Mark(ierr.ErrNotFound)
	}
	if red.IsReversed() {
		return nil, ierr.NewError("redemption already reversed").
			WithHint("This discount code usage was already reversed").
			WithReportableDetails(map[string]any{
				"redemption_id": redemptionID,
			}).
			Mark(ierr.ErrInvalidOperation)
	}

	now := time.Now().UTC()
	reversed := copyRedemption(red)
	reversed.ReversedAt = &now
	reversed.UpdatedAt = now
	reversed.UpdatedBy = types.GetUserID(ctx)
	if err := s.redemptions.Update(ctx, redemptionID, reversed); err != nil {
		return nil, err
	}

	if c, err := s.codes.Get(ctx, red.DiscountCodeID); err == nil && c.UsageCount > 0 {
		updated := copyDiscountCode(c)
		updated.UsageCount--
		// only the status the last use set is given back
		if updated.Status == types.DiscountCodeStatusExhausted && !updated.LimitReached() {
			updated.Status = types.DiscountCodeStatusActive
		}
		updated.UpdatedAt = now
		if err := s.codes.Update(ctx, updated.ID, updated); err != nil {
			return nil, err
		}
	}
	return copyRedemption(reversed), nil
}

func (s *DiscountCodeStore) GetRedemption(ctx context.Context, redemptionID string) (*discountcode.Redemption, error) {
	red, err := s.redemptions.Get(ctx, redemptionID)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHintf("Redemption %s not found", redemptionID).
			Mark(ierr.ErrNotFound)
	}
	return copyRedemption(red), nil
}

// Clear drops all codes and redemptions
func (s *DiscountCodeStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes.Clear()
	s.redemptions.Clear()
}

var _ discountcode.Repository = (*DiscountCodeStore)(nil)
