package discountcode

import "context"

// Repository is the persistence boundary of discount codes. The codes table
// is owned elsewhere; this core only reads codes and moves usage_count.
type Repository interface {
	Create(ctx context.Context, code *DiscountCode) error
	Get(ctx context.Context, id string) (*DiscountCode, error)
	// GetByCode looks a code up by its normalized string
	GetByCode(ctx context.Context, code string) (*DiscountCode, error)
	CountCustomerUsage(ctx context.Context, codeID, customerID string) (int64, error)
	// ListOrderRedemptions returns the unreversed redemptions of an order
	ListOrderRedemptions(ctx context.Context, orderRef string) ([]*Redemption, error)

	// RecordUsage stores a redemption and increments usage_count in one
	// atomic step, checking usage_limit_total and usage_limit_per_customer
	// against the committed state. It fails with ErrExpiredOrExhausted when
	// either limit is reached. An unreversed redemption of the same code and
	// order_ref is returned instead of recording a second use. The code moves
	// to exhausted when it takes its last use.
	RecordUsage(ctx context.Context, redemption *Redemption) (*Redemption, error)
	// ReverseUsage marks a redemption reversed and gives the use back
	ReverseUsage(ctx context.Context, redemptionID string) (*Redemption, error)
	GetRedemption(ctx context.Context, redemptionID string) (*Redemption, error)
}
