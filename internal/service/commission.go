package service

import (
	"github.com/shopspring/decimal"
	"github.com/tixello/settlement/internal/config"
	"github.com/tixello/settlement/internal/domain/pricing"
	ierr "github.com/tixello/settlement/internal/errors"
	"github.com/tixello/settlement/internal/types"
)

// DefaultFallbackCommissionRate applies when no layer defines a rate
var DefaultFallbackCommissionRate = decimal.NewFromFloat(5.0)

var hundred = decimal.NewFromInt(100)

// CommissionResolver resolves the marketplace commission of a priced line.
// Implementations are pure and safe for concurrent use.
type CommissionResolver interface {
	// ResolveRate returns the effective rate and mode for the context
	ResolveRate(pc pricing.Context) (decimal.Decimal, types.CommissionMode)
	// Compute splits price (minor units) into commission, organizer revenue
	// and customer charge
	Compute(pc pricing.Context, price int64) pricing.Commission
}

// commissionLayer yields the rate and mode one record defines, nil when unset
type commissionLayer func(pc pricing.Context) (*decimal.Decimal, *types.CommissionMode)

// commissionLayers in priority order, first non nil value wins
var commissionLayers = []commissionLayer{
	func(pc pricing.Context) (*decimal.Decimal, *types.CommissionMode) {
		if pc.Event == nil {
			return nil, nil
		}
		return pc.Event.CommissionRate, pc.Event.CommissionMode
	},
	func(pc pricing.Context) (*decimal.Decimal, *types.CommissionMode) {
		if pc.Organizer == nil {
			return nil, nil
		}
		return pc.Organizer.CommissionRate, pc.Organizer.CommissionMode
	},
	func(pc pricing.Context) (*decimal.Decimal, *types.CommissionMode) {
		if pc.Marketplace == nil {
			return nil, nil
		}
		return pc.Marketplace.CommissionRate, pc.Marketplace.CommissionMode
	},
}

type commissionResolver struct {
	fallbackRate decimal.Decimal
}

func NewCommissionResolver(fallbackRate decimal.Decimal) CommissionResolver {
	return &commissionResolver{fallbackRate: fallbackRate}
}

// NewCommissionResolverFromConfig reads pricing.fallback_commission_rate
func NewCommissionResolverFromConfig(cfg *config.Configuration) (CommissionResolver, error) {
	rate := DefaultFallbackCommissionRate
	if cfg.Pricing.FallbackCommissionRate != "" {
		parsed, err := decimal.NewFromString(cfg.Pricing.FallbackCommissionRate)
		if err != nil {
			return nil, ierr.WithError(err).
				WithHint("pricing.fallback_commission_rate must be a decimal number").
				Mark(ierr.ErrValidation)
		}
		rate = parsed
	}
	return NewCommissionResolver(rate), nil
}

func (r *commissionResolver) ResolveRate(pc pricing.Context) (decimal.Decimal, types.CommissionMode) {
	var (
		rate *decimal.Decimal
		mode *types.CommissionMode
	)
	for _, layer := range commissionLayers {
		layerRate, layerMode := layer(pc)
		if rate == nil && layerRate != nil {
			rate = layerRate
		}
		if mode == nil && layerMode != nil {
			mode = layerMode
		}
	}

	resolvedRate := r.fallbackRate
	if rate != nil {
		resolvedRate = *rate
	}
	resolvedMode := types.CommissionModeIncluded
	if mode != nil {
		resolvedMode = *mode
	}
	return resolvedRate, resolvedMode
}

// Compute rounds half up exactly once, on the commission itself.
// Range checks on the rate belong to the caller (pricing.Context.Validate);
// a negative rate is still treated as zero here.
func (r *commissionResolver) Compute(pc pricing.Context, price int64) pricing.Commission {
	rate, mode := r.ResolveRate(pc)
	if rate.IsNegative() {
		rate = decimal.Zero
	}

	commission := decimal.NewFromInt(price).Mul(rate).Div(hundred).Round(0).IntPart()

	result := pricing.Commission{
		Rate:       rate,
		Mode:       mode,
		Commission: commission,
	}
	switch mode {
	case types.CommissionModeAddedOnTop:
		result.CustomerCharge = price + commission
		result.OrganizerRevenue = price
	default:
		result.CustomerCharge = price
		result.OrganizerRevenue = price - commission
	}
	return result
}
