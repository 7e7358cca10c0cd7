package service

import (
	"testing"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tixello/settlement/internal/config"
	"github.com/tixello/settlement/internal/domain/pricing"
	"github.com/tixello/settlement/internal/types"
)

func rate(v float64) *decimal.Decimal {
	return lo.ToPtr(decimal.NewFromFloat(v))
}

func mode(m types.CommissionMode) *types.CommissionMode {
	return lo.ToPtr(m)
}

func TestCommissionResolverScenarios(t *testing.T) {
	resolver := NewCommissionResolver(DefaultFallbackCommissionRate)

	tests := []struct {
		name             string
		pc               pricing.Context
		price            int64
		wantRate         string
		wantMode         types.CommissionMode
		wantCommission   int64
		wantOrganizer    int64
		wantCustomerCost int64
	}{
		{
			name: "organizer override included",
			pc: pricing.Context{
				Event:     &pricing.Event{ID: "evt_1", OrganizerID: "org_1"},
				Organizer: &pricing.Organizer{ID: "org_1", CommissionRate: rate(10), CommissionMode: mode(types.CommissionModeIncluded)},
			},
			price:            10000,
			wantRate:         "10",
			wantMode:         types.CommissionModeIncluded,
			wantCommission:   1000,
			wantOrganizer:    9000,
			wantCustomerCost: 10000,
		},
		{
			name: "organizer override added on top",
			pc: pricing.Context{
				Event:     &pricing.Event{ID: "evt_1", OrganizerID: "org_1"},
				Organizer: &pricing.Organizer{ID: "org_1", CommissionRate: rate(10), CommissionMode: mode(types.CommissionModeAddedOnTop)},
			},
			price:            10000,
			wantRate:         "10",
			wantMode:         types.CommissionModeAddedOnTop,
			wantCommission:   1000,
			wantOrganizer:    10000,
			wantCustomerCost: 11000,
		},
		{
			name: "event beats organizer and marketplace",
			pc: pricing.Context{
				Event:       &pricing.Event{ID: "evt_1", CommissionRate: rate(2.5)},
				Organizer:   &pricing.Organizer{ID: "org_1", CommissionRate: rate(10), CommissionMode: mode(types.CommissionModeAddedOnTop)},
				Marketplace: &pricing.Marketplace{ID: "mkt", CommissionRate: rate(7)},
			},
			price:            10000,
			wantRate:         "2.5",
			wantMode:         types.CommissionModeAddedOnTop,
			wantCommission:   250,
			wantOrganizer:    10000,
			wantCustomerCost: 10250,
		},
		{
			name: "marketplace default",
			pc: pricing.Context{
				Event:       &pricing.Event{ID: "evt_1"},
				Marketplace: &pricing.Marketplace{ID: "mkt", CommissionRate: rate(7)},
			},
			price:            10000,
			wantRate:         "7",
			wantMode:         types.CommissionModeIncluded,
			wantCommission:   700,
			wantOrganizer:    9300,
			wantCustomerCost: 10000,
		},
		{
			name:             "fallback rate",
			pc:               pricing.Context{},
			price:            10000,
			wantRate:         "5",
			wantMode:         types.CommissionModeIncluded,
			wantCommission:   500,
			wantOrganizer:    9500,
			wantCustomerCost: 10000,
		},
		{
			name:             "half up rounding on commission",
			pc:               pricing.Context{Event: &pricing.Event{ID: "evt_1", CommissionRate: rate(5)}},
			price:            10,
			wantRate:         "5",
			wantMode:         types.CommissionModeIncluded,
			wantCommission:   1,
			wantOrganizer:    9,
			wantCustomerCost: 10,
		},
		{
			name:             "negative rate is zero",
			pc:               pricing.Context{Event: &pricing.Event{ID: "evt_1", CommissionRate: rate(-3)}},
			price:            10000,
			wantRate:         "0",
			wantMode:         types.CommissionModeIncluded,
			wantCommission:   0,
			wantOrganizer:    10000,
			wantCustomerCost: 10000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolver.Compute(tt.pc, tt.price)
			assert.Equal(t, tt.wantRate, got.Rate.String())
			assert.Equal(t, tt.wantMode, got.Mode)
			assert.Equal(t, tt.wantCommission, got.Commission)
			assert.Equal(t, tt.wantOrganizer, got.OrganizerRevenue)
			assert.Equal(t, tt.wantCustomerCost, got.CustomerCharge)
		})
	}
}

func TestCommissionIdentityHolds(t *testing.T) {
	resolver := NewCommissionResolver(DefaultFallbackCommissionRate)
	rates := []float64{0, 0.5, 1, 2.75, 5, 9.99, 12.5, 33.333, 50, 99.99, 100}
	prices := []int64{0, 1, 3, 7, 99, 101, 1999, 10000, 123457, 99999999}

	for _, r := range rates {
		for _, p := range prices {
			included := resolver.Compute(pricing.Context{
				Event: &pricing.Event{ID: "evt", CommissionRate: rate(r), CommissionMode: mode(types.CommissionModeIncluded)},
			}, p)
			require.Equal(t, p, included.OrganizerRevenue+included.Commission, "included rate=%v price=%d", r, p)
			require.Equal(t, p, included.CustomerCharge)

			onTop := resolver.Compute(pricing.Context{
				Event: &pricing.Event{ID: "evt", CommissionRate: rate(r), CommissionMode: mode(types.CommissionModeAddedOnTop)},
			}, p)
			require.Equal(t, p, onTop.CustomerCharge-onTop.Commission, "added_on_top rate=%v price=%d", r, p)
			require.Equal(t, p, onTop.OrganizerRevenue)
		}
	}
}

func TestCommissionResolverIsDeterministic(t *testing.T) {
	resolver := NewCommissionResolver(DefaultFallbackCommissionRate)
	pc := pricing.Context{Event: &pricing.Event{ID: "evt", CommissionRate: rate(12.5)}}
	assert.Equal(t, resolver.Compute(pc, 33333), resolver.Compute(pc, 33333))
}

func TestCommissionResolverFromConfig(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Pricing.FallbackCommissionRate = "3.5"
	resolver, err := NewCommissionResolverFromConfig(cfg)
	require.NoError(t, err)

	r, m := resolver.ResolveRate(pricing.Context{})
	assert.Equal(t, "3.5", r.String())
	assert.Equal(t, types.CommissionModeIncluded, m)

	cfg.Pricing.FallbackCommissionRate = "five"
	_, err = NewCommissionResolverFromConfig(cfg)
	assert.Error(t, err)
}
