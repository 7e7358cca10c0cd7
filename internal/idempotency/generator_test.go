package idempotency

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateKeyIsStable(t *testing.T) {
	g := NewGenerator()
	params := map[string]interface{}{
		"order_ref":  "ord_1",
		"account_id": "sva_1",
	}

	key := g.GenerateKey(ScopeSettlementRedeem, params)
	assert.Equal(t, key, g.GenerateKey(ScopeSettlementRedeem, map[string]interface{}{
		"account_id": "sva_1",
		"order_ref":  "ord_1",
	}))
	assert.True(t, g.ValidateKey(ScopeSettlementRedeem, params, key))
	assert.NotEqual(t, key, g.GenerateKey(ScopeSettlementRefund, params))
	assert.Contains(t, key, string(ScopeSettlementRedeem)+"-")
}
