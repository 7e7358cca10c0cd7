package api

import (
	v1 "github.com/tixello/settlement/internal/api/v1"
	"github.com/tixello/settlement/internal/logger"
	"github.com/tixello/settlement/internal/service"
)

// Handlers groups the v1 handlers mounted by NewRouter
type Handlers struct {
	Health       *v1.HealthHandler
	Settlement   *v1.SettlementHandler
	DiscountCode *v1.DiscountCodeHandler
	StoredValue  *v1.StoredValueHandler
}

func NewHandlers(
	settlementService service.SettlementService,
	discountCodeService service.DiscountCodeService,
	storedValueService service.StoredValueService,
	logger *logger.Logger,
) Handlers {
	return Handlers{
		Health:       v1.NewHealthHandler(logger),
		Settlement:   v1.NewSettlementHandler(settlementService, logger),
		DiscountCode: v1.NewDiscountCodeHandler(discountCodeService, logger),
		StoredValue:  v1.NewStoredValueHandler(storedValueService, logger),
	}
}
