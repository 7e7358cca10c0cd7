package service

import (
	"github.com/tixello/settlement/internal/cache"
	"github.com/tixello/settlement/internal/config"
	"github.com/tixello/settlement/internal/domain/discountcode"
	"github.com/tixello/settlement/internal/domain/storedvalue"
	"github.com/tixello/settlement/internal/logger"
	"github.com/tixello/settlement/internal/publisher"
)

// ServiceParams holds common dependencies for services
type ServiceParams struct {
	Logger *logger.Logger
	Config *config.Configuration
	Cache  cache.Cache

	// Repositories
	StoredValueRepo  storedvalue.Repository
	DiscountCodeRepo discountcode.Repository

	// Publishers
	LedgerPublisher publisher.LedgerPublisher

	// Resolvers
	CommissionResolver CommissionResolver
	DiscountResolver   DiscountResolver
}

// NewServiceParams creates a new ServiceParams instance
func NewServiceParams(
	logger *logger.Logger,
	config *config.Configuration,
	cache cache.Cache,
	storedValueRepo storedvalue.Repository,
	discountCodeRepo discountcode.Repository,
	ledgerPublisher publisher.LedgerPublisher,
	commissionResolver CommissionResolver,
	discountResolver DiscountResolver,
) ServiceParams {
	return ServiceParams{
		Logger:             logger,
		Config:             config,
		Cache:              cache,
		StoredValueRepo:    storedValueRepo,
		DiscountCodeRepo:   discountCodeRepo,
		LedgerPublisher:    ledgerPublisher,
		CommissionResolver: commissionResolver,
		DiscountResolver:   discountResolver,
	}
}
