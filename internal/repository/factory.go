package repository

import (
	"github.com/tixello/settlement/internal/config"
	"github.com/tixello/settlement/internal/domain/discountcode"
	"github.com/tixello/settlement/internal/domain/storedvalue"
	"github.com/tixello/settlement/internal/logger"
	"github.com/tixello/settlement/internal/postgres"
	"github.com/tixello/settlement/internal/repository/memory"
	postgresRepo "github.com/tixello/settlement/internal/repository/postgres"
	"github.com/tixello/settlement/internal/types"
)

// NewStoredValueRepository picks the ledger store configured by ledger.store.
// db is nil when the ledger runs in memory.
func NewStoredValueRepository(cfg *config.Configuration, db *postgres.DB, logger *logger.Logger) storedvalue.Repository {
	if cfg.Ledger.Store == types.LedgerStorePostgres && db != nil {
		return postgresRepo.NewStoredValueRepository(db, logger)
	}
	logger.Warnw("stored value ledger is running in memory, balances are lost on restart")
	return memory.NewStoredValueStore()
}

func NewDiscountCodeRepository(cfg *config.Configuration, db *postgres.DB, logger *logger.Logger) discountcode.Repository {
	if cfg.Ledger.Store == types.LedgerStorePostgres && db != nil {
		return postgresRepo.NewDiscountCodeRepository(db, logger)
	}
	return memory.NewDiscountCodeStore()
}
