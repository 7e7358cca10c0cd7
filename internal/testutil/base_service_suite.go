package testutil

import (
	"context"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/tixello/settlement/internal/cache"
	"github.com/tixello/settlement/internal/config"
	"github.com/tixello/settlement/internal/logger"
	"github.com/tixello/settlement/internal/publisher"
	"github.com/tixello/settlement/internal/repository/memory"
	"github.com/tixello/settlement/internal/types"
	"github.com/tixello/settlement/internal/validator"
)

// Stores holds the in-memory repositories of a test
type Stores struct {
	StoredValueRepo  *memory.StoredValueStore
	DiscountCodeRepo *memory.DiscountCodeStore
}

// BaseServiceTestSuite provides common functionality for all service test suites
type BaseServiceTestSuite struct {
	suite.Suite
	ctx       context.Context
	stores    Stores
	pubSub    *InMemoryPubSub
	publisher publisher.LedgerPublisher
	cache     cache.Cache
	logger    *logger.Logger
	config    *config.Configuration
	now       time.Time
}

// SetupSuite is called once before running the tests in the suite
func (s *BaseServiceTestSuite) SetupSuite() {
	validator.NewValidator()

	cfg := config.GetDefaultConfig()
	cfg.Logging.Level = types.LogLevelInfo
	cfg.Ledger.InitialBackoff = time.Millisecond
	cfg.Ledger.MaxBackoff = 5 * time.Millisecond

	var err error
	s.config = cfg
	s.logger, err = logger.NewLogger(cfg)
	if err != nil {
		s.T().Fatalf("failed to create logger: %v", err)
	}
}

// SetupTest is called before each test
func (s *BaseServiceTestSuite) SetupTest() {
	s.ctx = SetupContext()
	s.stores = Stores{
		StoredValueRepo:  memory.NewStoredValueStore(),
		DiscountCodeRepo: memory.NewDiscountCodeStore(),
	}
	s.pubSub = NewInMemoryPubSub()
	s.publisher = publisher.NewLedgerPublisher(s.pubSub, s.config, s.logger)
	s.cache = cache.NewInMemoryCache(s.config)
	s.now = time.Now().UTC()
}

// TearDownTest is called after each test
func (s *BaseServiceTestSuite) TearDownTest() {
	s.stores.StoredValueRepo.Clear()
	s.stores.DiscountCodeRepo.Clear()
	_ = s.pubSub.Close()
}

func (s *BaseServiceTestSuite) GetContext() context.Context {
	return s.ctx
}

func (s *BaseServiceTestSuite) GetStores() Stores {
	return s.stores
}

func (s *BaseServiceTestSuite) GetPubSub() *InMemoryPubSub {
	return s.pubSub
}

func (s *BaseServiceTestSuite) GetPublisher() publisher.LedgerPublisher {
	return s.publisher
}

func (s *BaseServiceTestSuite) GetCache() cache.Cache {
	return s.cache
}

func (s *BaseServiceTestSuite) GetLogger() *logger.Logger {
	return s.logger
}

func (s *BaseServiceTestSuite) GetConfig() *config.Configuration {
	return s.config
}

func (s *BaseServiceTestSuite) GetNow() time.Time {
	return s.now
}
