package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tixello/settlement/internal/api"
	"github.com/tixello/settlement/internal/cache"
	"github.com/tixello/settlement/internal/config"
	"github.com/tixello/settlement/internal/logger"
	"github.com/tixello/settlement/internal/postgres"
	"github.com/tixello/settlement/internal/publisher"
	"github.com/tixello/settlement/internal/pubsub"
	"github.com/tixello/settlement/internal/pubsub/kafka"
	"github.com/tixello/settlement/internal/pubsub/memory"
	pubsubRouter "github.com/tixello/settlement/internal/pubsub/router"
	"github.com/tixello/settlement/internal/repository"
	"github.com/tixello/settlement/internal/service"
	"github.com/tixello/settlement/internal/types"
	"github.com/tixello/settlement/internal/validator"
	"go.uber.org/fx"
)

func init() {
	// Set UTC timezone for the entire application
	time.Local = time.UTC
}

func main() {
	var opts []fx.Option

	// Core dependencies
	opts = append(opts,
		fx.Provide(
			// Validator
			validator.NewValidator,

			// Config
			config.NewConfig,

			// Logger
			logger.NewLogger,

			// Cache
			cache.NewInMemoryCache,

			// Postgres, nil when the ledger runs in memory
			provideDB,

			// PubSub
			providePubSub,
			providePublisher,
			pubsubRouter.NewRouter,

			// Publishers
			publisher.NewLedgerPublisher,

			// Repositories
			repository.NewStoredValueRepository,
			repository.NewDiscountCodeRepository,
		),
	)

	// Service layer
	opts = append(opts,
		fx.Provide(
			service.NewCommissionResolverFromConfig,
			service.NewDiscountResolver,
			service.NewServiceParams,

			service.NewStoredValueService,
			service.NewDiscountCodeService,
			service.NewSettlementService,
			service.NewLedgerStreamService,
		),
	)

	// API
	opts = append(opts,
		fx.Provide(
			api.NewHandlers,
			api.NewRouter,
		),
		fx.Invoke(
			startServer,
		),
	)

	app := fx.New(opts...)
	app.Run()
}

func provideDB(lc fx.Lifecycle, cfg *config.Configuration, log *logger.Logger) (*postgres.DB, error) {
	if cfg.Ledger.Store != types.LedgerStorePostgres {
		return nil, nil
	}

	db, err := postgres.NewDB(cfg, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			db.Close()
			return nil
		},
	})
	return db, nil
}

func providePubSub(lc fx.Lifecycle, cfg *config.Configuration, log *logger.Logger) (pubsub.PubSub, error) {
	var (
		ps  pubsub.PubSub
		err error
	)
	switch cfg.PubSub.Backend {
	case types.PubSubBackendKafka:
		ps, err = kafka.NewPubSub(cfg, log)
		if err != nil {
			return nil, err
		}
	default:
		ps = memory.NewPubSub(log)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return ps.Close()
		},
	})
	return ps, nil
}

func providePublisher(ps pubsub.PubSub) pubsub.Publisher {
	return ps
}

func startServer(
	lc fx.Lifecycle,
	cfg *config.Configuration,
	r *gin.Engine,
	router *pubsubRouter.Router,
	ledgerStream service.LedgerStreamService,
	log *logger.Logger,
) {
	startAPIServer(lc, r, cfg, log)
	startMessageRouter(lc, router, ledgerStream, cfg, log)
}

func startAPIServer(
	lc fx.Lifecycle,
	r *gin.Engine,
	cfg *config.Configuration,
	log *logger.Logger,
) {
	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting API server",
				"address", cfg.Server.Address,
				"mode", cfg.Deployment.Mode,
				"ledger_store", cfg.Ledger.Store,
			)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatalf("Failed to start server: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down server")
			return srv.Shutdown(ctx)
		},
	})
}

func startMessageRouter(
	lc fx.Lifecycle,
	router *pubsubRouter.Router,
	ledgerStream service.LedgerStreamService,
	cfg *config.Configuration,
	log *logger.Logger,
) {
	// Register handlers before starting the router
	ledgerStream.RegisterHandler(router, cfg)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("starting message router")
			go func() {
				if err := router.Run(context.Background()); err != nil {
					log.Errorw("message router failed", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("stopping message router")
			return router.Close()
		},
	})
}
