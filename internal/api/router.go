package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tixello/settlement/internal/config"
	"github.com/tixello/settlement/internal/logger"
	"github.com/tixello/settlement/internal/rest/middleware"
	"github.com/tixello/settlement/internal/types"
)

func NewRouter(handlers Handlers, cfg *config.Configuration, logger *logger.Logger) *gin.Engine {
	if cfg.Deployment.Mode != types.ModeLocal {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware,
		middleware.CORSMiddleware,
		middleware.MetricsMiddleware,
		middleware.ErrorHandler(logger),
	)

	router.GET("/health", handlers.Health.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1Group := router.Group("/v1")
	v1Group.Use(middleware.TenantMiddleware)
	registerV1Routes(v1Group, handlers)

	return router
}

func registerV1Routes(router *gin.RouterGroup, handlers Handlers) {
	settlements := router.Group("/settlements")
	{
		settlements.POST("", handlers.Settlement.Settle)
		settlements.POST("/quote", handlers.Settlement.Quote)
	}

	discountCodes := router.Group("/discount-codes")
	{
		discountCodes.POST("", handlers.DiscountCode.Create)
		discountCodes.POST("/validate", handlers.DiscountCode.Validate)
		discountCodes.GET("/:id", handlers.DiscountCode.Get)
		discountCodes.POST("/:id/usages/:usage_id/reverse", handlers.DiscountCode.ReverseUsage)
	}

	accounts := router.Group("/stored-value/accounts")
	{
		accounts.POST("", handlers.StoredValue.Issue)
		accounts.GET("/code/:code", handlers.StoredValue.GetByCode)
		accounts.GET("/:id", handlers.StoredValue.Get)
		accounts.GET("/:id/transactions", handlers.StoredValue.ListTransactions)
		accounts.GET("/:id/reconcile", handlers.StoredValue.Reconcile)
		accounts.POST("/:id/activate", handlers.StoredValue.Activate)
		accounts.POST("/:id/redeem", handlers.StoredValue.Redeem)
		accounts.POST("/:id/refund", handlers.StoredValue.Refund)
		accounts.POST("/:id/adjust", handlers.StoredValue.Adjust)
		accounts.POST("/:id/revoke", handlers.StoredValue.Revoke)
		accounts.POST("/:id/expire", handlers.StoredValue.Expire)
	}
}
