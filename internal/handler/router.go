package handler

import (
	"time"

	"github.com/SergeiKhy/deeplink-service/internal/config"
	"github.com/SergeiKhy/deeplink-service/internal/middleware"
	"github.com/SergeiKhy/deeplink-service/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func NewRouter(
	deepLinkService service.DeepLinkService,
	referralService service.ReferralService,
	clickProcessor service.ClickProcessor,
	cfg config.DeepLinkConfig,
	rateLimiter *middleware.RateLimiter,
	apiKeyMiddleware gin.HandlerFunc,
	logger *zap.Logger,
) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.SetHTMLTemplate(redirectTemplate)

	// Middleware для логгирования
	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("Request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.String("ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
		)
	})

	router.GET("/health", HealthCheck)

	// Манифесты верификации доменов, без лимитов
	deepLinkHandler := NewDeepLinkHandler(deepLinkService, clickProcessor, cfg, logger)
	wellKnown := router.Group("/.well-known")
	{
		wellKnown.GET("/apple-app-site-association", deepLinkHandler.AppleAppSiteAssociation)
		wellKnown.GET("/assetlinks.json", deepLinkHandler.AssetLinks)
	}

	if rateLimiter != nil {
		router.Use(rateLimiter.Middleware())
	}

	// Клик по ссылке
	router.GET("/link", deepLinkHandler.HandleDeepLink)
	router.GET("/link/*path", deepLinkHandler.HandleDeepLink)

	referralHandler := NewReferralHandler(referralService, logger)

	// API v.1
	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", HealthCheck)

		// Вызываются приложением при первом запуске
		v1.GET("/pending-links/device/:deviceId", deepLinkHandler.GetPendingLink)
		v1.DELETE("/pending-links/device/:deviceId", deepLinkHandler.DeletePendingLink)
		v1.GET("/pending-links/deferred", deepLinkHandler.GetDeferredLink)
		v1.POST("/referrals", referralHandler.TrackReferral)

		// Чтение атрибуции и статистики только с API ключом
		admin := v1.Group("")
		if apiKeyMiddleware != nil {
			admin.Use(apiKeyMiddleware)
			// Утёкший ключ не обходит лимит сменой адреса
			if rateLimiter != nil {
				admin.Use(rateLimiter.MiddlewareWithKey(middleware.RateLimitKey))
			}
		}
		admin.GET("/referrals/:referrerId", referralHandler.GetReferrals)
		admin.GET("/users/:userId/referral", referralHandler.GetUserReferral)
		admin.GET("/stats", deepLinkHandler.GetStats)
	}

	return router
}
