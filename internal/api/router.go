package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/devnight0507/reverse-bot/config"
	"github.com/devnight0507/reverse-bot/internal/mw"
	"github.com/devnight0507/reverse-bot/internal/store"
)

// NewRouter creates and configures the operator API router.
func NewRouter(s store.Store, webpushOptions *webpush.Options, monitor MonitorStatus, cfg config.ServerConfig) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(s, webpushOptions, monitor)

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	cacheTTL := time.Duration(cfg.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(cacheTTL, 2*cacheTTL)
	caching := mw.Cache(cacheStore, cacheTTL)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/applicants", handler.ListApplicants)
		api.POST("/applicants", handler.CreateApplicant)
		api.GET("/applicants/:id", handler.GetApplicant)
		api.GET("/applicants/:id/attempts", handler.GetApplicantAttempts)
		api.GET("/applicants/:id/events", handler.GetApplicantEvents)

		// Status is polled by the dashboard, cache it briefly.
		api.GET("/monitor/status", caching, handler.GetMonitorStatus)
		api.POST("/monitor/start", handler.StartMonitor)
		api.POST("/monitor/stop", handler.StopMonitor)

		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
