package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/TALOGEN777/cleanroom-flow-notify/config"
	"github.com/TALOGEN777/cleanroom-flow-notify/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, cfg config.ServerConfig) *gin.Engine {
	r := gin.Default()
	r.Use(mw.Metrics())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	// Directory data changes out of band; a short TTL is enough.
	cacheStore := cache.New(cfg.CacheTTL, 2*cfg.CacheTTL)
	shared := mw.Cache(cacheStore, cfg.CacheTTL, mw.RequestURIKey)
	perUser := mw.Cache(cacheStore, cfg.CacheTTL, mw.UserKey)

	// The WebSocket feed is long lived and stays outside the rate limiter.
	r.GET("/api/realtime", mw.Identity(), h.Realtime)

	api := r.Group("/api")
	api.Use(rateLimiter, mw.Identity())
	{
		api.GET("/rooms", h.ListRooms)
		api.GET("/rooms/:id", h.GetRoom)
		api.PATCH("/rooms/:id", h.UpdateRoom)

		api.GET("/notifications", h.ListNotifications)
		api.POST("/notifications", h.CreateNotifications)
		api.POST("/notifications/read_all", h.MarkAllRead)
		api.POST("/notifications/:id/read", h.MarkRead)

		api.GET("/users", shared, h.ListUsers)
		api.GET("/me", perUser, h.GetMe)

		api.GET("/subscriptions", h.GetSubscription)
		api.PUT("/subscriptions", h.PutSubscription)
		api.DELETE("/subscriptions", h.DeleteSubscription)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)
	}

	return r
}
