package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"lunex-backend/config"
	"lunex-backend/internal/mw"
)

// NewRouter creates and configures the Gin router.
func NewRouter(h *Handler, srv config.ServerConfig) *gin.Engine {
	r := gin.Default()

	rateLimiter := mw.RateLimiter(rate.Limit(srv.RateLimitPerSec), srv.RateLimitBurst)

	// Machine and slot listings change on booking writes anyway, so a short
	// cache window keeps them fresh while absorbing dashboard polling.
	cacheTTL := time.Duration(srv.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(cacheTTL, 2*cacheTTL)
	caching := mw.Cache(cacheStore, cacheTTL)

	api := r.Group("/api")
	api.Use(rateLimiter)

	// The hardware bridge authenticates with its scan payload, not with a
	// user identity, so these routes sit outside the Identity middleware.
	api.POST("/rfid/scan", h.ScanRFID)
	api.POST("/machines/:code/heartbeat", h.Heartbeat)

	authed := api.Group("")
	authed.Use(mw.Identity())
	{
		authed.GET("/machines", caching, h.GetMachines)
		authed.GET("/machines/:code", h.GetMachine)

		authed.POST("/bookings", h.CreateBooking)
		authed.GET("/bookings/my", h.GetMyBookings)
		authed.GET("/bookings/slots/:code/:date", caching, h.GetSlots)
		authed.PUT("/bookings/:id/cancel", h.CancelBooking)

		authed.GET("/sessions/active", h.GetActiveSession)
		authed.POST("/sessions/:id/extend", h.ExtendSession)
		authed.POST("/sessions/:id/end", h.EndSession)

		authed.POST("/issues", h.ReportIssue)
		authed.PUT("/rebooks/:id/respond", h.RespondRebook)

		authed.GET("/notifications", h.GetNotifications)
		authed.PUT("/notifications/:id/read", h.MarkNotificationRead)
		authed.POST("/notifications/read-all", h.MarkAllNotificationsRead)
		authed.GET("/vapid_public_key", h.GetVAPIDPublicKey)
		authed.PUT("/subscriptions", h.PutSubscription)
		authed.DELETE("/subscriptions", h.DeleteSubscription)
	}

	staff := authed.Group("")
	staff.Use(mw.RequireStaff())
	{
		staff.POST("/machines", h.CreateMachine)
		staff.PUT("/machines/:code/status", h.UpdateMachineStatus)

		staff.POST("/sessions/:id/pause", h.PauseSession)
		staff.POST("/sessions/:id/resume", h.ResumeSession)
		staff.POST("/sessions/:id/force-stop", h.ForceStopSession)

		staff.PUT("/issues/:id/verify", h.VerifyIssue)
		staff.PUT("/issues/:id/resolve", h.ResolveIssue)
		staff.PUT("/issues/:id/dismiss", h.DismissIssue)
		staff.POST("/issues/:id/rebook", h.OfferRebook)
	}

	return r
}
