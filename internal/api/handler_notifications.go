package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"lunex-backend/internal/domain"
	"lunex-backend/internal/model"
	"lunex-backend/internal/mw"
)

const notificationPageSize = 50

// GetNotifications lists the caller's recent notifications.
func (h *Handler) GetNotifications(c *gin.Context) {
	notifications, err := h.store.NotificationsForUser(c.Request.Context(), mw.CallerID(c), notificationPageSize)
	if err != nil {
		respondErr(c, err)
		return
	}

	views := make([]notificationView, len(notifications))
	for i := range notifications {
		views[i] = viewNotification(&notifications[i])
	}
	c.JSON(http.StatusOK, gin.H{"notifications": views})
}

// MarkNotificationRead marks one of the caller's notifications as read.
func (h *Handler) MarkNotificationRead(c *gin.Context) {
	ok, err := h.store.MarkNotificationRead(c.Request.Context(), c.Param("id"), mw.CallerID(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	if !ok {
		respondErr(c, domain.NotFoundf("notification not found"))
		return
	}
	c.Status(http.StatusNoContent)
}

// MarkAllNotificationsRead marks every unread notification of the caller.
func (h *Handler) MarkAllNotificationsRead(c *gin.Context) {
	updated, err := h.store.MarkAllNotificationsRead(c.Request.Context(), mw.CallerID(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

// GetVAPIDPublicKey returns the server's VAPID public key for push
// subscription on the client.
func (h *Handler) GetVAPIDPublicKey(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"publicKey": h.vapidKey})
}

type putSubscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	P256DH   string `json:"p256dh" binding:"required"`
	Auth     string `json:"auth" binding:"required"`
}

// PutSubscription stores or refreshes the caller's push subscription.
func (h *Handler) PutSubscription(c *gin.Context) {
	var req putSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sub := &model.PushSubscription{
		Endpoint: req.Endpoint,
		UserID:   mw.CallerID(c),
		P256DH:   req.P256DH,
		Auth:     req.Auth,
	}
	if err := h.store.SaveSubscription(c.Request.Context(), sub); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

type deleteSubscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// DeleteSubscription removes the caller's push subscription.
func (h *Handler) DeleteSubscription(c *gin.Context) {
	var req deleteSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.DeleteSubscription(c.Request.Context(), req.Endpoint, mw.CallerID(c)); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
