package mw

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Headers injected by the upstream auth layer.
const (
	headerUserID = "X-User-ID"
	headerRole   = "X-User-Role"
)

// Context keys set by Identity.
const (
	CtxUserID = "userID"
	CtxRole   = "role"
)

// Staff roles recognized from the upstream auth layer.
const (
	RoleUser   = "user"
	RoleWarden = "warden"
	RoleAdmin  = "admin"
)

// Identity extracts the caller identity and role that the upstream auth
// layer injects as headers. Authentication itself happens there; this
// middleware only refuses requests that arrive without an identity.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(headerUserID)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing caller identity"})
			return
		}
		role := c.GetHeader(headerRole)
		if role == "" {
			role = RoleUser
		}
		c.Set(CtxUserID, userID)
		c.Set(CtxRole, role)
		c.Next()
	}
}

// CallerID returns the authenticated caller's user ID.
func CallerID(c *gin.Context) string {
	return c.GetString(CtxUserID)
}

// IsStaff reports whether the caller holds a staff role.
func IsStaff(c *gin.Context) bool {
	role := c.GetString(CtxRole)
	return role == RoleWarden || role == RoleAdmin
}

// RequireStaff aborts with 403 for non-staff callers.
func RequireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsStaff(c) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "staff role required"})
			return
		}
		c.Next()
	}
}
