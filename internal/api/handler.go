package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"lunex-backend/internal/booking"
	"lunex-backend/internal/domain"
	"lunex-backend/internal/gate"
	"lunex-backend/internal/issue"
	"lunex-backend/internal/rebook"
	"lunex-backend/internal/session"
	"lunex-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store      *store.Store
	allocator  *booking.Allocator
	sessions   *session.Manager
	gate       *gate.Gate
	issues     *issue.Tracker
	negotiator *rebook.Negotiator
	vapidKey   string
}

// NewHandler creates a new API handler.
func NewHandler(s *store.Store, a *booking.Allocator, m *session.Manager, g *gate.Gate, t *issue.Tracker, n *rebook.Negotiator, vapidPublicKey string) *Handler {
	return &Handler{
		store:      s,
		allocator:  a,
		sessions:   m,
		gate:       g,
		issues:     t,
		negotiator: n,
		vapidKey:   vapidPublicKey,
	}
}

// respondErr maps a domain error to its HTTP status; bare record-not-found
// becomes a 404 and anything else a 500.
func respondErr(c *gin.Context, err error) {
	var de *domain.Error
	if errors.As(err, &de) {
		c.JSON(domain.HTTPStatus(err), gin.H{"error": de.Message, "code": de.Code})
		return
	}
	if store.NotFound(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
