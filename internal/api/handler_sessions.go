package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"lunex-backend/internal/domain"
	"lunex-backend/internal/model"
	"lunex-backend/internal/mw"
)

// GetActiveSession returns the caller's running or paused session, if any.
func (h *Handler) GetActiveSession(c *gin.Context) {
	sess, remaining, err := h.sessions.Active(c.Request.Context(), mw.CallerID(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	if sess == nil {
		c.JSON(http.StatusOK, gin.H{"session": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session":          viewSession(sess),
		"remainingMinutes": remaining,
	})
}

// ExtendSession grants the session's single extension.
func (h *Handler) ExtendSession(c *gin.Context) {
	sess, err := h.sessions.Extend(c.Request.Context(), c.Param("id"), mw.CallerID(c), mw.IsStaff(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, viewSession(sess))
}

// EndSession lets the session owner finish early. Staff use force-stop.
func (h *Handler) EndSession(c *gin.Context) {
	ctx := c.Request.Context()
	sess, err := h.store.SessionByID(ctx, c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	if sess.UserID != mw.CallerID(c) && !mw.IsStaff(c) {
		respondErr(c, domain.Forbiddenf("not your session"))
		return
	}

	sess, err = h.sessions.End(ctx, sess.ID, model.ActorUser)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, viewSession(sess))
}

// PauseSession suspends a running session. Staff only.
func (h *Handler) PauseSession(c *gin.Context) {
	sess, err := h.sessions.Pause(c.Request.Context(), c.Param("id"), nil)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, viewSession(sess))
}

// ResumeSession resumes a paused session, shifting its end by the time
// spent paused. Staff only.
func (h *Handler) ResumeSession(c *gin.Context) {
	sess, err := h.sessions.Resume(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, viewSession(sess))
}

// ForceStopSession terminates a session immediately. Staff only.
func (h *Handler) ForceStopSession(c *gin.Context) {
	sess, err := h.sessions.ForceStop(c.Request.Context(), c.Param("id"), model.ActorStaff)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, viewSession(sess))
}
