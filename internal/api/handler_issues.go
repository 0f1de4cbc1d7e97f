package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"lunex-backend/internal/domain"
	"lunex-backend/internal/model"
	"lunex-backend/internal/mw"
)

type reportIssueRequest struct {
	MachineCode string  `json:"machineCode" binding:"required"`
	BookingID   *string `json:"bookingId"`
	Type        string  `json:"type" binding:"required"`
	Description string  `json:"description"`
}

var knownIssueTypes = map[model.IssueType]bool{
	model.IssueWater:        true,
	model.IssuePower:        true,
	model.IssueMachineFault: true,
	model.IssueOther:        true,
}

// ReportIssue files a problem report against a machine. If the reporter has
// a running session there, it is paused.
func (h *Handler) ReportIssue(c *gin.Context) {
	var req reportIssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	typ := model.IssueType(req.Type)
	if !knownIssueTypes[typ] {
		respondErr(c, domain.Validationf("unknown issue type %q", req.Type))
		return
	}

	issue, err := h.issues.Report(c.Request.Context(), mw.CallerID(c), req.MachineCode, req.BookingID, typ, req.Description)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewIssue(issue))
}

// VerifyIssue confirms a reported issue. Staff only.
func (h *Handler) VerifyIssue(c *gin.Context) {
	issue, err := h.issues.Verify(c.Request.Context(), c.Param("id"), mw.CallerID(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, viewIssue(issue))
}

type closeIssueRequest struct {
	Note string `json:"note"`
}

// ResolveIssue closes an issue as fixed, resuming any session it paused.
// Staff only.
func (h *Handler) ResolveIssue(c *gin.Context) {
	var req closeIssueRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	issue, err := h.issues.Resolve(c.Request.Context(), c.Param("id"), mw.CallerID(c), req.Note)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, viewIssue(issue))
}

// DismissIssue closes an issue as not-a-problem. Staff only.
func (h *Handler) DismissIssue(c *gin.Context) {
	var req closeIssueRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	issue, err := h.issues.Dismiss(c.Request.Context(), c.Param("id"), mw.CallerID(c), req.Note)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, viewIssue(issue))
}

// OfferRebook creates a priority rebook offer for the user whose session an
// issue interrupted. Staff only.
func (h *Handler) OfferRebook(c *gin.Context) {
	offer, err := h.negotiator.Offer(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewOffer(offer))
}

type respondRebookRequest struct {
	Accept *bool `json:"accept" binding:"required"`
}

// RespondRebook records the user's answer to a priority rebook offer. On
// accept the replacement booking is returned alongside the offer.
func (h *Handler) RespondRebook(c *gin.Context) {
	var req respondRebookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	offer, newBooking, err := h.negotiator.Respond(c.Request.Context(), c.Param("id"), mw.CallerID(c), *req.Accept)
	if err != nil {
		respondErr(c, err)
		return
	}

	resp := gin.H{"offer": viewOffer(offer)}
	if newBooking != nil {
		resp["booking"] = viewBooking(newBooking)
	}
	c.JSON(http.StatusOK, resp)
}
