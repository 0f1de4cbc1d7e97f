package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"lunex-backend/internal/gate"
)

type scanRequest struct {
	CredentialID string `json:"credentialId"`
	MachineID    string `json:"machineId"`
}

// ScanRFID handles a badge scan relayed by the hardware bridge. The bridge
// only acts on an explicit grant, so malformed input gets a DENY rather
// than a 4xx the firmware would not parse.
func (h *Handler) ScanRFID(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.CredentialID == "" || req.MachineID == "" {
		c.JSON(http.StatusOK, gate.Response{
			Action:     gate.ActionDeny,
			ReasonCode: gate.ReasonInternalError,
		})
		return
	}

	c.JSON(http.StatusOK, h.gate.Scan(c.Request.Context(), req.CredentialID, req.MachineID))
}
