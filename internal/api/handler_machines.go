package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"lunex-backend/internal/domain"
	"lunex-backend/internal/model"
	"lunex-backend/internal/store"
)

// GetMachines lists every machine with its live status.
func (h *Handler) GetMachines(c *gin.Context) {
	machines, err := h.store.Machines(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}

	views := make([]machineView, len(machines))
	for i := range machines {
		views[i] = viewMachine(&machines[i])
	}
	c.JSON(http.StatusOK, gin.H{"machines": views})
}

// GetMachine returns one machine by its code.
func (h *Handler) GetMachine(c *gin.Context) {
	m, err := h.store.MachineByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, viewMachine(m))
}

type createMachineRequest struct {
	Code       string `json:"code" binding:"required"`
	Name       string `json:"name" binding:"required"`
	Location   string `json:"location"`
	BridgeAddr string `json:"bridgeAddr"`
	RelayPin   int    `json:"relayPin"`
}

// CreateMachine registers a new machine. Staff only.
func (h *Handler) CreateMachine(c *gin.Context) {
	var req createMachineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if _, err := h.store.MachineByCode(ctx, req.Code); err == nil {
		respondErr(c, domain.Conflictf("machine %s already exists", req.Code))
		return
	} else if !store.NotFound(err) {
		respondErr(c, err)
		return
	}

	m := &model.Machine{
		Code:       req.Code,
		Name:       req.Name,
		Location:   req.Location,
		BridgeAddr: req.BridgeAddr,
		RelayPin:   req.RelayPin,
		Status:     model.MachineAvailable,
	}
	if err := h.store.SaveMachine(ctx, m); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewMachine(m))
}

type updateMachineStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Note   string `json:"note"`
}

// settableMachineStatus lists statuses staff may set directly. in-use is
// owned by the session lifecycle and never set by hand.
var settableMachineStatus = map[model.MachineStatus]bool{
	model.MachineAvailable:   true,
	model.MachineMaintenance: true,
	model.MachineRepair:      true,
	model.MachineDisabled:    true,
}

// UpdateMachineStatus changes a machine's operational status. Staff only.
func (h *Handler) UpdateMachineStatus(c *gin.Context) {
	var req updateMachineStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	next := model.MachineStatus(req.Status)
	if !settableMachineStatus[next] {
		respondErr(c, domain.Validationf("status %q cannot be set directly", req.Status))
		return
	}

	ctx := c.Request.Context()
	m, err := h.store.MachineByCode(ctx, c.Param("code"))
	if err != nil {
		respondErr(c, err)
		return
	}

	unlock := h.store.LockMachine(m.ID)
	defer unlock()

	m, err = h.store.MachineByID(ctx, m.ID)
	if err != nil {
		respondErr(c, err)
		return
	}
	if m.Status == model.MachineInUse {
		respondErr(c, domain.Conflictf("machine %s has a running session; stop it first", m.Code))
		return
	}

	m.Status = next
	m.MaintenanceNote = req.Note
	if err := h.store.SaveMachine(ctx, m); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, viewMachine(m))
}

// Heartbeat records a liveness ping from a machine's hardware bridge.
func (h *Handler) Heartbeat(c *gin.Context) {
	ctx := c.Request.Context()
	m, err := h.store.MachineByCode(ctx, c.Param("code"))
	if err != nil {
		respondErr(c, err)
		return
	}
	if err := h.store.TouchHeartbeat(ctx, m.ID, time.Now().UTC()); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
