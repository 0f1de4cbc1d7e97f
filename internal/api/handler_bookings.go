package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"lunex-backend/internal/domain"
	"lunex-backend/internal/model"
	"lunex-backend/internal/mw"
)

type createBookingRequest struct {
	MachineCode     string    `json:"machineCode" binding:"required"`
	StartTime       time.Time `json:"startTime" binding:"required"`
	DurationMinutes int       `json:"durationMinutes" binding:"required"`
}

// CreateBooking reserves a slot for the caller.
func (h *Handler) CreateBooking(c *gin.Context) {
	var req createBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	b, err := h.allocator.Create(c.Request.Context(), mw.CallerID(c), req.MachineCode, req.StartTime, req.DurationMinutes)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewBooking(b))
}

// GetMyBookings lists the caller's bookings, optionally filtered by status.
func (h *Handler) GetMyBookings(c *gin.Context) {
	status := model.BookingStatus(c.Query("status"))
	bookings, err := h.store.UserBookings(c.Request.Context(), mw.CallerID(c), status)
	if err != nil {
		respondErr(c, err)
		return
	}

	views := make([]bookingView, len(bookings))
	for i := range bookings {
		views[i] = viewBooking(&bookings[i])
	}
	c.JSON(http.StatusOK, gin.H{"bookings": views})
}

type cancelBookingRequest struct {
	Reason string `json:"reason"`
}

// CancelBooking cancels a confirmed booking. Owners cancel their own;
// staff may cancel anyone's.
func (h *Handler) CancelBooking(c *gin.Context) {
	var req cancelBookingRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	b, err := h.allocator.Cancel(c.Request.Context(), c.Param("id"), mw.CallerID(c), mw.IsStaff(c), req.Reason)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, viewBooking(b))
}

// GetSlots returns the occupied blocks of one machine on one day, so clients
// can render the free gaps.
func (h *Handler) GetSlots(c *gin.Context) {
	date, err := time.Parse("2006-01-02", c.Param("date"))
	if err != nil {
		respondErr(c, domain.Validationf("date must be YYYY-MM-DD"))
		return
	}

	machine, blocks, err := h.allocator.Slots(c.Request.Context(), c.Param("code"), date)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"machine":  viewMachine(machine),
		"date":     c.Param("date"),
		"occupied": blocks,
	})
}
