// README: Ride handlers for request, accept, start, complete, cancel, get, and history.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rideshare/internal/http/middleware"
	"rideshare/internal/modules/ride"
	"rideshare/internal/types"
)

type RideHandler struct {
	rides *ride.Service
}

func NewRideHandler(svc *ride.Service) *RideHandler {
	return &RideHandler{rides: svc}
}

type requestRideReq struct {
	Pickup  types.Location `json:"pickup"`
	Dropoff types.Location `json:"dropoff"`
	Notes   string         `json:"notes"`
}

type completeRideReq struct {
	Fare *float64 `json:"fare"`
}

type cancelRideReq struct {
	Reason string `json:"reason"`
}

func (h *RideHandler) Request(c *gin.Context) {
	var req requestRideReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	r, err := h.rides.Request(c.Request.Context(), middleware.Actor(c), ride.RequestCommand{
		Pickup:  req.Pickup,
		Dropoff: req.Dropoff,
		Notes:   req.Notes,
	})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, r)
}

func (h *RideHandler) Accept(c *gin.Context) {
	r, err := h.rides.Accept(c.Request.Context(), middleware.Actor(c), ride.AcceptCommand{
		RideID: types.ID(c.Param("id")),
	})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *RideHandler) Start(c *gin.Context) {
	r, err := h.rides.Start(c.Request.Context(), middleware.Actor(c), ride.StartCommand{
		RideID: types.ID(c.Param("id")),
	})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *RideHandler) Complete(c *gin.Context) {
	var req completeRideReq
	if err := bindOptionalJSON(c, &req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	r, err := h.rides.Complete(c.Request.Context(), middleware.Actor(c), ride.CompleteCommand{
		RideID: types.ID(c.Param("id")),
		Fare:   req.Fare,
	})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *RideHandler) Cancel(c *gin.Context) {
	var req cancelRideReq
	if err := bindOptionalJSON(c, &req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	r, err := h.rides.Cancel(c.Request.Context(), middleware.Actor(c), ride.CancelCommand{
		RideID: types.ID(c.Param("id")),
		Reason: req.Reason,
	})
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *RideHandler) Get(c *gin.Context) {
	r, err := h.rides.Get(c.Request.Context(), middleware.Actor(c), types.ID(c.Param("id")))
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *RideHandler) History(c *gin.Context) {
	rides, err := h.rides.History(c.Request.Context(), middleware.Actor(c))
	if err != nil {
		writeRideError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"rides": rides})
}
