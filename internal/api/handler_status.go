package api

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/tqchen/yarn-ec2/pkg/types"
)

// StatusHandler serves the controller state
type StatusHandler struct {
	snapshots SnapshotSource
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(snapshots SnapshotSource) *StatusHandler {
	return &StatusHandler{
		snapshots: snapshots,
	}
}

// StatusResponse summarises the worker pool
type StatusResponse struct {
	ControllerID string              `json:"controller_id"`
	Ready        bool                `json:"ready"`
	Master       types.Master        `json:"master"`
	Target       types.ClusterTarget `json:"target"`
	Zone         string              `json:"zone"`
	LiveSpot     int                 `json:"live_spot"`
	OnDemand     int                 `json:"ondemand"`
	Shortfall    int                 `json:"shortfall"`
	Ticks        int64               `json:"ticks"`
	LastTickID   string              `json:"last_tick_id,omitempty"`
	LastTickAt   *time.Time          `json:"last_tick_at,omitempty"`
	LastError    string              `json:"last_error,omitempty"`
}

// RequestsQuery holds the filters of GET /api/v1/requests
type RequestsQuery struct {
	Kind string `query:"kind" validate:"omitempty,oneof=spot ondemand"`
}

// Status handles GET /api/v1/status
func (h *StatusHandler) Status(c echo.Context) error {
	snap := h.snapshots.Snapshot()
	if snap == nil {
		return ErrorServiceUnavailable(c, "Controller not started")
	}

	resp := &StatusResponse{
		ControllerID: snap.ControllerID,
		Ready:        snap.Ready(),
		Master:       snap.Master,
		Target:       snap.Target,
		Zone:         snap.Zone,
		LiveSpot:     snap.LiveSpot,
		OnDemand:     snap.OnDemand,
		Shortfall:    snap.Shortfall,
		Ticks:        snap.Ticks,
		LastTickID:   snap.LastTickID,
		LastError:    snap.LastError,
	}
	if snap.Ready() {
		at := snap.LastTickAt
		resp.LastTickAt = &at
	}

	return SuccessOK(c, resp)
}

// Prices handles GET /api/v1/prices
func (h *StatusHandler) Prices(c echo.Context) error {
	snap := h.snapshots.Snapshot()
	if snap == nil {
		return ErrorServiceUnavailable(c, "Controller not started")
	}

	return SuccessList(c, snap.Prices, len(snap.Prices))
}

// Requests handles GET /api/v1/requests
func (h *StatusHandler) Requests(c echo.Context) error {
	var q RequestsQuery
	if err := c.Bind(&q); err != nil {
		return ErrorBadRequest(c, "Invalid query")
	}
	if err := c.Validate(&q); err != nil {
		return ErrorValidation(c, err)
	}

	snap := h.snapshots.Snapshot()
	if snap == nil {
		return ErrorServiceUnavailable(c, "Controller not started")
	}

	requests := snap.Requests
	if q.Kind != "" {
		requests = snap.RequestsOfKind(types.RequestKind(q.Kind))
	}

	return SuccessList(c, requests, len(requests))
}
