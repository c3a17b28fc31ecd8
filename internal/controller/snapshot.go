package controller

import (
	"time"

	"github.com/samber/lo"
	"github.com/tqchen/yarn-ec2/pkg/types"
)

// Snapshot is a read-only view of the controller state, published after every tick
type Snapshot struct {
	ControllerID string              `json:"controller_id"`
	Master       types.Master        `json:"master"`
	Target       types.ClusterTarget `json:"target"`
	Zone         string              `json:"zone"`

	Prices   []types.PricePoint       `json:"prices"`
	Requests []types.ProvisionRequest `json:"requests"`

	LiveSpot  int `json:"live_spot"`
	OnDemand  int `json:"ondemand"`
	Shortfall int `json:"shortfall"`

	Ticks      int64     `json:"ticks"`
	LastTickID string    `json:"last_tick_id,omitempty"`
	LastTickAt time.Time `json:"last_tick_at,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

// Ready reports whether at least one tick has completed
func (s *Snapshot) Ready() bool {
	return s.LastTickID != ""
}

// RequestsOfKind returns the tracked requests of one kind
func (s *Snapshot) RequestsOfKind(kind types.RequestKind) []types.ProvisionRequest {
	return lo.Filter(s.Requests, func(req types.ProvisionRequest, _ int) bool {
		return req.Kind == kind
	})
}
