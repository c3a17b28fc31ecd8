package ledger

import (
	"fmt"
	"sort"

	"github.com/samber/lo"
	"github.com/tqchen/yarn-ec2/pkg/types"
)

// Ledger maps provisioning request ids to their last-known state.
// It is owned by the reconciliation loop and is not safe for concurrent use.
type Ledger struct {
	requests map[string]*types.ProvisionRequest
}

// New creates an empty ledger
func New() *Ledger {
	return &Ledger{
		requests: make(map[string]*types.ProvisionRequest),
	}
}

// Register starts tracking a request
func (l *Ledger) Register(req types.ProvisionRequest) error {
	if _, exists := l.requests[req.ID]; exists {
		return fmt.Errorf("register %s request %s: %w", req.Kind, req.ID, ErrDuplicateKey)
	}

	if req.State == "" {
		req.State = req.Kind.InitialState()
	}

	l.requests[req.ID] = &req
	return nil
}

// Observe records the latest state of a request and returns the transition when it differs
// from the stored one. Unknown ids are ignored.
func (l *Ledger) Observe(id string, state types.RequestState) (types.Transition, bool) {
	req, exists := l.requests[id]
	if !exists || req.State == state {
		return types.Transition{}, false
	}

	transition := types.Transition{
		RequestID: id,
		Kind:      req.Kind,
		From:      req.State,
		To:        state,
	}
	req.State = state

	return transition, true
}

// Evict stops tracking a request
func (l *Ledger) Evict(id string) {
	delete(l.requests, id)
}

// Get returns a copy of a tracked request
func (l *Ledger) Get(id string) (types.ProvisionRequest, bool) {
	req, exists := l.requests[id]
	if !exists {
		return types.ProvisionRequest{}, false
	}
	return *req, true
}

// CountByState counts tracked requests matching pred
func (l *Ledger) CountByState(pred func(types.ProvisionRequest) bool) int {
	count := 0
	for _, req := range l.requests {
		if pred(*req) {
			count++
		}
	}
	return count
}

// IDs returns the sorted ids of tracked requests of a kind
func (l *Ledger) IDs(kind types.RequestKind) []string {
	ids := lo.FilterMap(lo.Values(l.requests), func(req *types.ProvisionRequest, _ int) (string, bool) {
		return req.ID, req.Kind == kind
	})
	sort.Strings(ids)
	return ids
}

// List returns copies of all tracked requests ordered by submission time
func (l *Ledger) List() []types.ProvisionRequest {
	list := lo.Map(lo.Values(l.requests), func(req *types.ProvisionRequest, _ int) types.ProvisionRequest {
		return *req
	})
	sort.Slice(list, func(i, j int) bool {
		if list[i].SubmittedAt.Equal(list[j].SubmittedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].SubmittedAt.Before(list[j].SubmittedAt)
	})
	return list
}

// Len returns the number of tracked requests
func (l *Ledger) Len() int {
	return len(l.requests)
}

// IsLiveSpot matches spot requests that have not reached a terminal state
func IsLiveSpot(req types.ProvisionRequest) bool {
	return req.IsSpot() && !req.State.IsTerminal()
}

// IsOnDemand matches on-demand launches
func IsOnDemand(req types.ProvisionRequest) bool {
	return req.Kind == types.RequestKindOnDemand
}
