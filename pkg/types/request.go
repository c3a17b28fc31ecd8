package types

import "time"

// RequestKind distinguishes spot bids from on-demand launches
type RequestKind string

const (
	RequestKindSpot     RequestKind = "spot"
	RequestKindOnDemand RequestKind = "ondemand"
)

// RequestState is the last-known lifecycle state of a provisioning request
type RequestState string

const (
	// Spot request states
	RequestStateOpen     RequestState = "open"
	RequestStateActive   RequestState = "active"
	RequestStateClosed   RequestState = "closed"
	RequestStateCanceled RequestState = "canceled"
	RequestStateFailed   RequestState = "failed"

	// On-demand instance states
	RequestStatePending RequestState = "pending"
	RequestStateRunning RequestState = "running"
)

// IsTerminal reports whether a spot request in this state will never change again
func (s RequestState) IsTerminal() bool {
	switch s {
	case RequestStateClosed, RequestStateCanceled, RequestStateFailed:
		return true
	default:
		return false
	}
}

// InitialState returns the state a freshly submitted request of this kind starts in
func (k RequestKind) InitialState() RequestState {
	if k == RequestKindSpot {
		return RequestStateOpen
	}
	return RequestStatePending
}

// ProvisionRequest is a spot bid or on-demand launch tracked until it reaches a terminal state.
// BidPrice is only meaningful for spot requests.
type ProvisionRequest struct {
	ID            string       `json:"id"`
	Kind          RequestKind  `json:"kind"`
	InstanceClass string       `json:"instance_class"`
	Zone          string       `json:"zone"`
	BidPrice      float64      `json:"bid_price,omitempty"`
	State         RequestState `json:"state"`
	SubmittedAt   time.Time    `json:"submitted_at"`
}

// IsSpot reports whether the request is a spot bid
func (r ProvisionRequest) IsSpot() bool {
	return r.Kind == RequestKindSpot
}

// Transition is an observed state change of a ledgered request
type Transition struct {
	RequestID string       `json:"request_id"`
	Kind      RequestKind  `json:"kind"`
	From      RequestState `json:"from"`
	To        RequestState `json:"to"`
}
