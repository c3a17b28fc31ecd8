package controller

import (
	"context"
	"time"

	"github.com/tqchen/yarn-ec2/pkg/types"
)

// Gateway is the cloud provider surface the controller provisions through
type Gateway interface {
	// ListPrice returns the on-demand hourly price of an instance class
	ListPrice(ctx context.Context, instanceClass string) (float64, error)

	// SpotPriceHistory returns the spot prices observed during the last window
	SpotPriceHistory(ctx context.Context, window time.Duration) ([]types.PricePoint, error)

	// SubmitSpotBid places spot requests and returns their ids
	SubmitSpotBid(ctx context.Context, instanceClass, zone string, price float64, count int) ([]string, error)

	// LaunchOnDemand starts on-demand instances and returns their ids
	LaunchOnDemand(ctx context.Context, instanceClass, zone string, count int) ([]string, error)

	// RequestStates returns the current state of each known id
	RequestStates(ctx context.Context, kind types.RequestKind, ids []string) (map[string]types.RequestState, error)
}

// listPrices caches list prices fetched from the gateway. List prices are static for the
// lifetime of the process.
type listPrices map[string]float64

func (l listPrices) ListPrice(instanceClass string) (float64, error) {
	price, ok := l[instanceClass]
	if !ok {
		return 0, ErrUnknownListPrice
	}
	return price, nil
}
