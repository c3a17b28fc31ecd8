package controller

import (
	"github.com/tqchen/yarn-ec2/pkg/types"
	"github.com/uber-go/tally/v4"
)

// Metrics holds the reconciliation loop metrics
type Metrics struct {
	scope tally.Scope

	Ticks            tally.Counter
	TickFailures     tally.Counter
	Transitions      tally.Counter
	Evictions        tally.Counter
	SpotBids         tally.Counter
	OnDemandLaunches tally.Counter
	SubmitFailures   tally.Counter

	Shortfall        tally.Gauge
	SpotRequests     tally.Gauge
	OnDemandRequests tally.Gauge
}

// NewMetrics creates the loop metrics under scope
func NewMetrics(scope tally.Scope) *Metrics {
	return &Metrics{
		scope: scope,

		Ticks:            scope.Counter("ticks"),
		TickFailures:     scope.Counter("tick_failures"),
		Transitions:      scope.Counter("transitions"),
		Evictions:        scope.Counter("evictions"),
		SpotBids:         scope.Counter("spot_bids"),
		OnDemandLaunches: scope.Counter("ondemand_launches"),
		SubmitFailures:   scope.Counter("submit_failures"),

		Shortfall:        scope.Gauge("shortfall"),
		SpotRequests:     scope.Gauge("spot_requests"),
		OnDemandRequests: scope.Gauge("ondemand_requests"),
	}
}

// SpotPrice returns the latest spot price gauge of a zone key
func (m *Metrics) SpotPrice(key types.ZoneKey) tally.Gauge {
	return m.scope.Tagged(map[string]string{"zone_key": key.String()}).Gauge("spot_price")
}
