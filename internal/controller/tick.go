package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tqchen/yarn-ec2/internal/ledger"
	"github.com/tqchen/yarn-ec2/internal/strategy"
	"github.com/tqchen/yarn-ec2/pkg/types"
)

// TickReport describes what one reconciliation tick observed and did
type TickReport struct {
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	PriceSamples int                `json:"price_samples"`
	ChangedKeys  []types.ZoneKey    `json:"changed_keys,omitempty"`
	Transitions  []types.Transition `json:"transitions,omitempty"`
	Evicted      []string           `json:"evicted,omitempty"`

	Shortfall int                  `json:"shortfall"`
	Actions   []strategy.BidAction `json:"-"`
	Submitted []string             `json:"submitted,omitempty"`
}

// Tick runs one reconciliation pass: refresh prices, refresh request states, evict finished
// spot requests and top up the shortfall. A failed gateway read aborts the tick and leaves the
// price history and ledger as they were.
func (c *Controller) Tick(ctx context.Context) (*TickReport, error) {
	report := &TickReport{
		ID:        types.GenerateTickID(),
		StartedAt: c.now(),
	}
	c.ticks++
	c.metrics.Ticks.Inc(1)

	err := c.tick(ctx, report)
	report.Duration = c.now().Sub(report.StartedAt)

	if err != nil {
		c.metrics.TickFailures.Inc(1)
	}
	c.publish(report, err)

	return report, err
}

func (c *Controller) tick(ctx context.Context, report *TickReport) error {
	if err := c.refreshPrices(ctx, report); err != nil {
		return err
	}

	if err := c.refreshStates(ctx, report); err != nil {
		return err
	}

	c.evictTerminal(report)

	if len(report.Evicted) == 0 && !c.recheck {
		return nil
	}

	report.Shortfall = c.shortfall()
	if report.Shortfall <= 0 {
		c.recheck = false
		return nil
	}

	return c.topUp(ctx, report)
}

func (c *Controller) refreshPrices(ctx context.Context, report *TickReport) error {
	callCtx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
	defer cancel()

	points, err := c.gateway.SpotPriceHistory(callCtx, c.config.PriceWindow)
	if err != nil {
		return fmt.Errorf("fetch spot price history: %w", err)
	}

	sortPoints(points)
	for _, p := range points {
		if c.prices.Record(p.Key(), p) {
			report.PriceSamples++
		}
	}

	report.ChangedKeys = c.prices.ChangedKeys()
	for _, key := range report.ChangedKeys {
		latest, _ := c.prices.Latest(key)
		c.metrics.SpotPrice(key).Update(latest.Price)
		c.log.WithFields(logrus.Fields{
			"zone_key": key.String(),
			"price":    latest.Price,
		}).Debug("Spot price changed")
	}

	return nil
}

// refreshStates fetches the states of every ledgered request before applying any of them, so a
// failure leaves the ledger untouched.
func (c *Controller) refreshStates(ctx context.Context, report *TickReport) error {
	kinds := []types.RequestKind{types.RequestKindSpot, types.RequestKindOnDemand}
	observed := make(map[types.RequestKind]map[string]types.RequestState, len(kinds))

	for _, kind := range kinds {
		ids := c.ledger.IDs(kind)
		if len(ids) == 0 {
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
		states, err := c.gateway.RequestStates(callCtx, kind, ids)
		cancel()
		if err != nil {
			return fmt.Errorf("fetch %s request states: %w", kind, err)
		}
		observed[kind] = states
	}

	for _, kind := range kinds {
		for _, id := range c.ledger.IDs(kind) {
			state, ok := observed[kind][id]
			if !ok {
				continue
			}

			transition, changed := c.ledger.Observe(id, state)
			if !changed {
				continue
			}

			report.Transitions = append(report.Transitions, transition)
			c.metrics.Transitions.Inc(1)
			c.log.WithFields(logrus.Fields{
				"request_id": id,
				"kind":       kind,
				"from":       transition.From,
				"to":         transition.To,
			}).Info("Request state changed")
		}
	}

	return nil
}

func (c *Controller) evictTerminal(report *TickReport) {
	for _, id := range c.ledger.IDs(types.RequestKindSpot) {
		req, _ := c.ledger.Get(id)
		if ledger.IsLiveSpot(req) {
			continue
		}

		c.ledger.Evict(id)
		report.Evicted = append(report.Evicted, id)
		c.metrics.Evictions.Inc(1)
		c.log.WithFields(logrus.Fields{
			"request_id": id,
			"state":      req.State,
		}).Info("Spot request finished, evicting")
	}
}

// topUp plans and submits requests for the shortfall. Bids already placed stay registered when
// a later submission fails or ctx is canceled mid-batch.
func (c *Controller) topUp(ctx context.Context, report *TickReport) error {
	class := c.target.InstanceClass

	if _, err := c.listPrices.ListPrice(class); err != nil {
		callCtx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
		price, err := c.gateway.ListPrice(callCtx, class)
		cancel()
		if err != nil {
			return fmt.Errorf("fetch list price of %s: %w", class, err)
		}
		c.listPrices[class] = price
	}

	actions, err := c.planner.Plan(report.Shortfall, class, c.zone)
	if err != nil {
		return fmt.Errorf("plan bids: %w", err)
	}
	report.Actions = actions

	c.log.WithFields(logrus.Fields{
		"shortfall": report.Shortfall,
		"actions":   len(actions),
	}).Info("Topping up worker pool")

	c.recheck = true
	for i, action := range actions {
		if i > 0 {
			if err := c.sleep(ctx, c.target.StaggerDelay); err != nil {
				return fmt.Errorf("stagger bids: %w", err)
			}
		}

		ids, err := c.submit(ctx, action)
		if err != nil {
			c.metrics.SubmitFailures.Inc(1)
			return fmt.Errorf("submit %s: %w", action, err)
		}
		report.Submitted = append(report.Submitted, ids...)
	}
	c.recheck = false

	return nil
}

func (c *Controller) submit(ctx context.Context, action strategy.BidAction) ([]string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
	defer cancel()

	class := c.target.InstanceClass
	req := types.ProvisionRequest{
		InstanceClass: class,
		Zone:          c.zone,
		SubmittedAt:   c.now(),
	}

	var ids []string
	var err error

	switch a := action.(type) {
	case strategy.SubmitSpot:
		ids, err = c.gateway.SubmitSpotBid(callCtx, class, c.zone, a.Price, 1)
		req.Kind = types.RequestKindSpot
		req.BidPrice = a.Price
		if err == nil {
			c.metrics.SpotBids.Inc(int64(len(ids)))
		}
	case strategy.SubmitOnDemand:
		ids, err = c.gateway.LaunchOnDemand(callCtx, class, c.zone, a.Count)
		req.Kind = types.RequestKindOnDemand
		if err == nil {
			c.metrics.OnDemandLaunches.Inc(int64(len(ids)))
		}
	default:
		return nil, fmt.Errorf("unsupported action %T", action)
	}
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		req.ID = id
		req.State = ""
		if err := c.ledger.Register(req); err != nil {
			c.log.WithError(err).Error("Failed to register request")
			continue
		}
		c.log.WithFields(logrus.Fields{
			"request_id": id,
			"kind":       req.Kind,
			"bid_price":  req.BidPrice,
		}).Info("Request submitted")
	}

	return ids, nil
}
