package controller

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"github.com/tqchen/yarn-ec2/internal/ledger"
	"github.com/tqchen/yarn-ec2/internal/pricehistory"
	"github.com/tqchen/yarn-ec2/internal/strategy"
	"github.com/tqchen/yarn-ec2/pkg/types"
	"github.com/uber-go/tally/v4"
)

// Config holds controller configuration
type Config struct {
	ControllerID string
	PollInterval time.Duration `validate:"gt=0"`
	PriceWindow  time.Duration `validate:"gt=0"`
	CallTimeout  time.Duration `validate:"gt=0"`

	// Zone workers are placed in; the master's zone when empty
	Zone string
}

// DefaultConfig returns default controller configuration
func DefaultConfig() *Config {
	return &Config{
		ControllerID: types.GenerateControllerID(),
		PollInterval: 10 * time.Second,
		PriceWindow:  10 * time.Minute,
		CallTimeout:  30 * time.Second,
	}
}

// Option configures optional controller dependencies
type Option func(*Controller)

// WithLogger sets the logger
func WithLogger(log *logrus.Entry) Option {
	return func(c *Controller) {
		c.log = log
	}
}

// WithMetrics sets the metrics scope
func WithMetrics(scope tally.Scope) Option {
	return func(c *Controller) {
		c.metrics = NewMetrics(scope)
	}
}

// WithClock sets the time source
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithSleep sets the pause used to stagger spot bids
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) {
		c.sleep = sleep
	}
}

// Controller keeps the worker pool at its target size by bidding for spot capacity and falling
// back to on-demand launches.
//
// All state is owned by the goroutine calling Start or Tick. Snapshot may be called from any
// goroutine.
type Controller struct {
	config  *Config
	gateway Gateway
	target  types.ClusterTarget
	master  types.Master
	zone    string

	prices     *pricehistory.Store
	ledger     *ledger.Ledger
	listPrices listPrices
	planner    *strategy.Planner

	// recheck forces a shortfall evaluation on the next tick
	recheck bool
	ticks   int64

	snapshot atomic.Pointer[Snapshot]
	metrics  *Metrics
	log      *logrus.Entry
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// New creates a controller for the worker pool of master. The first tick tops up the full
// shortfall.
func New(config *Config, gateway Gateway, target types.ClusterTarget, master *types.Master, opts ...Option) (*Controller, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if master == nil {
		return nil, fmt.Errorf("create controller: %w", ErrNoMaster)
	}

	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("validate controller config: %w", err)
	}
	if err := validate.Struct(target); err != nil {
		return nil, fmt.Errorf("validate cluster target: %w", err)
	}

	c := &Controller{
		config:     config,
		gateway:    gateway,
		target:     target,
		master:     *master,
		zone:       config.Zone,
		prices:     pricehistory.NewStore(),
		ledger:     ledger.New(),
		listPrices: make(listPrices),
		recheck:    true,
		now:        time.Now,
		sleep:      sleepContext,
	}
	if c.zone == "" {
		c.zone = master.Zone
	}

	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logrus.NewEntry(logrus.StandardLogger())
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(tally.NoopScope)
	}
	c.log = c.log.WithFields(logrus.Fields{
		"component":     "controller",
		"controller_id": config.ControllerID,
	})

	planner, err := strategy.NewPlanner(strategy.Config{
		MinRatio: target.MinRatio,
		MaxRatio: target.MaxRatio,
	}, c.listPrices, c.prices, c.log)
	if err != nil {
		return nil, fmt.Errorf("create controller: %w", err)
	}
	c.planner = planner

	c.publish(nil, nil)
	return c, nil
}

// Start runs the reconciliation loop until ctx is done. The first tick runs immediately.
func (c *Controller) Start(ctx context.Context) error {
	c.log.WithFields(logrus.Fields{
		"master":         c.master.Address(),
		"zone":           c.zone,
		"instance_class": c.target.InstanceClass,
		"desired":        c.target.DesiredCount,
		"poll":           c.config.PollInterval,
	}).Info("Controller starting")

	c.runTick(ctx)

	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("Controller shutting down")
			return ctx.Err()

		case <-ticker.C:
			c.runTick(ctx)
		}
	}
}

// Snapshot returns the state published by the last tick
func (c *Controller) Snapshot() *Snapshot {
	return c.snapshot.Load()
}

func (c *Controller) runTick(ctx context.Context) {
	report, err := c.Tick(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.log.WithError(err).WithField("tick_id", report.ID).Error("Tick failed")
	}
}

// sleepContext pauses for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// liveCounts returns the number of non-terminal spot requests and on-demand launches
func (c *Controller) liveCounts() (int, int) {
	return c.ledger.CountByState(ledger.IsLiveSpot), c.ledger.CountByState(ledger.IsOnDemand)
}

func (c *Controller) shortfall() int {
	spot, onDemand := c.liveCounts()
	return c.target.DesiredCount - (spot + onDemand)
}

func (c *Controller) publish(report *TickReport, tickErr error) {
	latest := make([]types.PricePoint, 0)
	for _, key := range c.prices.Keys() {
		if p, ok := c.prices.Latest(key); ok {
			latest = append(latest, p)
		}
	}

	spot, onDemand := c.liveCounts()
	snap := &Snapshot{
		ControllerID: c.config.ControllerID,
		Master:       c.master,
		Target:       c.target,
		Zone:         c.zone,
		Prices:       latest,
		Requests:     c.ledger.List(),
		LiveSpot:     spot,
		OnDemand:     onDemand,
		Shortfall:    max(c.shortfall(), 0),
		Ticks:        c.ticks,
	}

	if prev := c.snapshot.Load(); prev != nil {
		snap.LastTickID = prev.LastTickID
		snap.LastTickAt = prev.LastTickAt
	}
	if report != nil {
		snap.LastTickID = report.ID
		snap.LastTickAt = report.StartedAt
	}
	if tickErr != nil {
		snap.LastError = tickErr.Error()
	}

	c.metrics.SpotRequests.Update(float64(spot))
	c.metrics.OnDemandRequests.Update(float64(onDemand))
	c.metrics.Shortfall.Update(float64(snap.Shortfall))

	c.snapshot.Store(snap)
}

func sortPoints(points []types.PricePoint) {
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].ObservedAt.Before(points[j].ObservedAt)
	})
}
