package strategy

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/tqchen/yarn-ec2/pkg/types"
)

const (
	// spotFloorMarkup raises the bottom of the band above a spot price that already exceeds it
	spotFloorMarkup = 1.05

	// safetyMargin is the headroom the band floor needs below the ceiling to be worth bidding in
	safetyMargin = 1.1
)

// ListPriceSource provides the on-demand list price of an instance class
type ListPriceSource interface {
	ListPrice(instanceClass string) (float64, error)
}

// SpotPriceSource provides the latest observed spot price of a zone key
type SpotPriceSource interface {
	Latest(key types.ZoneKey) (types.PricePoint, bool)
}

// Config holds the bid band ratios, both relative to the list price
type Config struct {
	MinRatio float64
	MaxRatio float64
}

// Band is the price range spot bids are spread over
type Band struct {
	ListPrice  float64  `json:"list_price"`
	SpotPrice  *float64 `json:"spot_price,omitempty"`
	Min        float64  `json:"min"`
	Max        float64  `json:"max"`
	Raised     bool     `json:"raised"`
	Degenerate bool     `json:"degenerate"`
}

// NewBand computes the bid band for a list price and an optional latest spot price
func NewBand(listPrice float64, spotPrice *float64, config Config) Band {
	band := Band{
		ListPrice: listPrice,
		SpotPrice: spotPrice,
		Min:       listPrice * config.MinRatio,
		Max:       listPrice * config.MaxRatio,
	}

	if spotPrice != nil && *spotPrice > band.Min {
		band.Min = *spotPrice * spotFloorMarkup
		band.Raised = true
	}

	band.Degenerate = band.Min*safetyMargin > band.Max
	return band
}

// Planner turns a worker shortfall into spot bids spread across the band, or a single on-demand
// launch when the band is too narrow.
type Planner struct {
	config Config
	list   ListPriceSource
	spot   SpotPriceSource
	log    *logrus.Entry
}

// NewPlanner creates a planner
func NewPlanner(config Config, list ListPriceSource, spot SpotPriceSource, log *logrus.Entry) (*Planner, error) {
	if config.MinRatio <= 0 || config.MaxRatio < config.MinRatio {
		return nil, fmt.Errorf("create planner: min %.3f max %.3f: %w", config.MinRatio, config.MaxRatio, ErrInvalidRatios)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Planner{
		config: config,
		list:   list,
		spot:   spot,
		log:    log.WithField("component", "strategy"),
	}, nil
}

// Band returns the current bid band for an instance class in a zone
func (p *Planner) Band(instanceClass, zone string) (Band, error) {
	listPrice, err := p.list.ListPrice(instanceClass)
	if err != nil {
		return Band{}, fmt.Errorf("get list price: %w", err)
	}
	if listPrice <= 0 {
		return Band{}, fmt.Errorf("get list price of %s: %w", instanceClass, ErrInvalidListPrice)
	}

	key := types.ZoneKey{InstanceClass: instanceClass, AvailabilityZone: zone}
	var spotPrice *float64
	if latest, ok := p.spot.Latest(key); ok {
		spotPrice = &latest.Price
	} else {
		p.log.WithField("zone_key", key.String()).Warn("No spot price observed, using unraised bid band")
	}

	return NewBand(listPrice, spotPrice, p.config), nil
}

// Plan returns the actions that cover shortfall workers
func (p *Planner) Plan(shortfall int, instanceClass, zone string) ([]BidAction, error) {
	if shortfall <= 0 {
		return nil, nil
	}

	band, err := p.Band(instanceClass, zone)
	if err != nil {
		return nil, err
	}

	log := p.log.WithFields(logrus.Fields{
		"instance_class": instanceClass,
		"zone":           zone,
		"shortfall":      shortfall,
		"min":            band.Min,
		"max":            band.Max,
	})

	if band.Degenerate {
		log.Info("Bid band too narrow, falling back to on-demand")
		return []BidAction{SubmitOnDemand{Count: shortfall}}, nil
	}

	step := (band.Max - band.Min) / float64(shortfall)
	actions := make([]BidAction, 0, shortfall)
	for i := 1; i <= shortfall; i++ {
		actions = append(actions, SubmitSpot{Price: band.Min + float64(i)*step})
	}

	log.Debugf("Planned %d spot bids", len(actions))
	return actions, nil
}
