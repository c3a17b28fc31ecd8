package types

import (
	"fmt"
	"time"
)

// ZoneKey identifies a spot market: one instance class in one availability zone
type ZoneKey struct {
	InstanceClass    string `json:"instance_class"`
	AvailabilityZone string `json:"availability_zone"`
}

// String returns the key as class/zone
func (k ZoneKey) String() string {
	return fmt.Sprintf("%s/%s", k.InstanceClass, k.AvailabilityZone)
}

// PricePoint is a single observed spot market price
type PricePoint struct {
	InstanceClass    string    `json:"instance_class"`
	AvailabilityZone string    `json:"availability_zone"`
	Price            float64   `json:"price"`
	ObservedAt       time.Time `json:"observed_at"`
}

// Key returns the zone key the point belongs to
func (p PricePoint) Key() ZoneKey {
	return ZoneKey{
		InstanceClass:    p.InstanceClass,
		AvailabilityZone: p.AvailabilityZone,
	}
}
