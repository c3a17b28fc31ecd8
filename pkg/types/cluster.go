package types

import "time"

// ClusterTarget is the desired shape of the worker pool. It is fixed for the lifetime of the
// controller.
type ClusterTarget struct {
	DesiredCount  int           `json:"desired_count" validate:"required,gt=0"`
	InstanceClass string        `json:"instance_class" validate:"required"`
	MinRatio      float64       `json:"min_ratio" validate:"gt=0,ltefield=MaxRatio"`
	MaxRatio      float64       `json:"max_ratio" validate:"gt=0"`
	StaggerDelay  time.Duration `json:"stagger_delay" validate:"min=0"`
}

// Master is the single coordinator node of a cluster
type Master struct {
	InstanceID string `json:"instance_id"`
	PrivateDNS string `json:"private_dns"`
	PrivateIP  string `json:"private_ip"`
	Zone       string `json:"zone"`
}

// Address returns the network address workers use to reach the master
func (m Master) Address() string {
	if m.PrivateDNS != "" {
		return m.PrivateDNS
	}
	return m.PrivateIP
}
