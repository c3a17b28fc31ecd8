package catalog

import "errors"

var (
	// ErrUnknownInstanceClass is returned when an instance class is not in the catalog
	ErrUnknownInstanceClass = errors.New("unknown instance class")

	// ErrNoAMI is returned when the catalog has no image for a virtualization type
	ErrNoAMI = errors.New("no AMI for virtualization type")
)
