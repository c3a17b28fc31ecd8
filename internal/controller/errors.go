package controller

import "errors"

var (
	// ErrNoMaster is returned when the cluster has no master node
	ErrNoMaster = errors.New("no master found")

	// ErrUnknownListPrice is returned when no list price was fetched for an instance class
	ErrUnknownListPrice = errors.New("unknown list price")
)
