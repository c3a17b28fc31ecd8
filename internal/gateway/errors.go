package gateway

import "errors"

var (
	// ErrNoWorkerGroup is returned when the <cluster>-slave security group does not exist
	ErrNoWorkerGroup = errors.New("worker security group not found")

	// ErrMultipleMasters is returned when more than one live instance is in the master group
	ErrMultipleMasters = errors.New("multiple masters found")

	// ErrNotPrepared is returned when a launch is attempted before the worker group and the
	// bootstrap payload are set up
	ErrNotPrepared = errors.New("gateway not prepared for launches")
)
