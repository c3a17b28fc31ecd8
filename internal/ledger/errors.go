package ledger

import "errors"

var (
	// ErrDuplicateKey is returned when a request id is registered twice
	ErrDuplicateKey = errors.New("duplicate request id")
)
