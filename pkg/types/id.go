package types

import (
	"fmt"

	"github.com/segmentio/ksuid"
)

// GenerateTickID generates a unique reconciliation tick ID with prefix
func GenerateTickID() string {
	return fmt.Sprintf("tick_%s", ksuid.New().String())
}

// GenerateControllerID generates a unique controller instance ID with prefix
func GenerateControllerID() string {
	return fmt.Sprintf("ctl_%s", ksuid.New().String())
}
