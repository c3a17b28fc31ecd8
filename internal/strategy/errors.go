package strategy

import "errors"

var (
	// ErrInvalidListPrice is returned when the list price of an instance class is not positive
	ErrInvalidListPrice = errors.New("invalid list price")

	// ErrInvalidRatios is returned when the bid band ratios are not 0 < min <= max
	ErrInvalidRatios = errors.New("invalid bid ratios")
)
