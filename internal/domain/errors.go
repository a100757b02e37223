package domain

import "errors"

var (
	ErrDuplicateZoneID     = errors.New("duplicate zone id")
	ErrInvalidZoneGeometry = errors.New("invalid zone geometry")
	ErrNotFound            = errors.New("not found")
	ErrOutOfOrderSample    = errors.New("out of order sample")
	ErrInvalidCoordinate   = errors.New("invalid coordinate")
	ErrInvalidRoute        = errors.New("invalid route")
	ErrInvalidSample       = errors.New("invalid sample")
)
