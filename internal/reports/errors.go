package reports

import "errors"

var (
	ErrInvalidDateRange = errors.New("invalid date range")
	ErrUnknownPage      = errors.New("unknown report page")
	ErrUnknownView      = errors.New("unknown view")
	ErrNotDrillable     = errors.New("view does not support drilldown")
	ErrMissingRowKey    = errors.New("row is missing its identifying column")
	ErrRowOutOfRange    = errors.New("row index out of range")
	ErrViewNotLoaded    = errors.New("view has no loaded result")
	ErrNoDrilldown      = errors.New("no drilldown is open")
	ErrSessionClosed    = errors.New("report session closed")
	ErrSessionNotFound  = errors.New("report session not found")
	ErrUnknownQuery     = errors.New("unknown named query")
)
