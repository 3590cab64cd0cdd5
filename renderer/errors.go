package renderer

import "errors"

var (
	ErrNoWorkers     = errors.New("renderer: no tracer workers attached")
	ErrFieldNotSet   = errors.New("renderer: no field defined")
	ErrGridNotSet    = errors.New("renderer: no occupancy grid defined")
	ErrAlreadyClosed = errors.New("renderer: already closed")
)
