package models

import "errors"

// ErrInvalidTransition is returned when an execution status would regress.
var ErrInvalidTransition = errors.New("invalid execution status transition")
