package cycletimer

import (
	"errors"
)

var (
	ErrNotBootstrapped = errors.New("cycle timer model not bootstrapped")

	errAlreadyStarted    = errors.New("cycle timer helper already started")
	errInvalidCycleTimer = errors.New("invalid cycle timer value")
)
