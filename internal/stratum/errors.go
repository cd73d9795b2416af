package stratum

import "errors"

var (
	ErrNotConnected      = errors.New("stratum: not connected")
	ErrLineTooLong       = errors.New("stratum: line exceeds maximum length")
	ErrInactivityTimeout = errors.New("stratum: no data received within inactivity timeout")
	ErrClosedByUser      = errors.New("stratum: closed by caller")
)
