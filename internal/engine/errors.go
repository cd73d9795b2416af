package engine

import "errors"

var (
	// ErrAddressRequired is returned by Start when no bitcoin_address is configured.
	ErrAddressRequired = errors.New("engine: bitcoin_address is required")
)
