package recovery

import "errors"

// Sentinel errors for recovery operations.
var (
	// ErrServiceNotFound is returned when a service name was never
	// registered.
	ErrServiceNotFound = errors.New("recovery: service not registered")

	// ErrAlreadyRegistered is returned when a service name is registered
	// twice.
	ErrAlreadyRegistered = errors.New("recovery: service already registered")
)
