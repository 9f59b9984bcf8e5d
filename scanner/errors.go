package scanner

import "errors"

// Lifecycle errors
var (
	// ErrNotInitialized is returned by operations that need the radio before Initialize ran.
	ErrNotInitialized = errors.New("scanner is not initialized")

	// ErrAlreadyInitialized is returned by a second Initialize call.
	ErrAlreadyInitialized = errors.New("scanner is already initialized")

	// ErrNilDriver is returned by Initialize when the scanner has no radio driver.
	ErrNilDriver = errors.New("radio driver is nil")
)
