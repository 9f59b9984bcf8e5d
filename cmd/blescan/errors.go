package main

import (
	"errors"
	"runtime"

	"github.com/srg/blescan/internal/radio"
	"github.com/srg/blescan/scanner"
)

// FormatUserError turns internal errors into a message with a hint the user
// can act on. Unknown errors are returned verbatim.
func FormatUserError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, radio.ErrBluetoothOff):
		return "Bluetooth is turned off. Enable Bluetooth and try again."
	case errors.Is(err, radio.ErrNotAvailable):
		return "BLE scanning is not supported on " + runtime.GOOS + "."
	case errors.Is(err, radio.ErrBusy):
		return "The Bluetooth adapter is busy. Stop other BLE tools and try again."
	case errors.Is(err, radio.ErrInvalidAddr):
		return err.Error() + " (expected XX:XX:XX:XX:XX:XX)"
	case errors.Is(err, scanner.ErrNotInitialized):
		return "Scanner was used before the radio was initialized."
	}
	return err.Error()
}
