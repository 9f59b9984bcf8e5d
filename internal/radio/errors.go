package radio

import (
	"errors"
	"fmt"
	"strings"
)

// Driver-level errors
var (
	ErrBluetoothOff = errors.New("bluetooth is turned off")
	ErrBusy         = errors.New("radio busy")
	ErrNotFound     = errors.New("address not found")
	ErrInvalidAddr  = errors.New("invalid address")
	ErrNotAvailable = errors.New("operation not supported by radio")
)

// NormalizeError maps known go-ble error strings to the sentinels above.
// The original error is kept in the chain.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "command disallowed"),
		containsIgnoreCase(msg, "resource busy"):
		return fmt.Errorf("%w: %v", ErrBusy, err)
	default:
		return err
	}
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
