//go:build !linux && !darwin

package goble

import (
	"fmt"
	"runtime"

	"github.com/srg/blescan/internal/radio"
)

// DefaultFactory reports that no BLE backend exists for this platform.
var DefaultFactory DeviceFactory = func(name string) (Scanner, Controller, error) {
	return nil, nil, fmt.Errorf("%w: no BLE backend for %s", radio.ErrNotAvailable, runtime.GOOS)
}
