//go:build darwin

package goble

import (
	"github.com/go-ble/ble/darwin"
)

// DefaultFactory opens the CoreBluetooth central. CoreBluetooth has no
// controller whitelist, so filtering stays in software.
var DefaultFactory DeviceFactory = func(name string) (Scanner, Controller, error) {
	dev, err := darwin.NewDevice()
	if err != nil {
		return nil, nil, err
	}
	return dev, nil, nil
}
