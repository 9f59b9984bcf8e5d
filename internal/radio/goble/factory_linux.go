//go:build linux

package goble

import (
	"github.com/go-ble/ble/linux"
)

// DefaultFactory opens the first HCI adapter and exposes its controller for
// whitelist commands.
var DefaultFactory DeviceFactory = func(name string) (Scanner, Controller, error) {
	dev, err := linux.NewDeviceWithName(name)
	if err != nil {
		return nil, nil, err
	}
	return dev, dev.HCI, nil
}
