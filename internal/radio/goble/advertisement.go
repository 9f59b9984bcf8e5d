package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/blescan/internal/radio"
)

// Advertisement wraps ble.Advertisement to implement radio.Advertisement.
type Advertisement struct {
	adv ble.Advertisement
}

// NewAdvertisement wraps adv.
func NewAdvertisement(adv ble.Advertisement) radio.Advertisement {
	return &Advertisement{adv: adv}
}

func (a *Advertisement) Addr() string             { return a.adv.Addr().String() }
func (a *Advertisement) LocalName() string        { return a.adv.LocalName() }
func (a *Advertisement) RSSI() int                { return a.adv.RSSI() }
func (a *Advertisement) Connectable() bool        { return a.adv.Connectable() }
func (a *Advertisement) ManufacturerData() []byte { return a.adv.ManufacturerData() }

func (a *Advertisement) Services() []string {
	bleServices := a.adv.Services()
	result := make([]string, len(bleServices))
	for i, svc := range bleServices {
		result[i] = svc.String()
	}
	return result
}

// Unwrap returns the underlying go-ble advertisement for payload parsing.
func (a *Advertisement) Unwrap() ble.Advertisement {
	return a.adv
}
