package goble

import (
	"fmt"
	"net"
	"strings"

	"github.com/srg/blescan/internal/radio"
)

// normalizeAddress returns the canonical upper-case form of a BLE address
// together with its HCI byte order (least significant octet first).
func normalizeAddress(address string) (string, [6]byte, error) {
	var hciAddr [6]byte

	mac, err := net.ParseMAC(strings.TrimSpace(address))
	if err != nil || len(mac) != 6 {
		return "", hciAddr, fmt.Errorf("%w: %q", radio.ErrInvalidAddr, address)
	}

	for i := 0; i < 6; i++ {
		hciAddr[i] = mac[5-i]
	}
	return strings.ToUpper(mac.String()), hciAddr, nil
}
