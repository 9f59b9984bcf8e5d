package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/srg/blescan/internal/radio"
	"github.com/srg/blescan/internal/testutils/mocks"
)

// AdvertisementBuilder builds mocked advertisements for testing.
// Only explicitly configured fields get mock expectations, so a test fails
// loudly when code under test reads a field it was not supposed to touch.
type AdvertisementBuilder struct {
	name        string
	address     string
	rssi        int
	services    []string
	manufData   []byte
	connectable bool

	nameSet        bool
	addressSet     bool
	rssiSet        bool
	servicesSet    bool
	manufDataSet   bool
	connectableSet bool
}

// NewAdvertisementBuilder creates a builder with connectable=true.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{connectable: true}
}

// WithName sets the local name.
func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.name = name
	b.nameSet = true
	return b
}

// WithAddress sets the advertiser address.
func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.address = addr
	b.addressSet = true
	return b
}

// WithRSSI sets the signal strength.
func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.rssi = rssi
	b.rssiSet = true
	return b
}

// WithServices adds service UUIDs.
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.services = append(b.services, uuids...)
	b.servicesSet = true
	return b
}

// WithManufacturerData sets the manufacturer-specific data.
func (b *AdvertisementBuilder) WithManufacturerData(data []byte) *AdvertisementBuilder {
	b.manufData = data
	b.manufDataSet = true
	return b
}

// WithConnectable sets whether the advertiser accepts connections.
func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.connectable = c
	b.connectableSet = true
	return b
}

// FromJSON fills builder fields from a JSON string with format support.
// Panics on invalid JSON as this is intended for test data setup.
func (b *AdvertisementBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var data struct {
		Name             *string  `json:"name"`
		Address          *string  `json:"address"`
		RSSI             *int     `json:"rssi"`
		Services         []string `json:"services"`
		ManufacturerData []byte   `json:"manufacturerData"`
		Connectable      *bool    `json:"connectable"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &data); err != nil {
		panic(fmt.Sprintf("FromJSON: %v", err))
	}

	if data.Name != nil {
		b.WithName(*data.Name)
	}
	if data.Address != nil {
		b.WithAddress(*data.Address)
	}
	if data.RSSI != nil {
		b.WithRSSI(*data.RSSI)
	}
	if data.Services != nil {
		b.WithServices(data.Services...)
	}
	if data.ManufacturerData != nil {
		b.WithManufacturerData(data.ManufacturerData)
	}
	if data.Connectable != nil {
		b.WithConnectable(*data.Connectable)
	}
	return b
}

// Build creates a MockAdvertisement implementing radio.Advertisement.
func (b *AdvertisementBuilder) Build() *mocks.MockAdvertisement {
	adv := &mocks.MockAdvertisement{}

	if b.addressSet {
		adv.On("Addr").Return(b.address)
	}
	if b.nameSet {
		adv.On("LocalName").Return(b.name)
	}
	if b.rssiSet {
		adv.On("RSSI").Return(b.rssi)
	}
	if b.servicesSet {
		adv.On("Services").Return(b.services)
	}
	if b.manufDataSet {
		adv.On("ManufacturerData").Return(b.manufData)
	}
	if b.connectableSet {
		adv.On("Connectable").Return(b.connectable)
	}

	return adv
}

// BuildAll builds n advertisements with sequential addresses, handy for
// fan-out and eviction tests.
func BuildAll(n int) []radio.Advertisement {
	ads := make([]radio.Advertisement, 0, n)
	for i := 0; i < n; i++ {
		ads = append(ads, NewAdvertisementBuilder().
			WithAddress(fmt.Sprintf("AA:BB:CC:DD:EE:%02X", i)).
			WithName(fmt.Sprintf("Device %d", i)).
			WithRSSI(-40-i).
			Build())
	}
	return ads
}
