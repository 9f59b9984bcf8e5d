package mocks

import (
	"github.com/stretchr/testify/mock"
)

// MockAdvertisement is a testify mock implementing radio.Advertisement.
type MockAdvertisement struct {
	mock.Mock
}

func (m *MockAdvertisement) Addr() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockAdvertisement) LocalName() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockAdvertisement) RSSI() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockAdvertisement) Connectable() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockAdvertisement) ManufacturerData() []byte {
	args := m.Called()
	if v := args.Get(0); v != nil {
		return v.([]byte)
	}
	return nil
}

func (m *MockAdvertisement) Services() []string {
	args := m.Called()
	if v := args.Get(0); v != nil {
		return v.([]string)
	}
	return nil
}
