package testutils

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
	Hook   *test.Hook
}

// NewTestHelper creates a test helper whose logger output is discarded but
// captured by Hook for assertions.
func NewTestHelper(t *testing.T) *TestHelper {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
		Hook:   hook,
	}
}

// EntriesAt returns captured log entries at exactly the given level.
func (h *TestHelper) EntriesAt(level logrus.Level) []logrus.Entry {
	var out []logrus.Entry
	for _, e := range h.Hook.AllEntries() {
		if e.Level == level {
			out = append(out, *e)
		}
	}
	return out
}

// CreateMockAdvertisement is a shorthand for the common address/name/RSSI triple.
func CreateMockAdvertisement(name, address string, rssi int) *AdvertisementBuilder {
	return NewAdvertisementBuilder().WithName(name).WithAddress(address).WithRSSI(rssi)
}

// CreateMockAdvertisementFromJSON builds an advertisement from a JSON template.
func CreateMockAdvertisementFromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	return NewAdvertisementBuilder().FromJSON(jsonStrFmt, args...)
}
