// Package subscriber provides ready-made scanner subscribers.
package subscriber

import (
	"sort"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/blescan/internal/radio"
)

// DeviceEventType marks if the device was newly discovered or updated
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

func (t DeviceEventType) String() string {
	if t == EventNew {
		return "new"
	}
	return "updated"
}

// Sighting is the latest advertisement seen from one address.
type Sighting struct {
	Address       string
	Advertisement radio.Advertisement
	FirstSeen     time.Time
	LastSeen      time.Time
	Count         int
}

// DeviceEvent is emitted for every advertisement the Collector receives.
type DeviceEvent struct {
	Type     DeviceEventType
	Sighting Sighting
}

// Collector keeps the most recent advertisement per address and streams
// discovery events. It is safe to read while the radio delivers results.
type Collector struct {
	devices *hashmap.Map[string, *Sighting]
	events  *RingChannel[DeviceEvent]
	logger  *logrus.Logger
	now     func() time.Time
}

// NewCollector creates a collector whose event stream holds up to
// eventBuffer pending events.
func NewCollector(logger *logrus.Logger, eventBuffer int) *Collector {
	if logger == nil {
		logger = logrus.New()
	}
	if eventBuffer <= 0 {
		eventBuffer = 100
	}
	return &Collector{
		devices: hashmap.New[string, *Sighting](),
		events:  NewRingChannel[DeviceEvent](eventBuffer),
		logger:  logger,
		now:     time.Now,
	}
}

// OnResult records adv.
func (c *Collector) OnResult(adv radio.Advertisement) {
	if adv == nil {
		return
	}

	addr := adv.Addr()
	now := c.now()

	fresh := &Sighting{Address: addr, Advertisement: adv, FirstSeen: now, LastSeen: now, Count: 1}
	existing, loaded := c.devices.GetOrInsert(addr, fresh)

	event := DeviceEvent{Type: EventNew, Sighting: *fresh}
	if loaded {
		updated := &Sighting{
			Address:       addr,
			Advertisement: adv,
			FirstSeen:     existing.FirstSeen,
			LastSeen:      now,
			Count:         existing.Count + 1,
		}
		c.devices.Set(addr, updated)
		event = DeviceEvent{Type: EventUpdated, Sighting: *updated}
	} else {
		c.logger.WithFields(logrus.Fields{
			"device":  adv.LocalName(),
			"address": addr,
			"rssi":    adv.RSSI(),
		}).Info("Discovered new device")
	}

	if c.events.Send(event) {
		c.logger.Debug("Device event buffer full, dropped oldest event")
	}
}

// Events returns a read-only channel of device events.
func (c *Collector) Events() <-chan DeviceEvent {
	return c.events.C()
}

// Len returns the number of distinct addresses seen.
func (c *Collector) Len() int {
	return c.devices.Len()
}

// Get returns the sighting for address.
func (c *Collector) Get(address string) (Sighting, bool) {
	s, ok := c.devices.Get(address)
	if !ok {
		return Sighting{}, false
	}
	return *s, true
}

// Snapshot returns all sightings sorted by address.
func (c *Collector) Snapshot() []Sighting {
	out := make([]Sighting, 0, c.devices.Len())
	c.devices.Range(func(_ string, s *Sighting) bool {
		out = append(out, *s)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Clear forgets every sighting.
func (c *Collector) Clear() {
	var keys []string
	c.devices.Range(func(k string, _ *Sighting) bool {
		keys = append(keys, k)
		return true
	})
	for _, k := range keys {
		c.devices.Del(k)
	}
}
