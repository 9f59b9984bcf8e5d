package scanner

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/blescan/internal/radio"
)

// Subscriber receives every advertisement the scanner forwards.
//
// Subscribers are compared by identity, so implementations must be comparable
// (pointer receivers are the usual choice). The hub never owns them.
type Subscriber interface {
	OnResult(adv radio.Advertisement)
}

// Publisher is the subscription surface exposed to interested parties.
type Publisher interface {
	Subscribe(s Subscriber)
	Unsubscribe(s Subscriber)
}

// Hub fans advertisements out to subscribers in subscription order.
//
// All methods are safe for concurrent use: go-ble delivers advertisements on
// its own goroutine while subscriptions change from the caller's loop.
type Hub struct {
	mu          sync.RWMutex
	subscribers []Subscriber
	logger      *logrus.Logger
}

// NewHub creates an empty hub with room for reserved subscribers.
func NewHub(logger *logrus.Logger, reserved int) *Hub {
	if logger == nil {
		logger = logrus.New()
	}
	if reserved < 0 {
		reserved = 0
	}
	return &Hub{
		subscribers: make([]Subscriber, 0, reserved),
		logger:      logger,
	}
}

// Subscribe registers s. Subscribing an already registered handle is a no-op.
// Handles that cannot be compared by identity are rejected.
func (h *Hub) Subscribe(s Subscriber) {
	if s == nil {
		return
	}
	if !isComparable(s) {
		h.logger.WithField("subscriber", fmt.Sprintf("%T", s)).
			Warn("Ignoring subscriber that is not comparable; pass a pointer")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.indexOf(s) >= 0 {
		return
	}
	h.subscribers = append(h.subscribers, s)
}

// Unsubscribe removes s, keeping the order of the remaining subscribers.
// Removing an unknown handle is a no-op.
func (h *Hub) Unsubscribe(s Subscriber) {
	if s == nil || !isComparable(s) {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	i := h.indexOf(s)
	if i < 0 {
		return
	}
	copy(h.subscribers[i:], h.subscribers[i+1:])
	h.subscribers[len(h.subscribers)-1] = nil
	h.subscribers = h.subscribers[:len(h.subscribers)-1]
}

// Len returns the number of registered subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// OnResult delivers adv to every subscriber registered at the time of the
// call. A subscriber that panics is logged and skipped.
func (h *Hub) OnResult(adv radio.Advertisement) {
	h.mu.RLock()
	snapshot := make([]Subscriber, len(h.subscribers))
	copy(snapshot, h.subscribers)
	h.mu.RUnlock()

	if h.logger.IsLevelEnabled(logrus.DebugLevel) && adv != nil {
		h.logger.WithFields(logrus.Fields{
			"address":     adv.Addr(),
			"subscribers": len(snapshot),
		}).Debug("Dispatching advertisement")
	}

	for _, s := range snapshot {
		h.deliver(s, adv)
	}
}

func (h *Hub) deliver(s Subscriber, adv radio.Advertisement) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.WithFields(logrus.Fields{
				"subscriber": fmt.Sprintf("%T", s),
				"panic":      r,
			}).Error("Subscriber failed to handle advertisement")
		}
	}()
	s.OnResult(adv)
}

func (h *Hub) indexOf(s Subscriber) int {
	for i, existing := range h.subscribers {
		if existing == s {
			return i
		}
	}
	return -1
}

func isComparable(s Subscriber) bool {
	return reflect.TypeOf(s).Comparable()
}
