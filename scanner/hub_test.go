package scanner_test

import (
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/srg/blescan/internal/radio"
	"github.com/srg/blescan/internal/testutils"
	"github.com/srg/blescan/scanner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder remembers what it received and appends its name to a shared trace.
type recorder struct {
	name  string
	trace *[]string
	mu    sync.Mutex
	got   []radio.Advertisement
}

func (r *recorder) OnResult(adv radio.Advertisement) {
	r.mu.Lock()
	r.got = append(r.got, adv)
	r.mu.Unlock()
	if r.trace != nil {
		*r.trace = append(*r.trace, r.name)
	}
}

type panicking struct{}

func (panicking) OnResult(radio.Advertisement) { panic("subscriber exploded") }

func newAdv() radio.Advertisement {
	return testutils.NewAdvertisementBuilder().WithAddress("11:22:33:44:55:66").Build()
}

func TestHub_SubscribeIsIdempotent(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	hub := scanner.NewHub(helper.Logger, 4)
	a := &recorder{name: "a"}

	hub.Subscribe(a)
	hub.Subscribe(a)
	assert.Equal(t, 1, hub.Len(), "duplicate subscribe MUST NOT add a second entry")

	hub.OnResult(newAdv())
	assert.Len(t, a.got, 1, "subscriber MUST be notified exactly once")

	hub.Unsubscribe(a)
	assert.Equal(t, 0, hub.Len(), "single unsubscribe MUST remove the handle entirely")

	hub.Unsubscribe(a)
	assert.Equal(t, 0, hub.Len(), "double unsubscribe MUST be a no-op")
}

func TestHub_UnsubscribeUnknownIsNoop(t *testing.T) {
	hub := scanner.NewHub(nil, 0)
	a, b := &recorder{name: "a"}, &recorder{name: "b"}

	hub.Subscribe(a)
	hub.Unsubscribe(b)
	hub.Unsubscribe(nil)
	hub.Subscribe(nil)

	assert.Equal(t, 1, hub.Len())
}

func TestHub_FanOutInSubscriptionOrder(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	hub := scanner.NewHub(helper.Logger, 0)

	var trace []string
	a := &recorder{name: "a", trace: &trace}
	b := &recorder{name: "b", trace: &trace}
	c := &recorder{name: "c", trace: &trace}
	hub.Subscribe(a)
	hub.Subscribe(b)
	hub.Subscribe(c)

	adv := newAdv()
	hub.OnResult(adv)

	assert.Equal(t, []string{"a", "b", "c"}, trace)
	for _, r := range []*recorder{a, b, c} {
		require.Len(t, r.got, 1, "%s MUST receive exactly one result", r.name)
		assert.Same(t, adv, r.got[0])
	}
}

func TestHub_UnsubscribePreservesOrder(t *testing.T) {
	hub := scanner.NewHub(nil, 0)

	var trace []string
	a := &recorder{name: "a", trace: &trace}
	b := &recorder{name: "b", trace: &trace}
	c := &recorder{name: "c", trace: &trace}
	d := &recorder{name: "d", trace: &trace}
	for _, r := range []*recorder{a, b, c, d} {
		hub.Subscribe(r)
	}

	hub.Unsubscribe(b)
	hub.Subscribe(b)
	hub.OnResult(newAdv())

	assert.Equal(t, []string{"a", "c", "d", "b"}, trace)
}

func TestHub_PanickingSubscriberDoesNotAbortFanOut(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	hub := scanner.NewHub(helper.Logger, 0)

	var trace []string
	a := &recorder{name: "a", trace: &trace}
	c := &recorder{name: "c", trace: &trace}
	hub.Subscribe(a)
	hub.Subscribe(panicking{})
	hub.Subscribe(c)

	assert.NotPanics(t, func() { hub.OnResult(newAdv()) })
	assert.Equal(t, []string{"a", "c"}, trace, "subscribers after the failing one MUST still be notified")
	assert.Len(t, helper.EntriesAt(logrus.ErrorLevel), 1)
}

// sliceHolder is a value-type subscriber whose dynamic type is not comparable.
type sliceHolder struct {
	seen []string
}

func (sliceHolder) OnResult(radio.Advertisement) {}

func TestHub_NonComparableSubscriberIsRejected(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	hub := scanner.NewHub(helper.Logger, 0)
	a := &recorder{name: "a"}
	hub.Subscribe(a)

	assert.NotPanics(t, func() {
		hub.Subscribe(sliceHolder{})
		hub.Subscribe(sliceHolder{seen: []string{"x"}})
		hub.Unsubscribe(sliceHolder{})
	})
	assert.Equal(t, 1, hub.Len(), "non-comparable handle MUST NOT be registered")
	assert.Len(t, helper.EntriesAt(logrus.WarnLevel), 2)

	hub.OnResult(newAdv())
	assert.Len(t, a.got, 1)
}

// selfRemover unsubscribes itself from inside the callback.
type selfRemover struct {
	hub   *scanner.Hub
	calls int
}

func (s *selfRemover) OnResult(radio.Advertisement) {
	s.calls++
	s.hub.Unsubscribe(s)
}

func TestHub_SubscriberMayUnsubscribeDuringFanOut(t *testing.T) {
	hub := scanner.NewHub(nil, 0)
	self := &selfRemover{hub: hub}
	tail := &recorder{name: "tail"}
	hub.Subscribe(self)
	hub.Subscribe(tail)

	hub.OnResult(newAdv())
	hub.OnResult(newAdv())

	assert.Equal(t, 1, self.calls)
	assert.Len(t, tail.got, 2)
}

func TestHub_ConcurrentSubscribeAndDispatch(t *testing.T) {
	hub := scanner.NewHub(nil, 0)
	adv := newAdv()
	subs := make([]*recorder, 50)
	for i := range subs {
		subs[i] = &recorder{}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for _, s := range subs {
			hub.Subscribe(s)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			hub.OnResult(adv)
		}
	}()
	wg.Wait()

	assert.Equal(t, len(subs), hub.Len())
}
