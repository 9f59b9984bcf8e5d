package subscriber

import "github.com/srg/blescan/internal/radio"

// Func adapts a plain function to the subscriber interface.
// Always use it through the pointer returned by NewFunc so that the hub can
// compare subscriptions by identity.
type Func struct {
	fn func(adv radio.Advertisement)
}

// NewFunc wraps fn.
func NewFunc(fn func(adv radio.Advertisement)) *Func {
	return &Func{fn: fn}
}

// OnResult calls the wrapped function.
func (f *Func) OnResult(adv radio.Advertisement) {
	if f.fn != nil {
		f.fn(adv)
	}
}
