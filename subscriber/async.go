package subscriber

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"github.com/srg/blescan/internal/groutine"
	"github.com/srg/blescan/internal/radio"
)

// MaxAsyncBuffer guards against accidental misconfiguration.
const MaxAsyncBuffer uint32 = 1024 * 1024

// AsyncMetrics counts what an Async subscriber did with its input.
type AsyncMetrics struct {
	Received    int64
	Delivered   int64
	Overwritten int64
	Failed      int64
}

// Target is anything that accepts advertisements; scanner.Subscriber values
// qualify.
type Target interface {
	OnResult(adv radio.Advertisement)
}

// Async decouples a slow subscriber from the radio callback.
//
// OnResult only enqueues into an overlapped ring buffer (oldest entries are
// overwritten when full); a dedicated goroutine drains the buffer into the
// wrapped target in arrival order.
type Async struct {
	target Target
	buffer mpmc.RichOverlappedRingBuffer[radio.Advertisement]
	wake   chan struct{}
	logger *logrus.Logger

	received    atomic.Int64
	delivered   atomic.Int64
	overwritten atomic.Int64
	failed      atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   <-chan struct{}
}

// NewAsync wraps target with a ring buffer of bufferSize entries.
func NewAsync(target Target, bufferSize uint32, logger *logrus.Logger) (*Async, error) {
	if target == nil {
		return nil, fmt.Errorf("target cannot be nil")
	}
	if bufferSize == 0 {
		return nil, fmt.Errorf("buffer size must be > 0")
	}
	if bufferSize > MaxAsyncBuffer {
		return nil, fmt.Errorf("buffer size %d exceeds maximum %d", bufferSize, MaxAsyncBuffer)
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Async{
		target: target,
		buffer: mpmc.NewOverlappedRingBuffer[radio.Advertisement](bufferSize),
		wake:   make(chan struct{}, 1),
		logger: logger,
	}, nil
}

// Start launches the drain goroutine. Starting twice is an error.
func (a *Async) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel != nil {
		return fmt.Errorf("async subscriber is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = groutine.Go(ctx, "async-subscriber", a.run)
	return nil
}

// Stop halts the drain goroutine after delivering what is already buffered.
func (a *Async) Stop() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// OnResult enqueues adv without blocking.
func (a *Async) OnResult(adv radio.Advertisement) {
	a.received.Add(1)

	overwrites, err := a.buffer.EnqueueM(adv)
	if err != nil {
		a.failed.Add(1)
		a.logger.WithError(err).Warn("Failed to enqueue advertisement")
		return
	}
	a.overwritten.Add(int64(overwrites))

	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// Metrics returns a snapshot of the counters.
func (a *Async) Metrics() AsyncMetrics {
	return AsyncMetrics{
		Received:    a.received.Load(),
		Delivered:   a.delivered.Load(),
		Overwritten: a.overwritten.Load(),
		Failed:      a.failed.Load(),
	}
}

func (a *Async) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			a.drain()
			return
		case <-a.wake:
			a.drain()
		}
	}
}

func (a *Async) drain() {
	for !a.buffer.IsEmpty() {
		adv, err := a.buffer.Dequeue()
		if err != nil {
			return
		}
		a.deliver(adv)
	}
}

func (a *Async) deliver(adv radio.Advertisement) {
	defer func() {
		if r := recover(); r != nil {
			a.failed.Add(1)
			a.logger.WithField("panic", r).Error("Async target failed to handle advertisement")
		}
	}()
	a.target.OnResult(adv)
	a.delivered.Add(1)
}
