package edge

import (
	"sync"
	"time"
)

// Lifecycle events published by Bus. Only these three are meaningful;
// this is not a general-purpose message bus.
const (
	EventPrepare = "prepare"
	EventGo      = "go"
	EventStop    = "stop"
)

// Bus is a minimal synchronous publish/subscribe register used to sequence
// startup and shutdown without wiring the listener supervisor, admission
// controller, and ticket rotator together directly inside func main. It
// intentionally has no topics beyond the lifecycle events above.
type Bus struct {
	mu   sync.Mutex
	subs map[string][]func()
}

// NewBus returns a ready-to-use Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]func())}
}

// On registers fn to run every time event is published, in registration
// order.
func (b *Bus) On(event string, fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[event] = append(b.subs[event], fn)
}

// Publish runs every handler registered for event, synchronously, in
// registration order.
func (b *Bus) Publish(event string) {
	b.mu.Lock()
	handlers := append([]func(){}, b.subs[event]...)
	b.mu.Unlock()
	for _, fn := range handlers {
		fn()
	}
}

// StopAfter publishes EventStop after delay. A delay of 0 (or less)
// publishes synchronously, before StopAfter returns: the "stopAfter(0)"
// escalation path the admission controller and the signal handler use.
func (b *Bus) StopAfter(delay time.Duration) {
	if delay <= 0 {
		b.Publish(EventStop)
		return
	}
	time.AfterFunc(delay, func() { b.Publish(EventStop) })
}
