// Package bus implements the in-process publish/subscribe registry
// that fans events out to every subsystem of the core trading
// pipeline. It is the single-process analogue of the teacher's NATS
// transport: same subject-based routing, but synchronous and ordered
// within a topic, with no network hop.
package bus

import (
	"log"
	"reflect"
	"sync"
)

// Handler receives a published payload. A handler must not block
// indefinitely; publish awaits each handler in turn for the topic it
// was invoked on.
type Handler func(payload any)

// Bus is a topic -> ordered handler list registry guarded by a single
// mutex. Publish takes a snapshot of the handler slice under the lock
// and then invokes handlers outside the lock, so a handler is free to
// subscribe or unsubscribe without deadlocking the bus.
type Bus struct {
	mu       sync.Mutex
	handlers map[string][]Handler
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

// Subscribe registers handler on topic. The same handler value may be
// subscribed more than once; each registration is delivered to
// separately.
func (b *Bus) Subscribe(topic string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
}

// Unsubscribe removes the first registration of handler on topic, if
// present. Handler identity is compared by pointer, so pass the same
// func value that was subscribed (wrap methods once and keep the
// wrapper around to unsubscribe it later).
func (b *Bus) Unsubscribe(topic string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.handlers[topic]
	for i, h := range list {
		if sameFunc(h, handler) {
			b.handlers[topic] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Publish snapshots the handler list for topic under the lock, then
// invokes each handler, in subscription order, outside the lock. A
// handler that panics is logged and swallowed; remaining handlers
// still run. Subscribe/Unsubscribe calls made during this Publish do
// not affect the snapshot already taken.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.Lock()
	snapshot := make([]Handler, len(b.handlers[topic]))
	copy(snapshot, b.handlers[topic])
	b.mu.Unlock()

	for _, handler := range snapshot {
		invoke(topic, handler, payload)
	}
}

func invoke(topic string, handler Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("bus: handler for %q panicked: %v", topic, r)
		}
	}()
	handler(payload)
}

// Unsubscribe needs to find the handler previously registered. Go
// funcs aren't comparable, so sameFunc compares their code pointers
// via reflect. Two closures created from the same func literal, or two
// method values of the same method on different receivers, share a
// code pointer and so compare equal.
func sameFunc(a, b Handler) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

// Subscription registers handler on topic and returns a func that
// unsubscribes it. Callers that want scoped registration should defer
// the returned func, mirroring spec's subscription() context manager:
//
//	unsub := b.Subscription("ticks", onTick)
//	defer unsub()
func (b *Bus) Subscription(topic string, handler Handler) (unsubscribe func()) {
	b.Subscribe(topic, handler)
	return func() { b.Unsubscribe(topic, handler) }
}
