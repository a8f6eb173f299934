// Package bus is the publish/subscribe fabric routing typed events to
// device-private channels or the broadcast channel. Delivery is
// at-most-once: publishers retry briefly when the fabric is saturated and
// then drop, and a slow subscriber loses events rather than blocking the
// dispatch loop.
package bus

import (
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"ensemble/internal/logging"
)

// Handler is an in-process event callback. Handlers run on the dispatch
// goroutine; panics are recovered and logged per handler.
type Handler func(Event)

// Options tunes bus queue sizes and publish retry behavior.
type Options struct {
	ChannelBuffer  int
	PublishRetries int
}

// Bus routes events between coordination components and device connection
// handlers.
type Bus struct {
	logger  *slog.Logger
	buffer  int
	retries int

	dispatchCh chan Event
	done       chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup

	mu       sync.Mutex
	handlers map[EventType][]Handler
	subs     map[string]chan Event
}

// New constructs a bus and starts its dispatch loop.
func New(opts Options, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = logging.NewNop()
	}
	buffer := opts.ChannelBuffer
	if buffer <= 0 {
		buffer = 64
	}
	retries := opts.PublishRetries
	if retries < 0 {
		retries = 0
	}

	b := &Bus{
		logger:     logging.NewComponentLogger(logger, "bus"),
		buffer:     buffer,
		retries:    retries,
		dispatchCh: make(chan Event, buffer),
		done:       make(chan struct{}),
		handlers:   make(map[EventType][]Handler),
		subs:       make(map[string]chan Event),
	}
	b.wg.Add(1)
	go b.dispatchLoop()
	return b
}

// Close stops the dispatch loop and closes all subscriptions.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
		b.wg.Wait()

		b.mu.Lock()
		defer b.mu.Unlock()
		for deviceID, ch := range b.subs {
			close(ch)
			delete(b.subs, deviceID)
		}
	})
}

// On registers an in-process handler for an event type.
func (b *Bus) On(eventType EventType, handler Handler) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish routes an event without blocking the caller. When the dispatch
// queue is saturated, delivery is retried with backoff on a separate
// goroutine for a bounded number of attempts and then dropped. An event
// spilled to retry may be dispatched after one published later, so a
// saturated bus can reorder events from the same producer.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	select {
	case b.dispatchCh <- event:
		return
	case <-b.done:
		return
	default:
	}
	go b.retryPublish(event)
}

func (b *Bus) retryPublish(event Event) {
	delay := 10 * time.Millisecond
	for attempt := 0; attempt <= b.retries; attempt++ {
		timer := time.NewTimer(delay)
		select {
		case b.dispatchCh <- event:
			timer.Stop()
			return
		case <-b.done:
			timer.Stop()
			return
		case <-timer.C:
		}
		if next := delay * 2; next <= 500*time.Millisecond {
			delay = next
		}
	}
	b.logger.Warn("event dropped, dispatch queue saturated",
		logging.String(logging.FieldEventType, string(event.Type)),
		logging.Int("retries", b.retries))
}

// Subscribe attaches a device's private channel and returns the receive
// side. Subscribing a device that already holds a subscription supersedes
// it: the previous channel is closed so only one live subscription exists
// per device.
func (b *Bus) Subscribe(deviceID string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if prev, ok := b.subs[deviceID]; ok {
		close(prev)
	}
	ch := make(chan Event, b.buffer)
	b.subs[deviceID] = ch
	return ch
}

// Unsubscribe detaches a device's private channel. Idempotent.
func (b *Bus) Unsubscribe(deviceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[deviceID]; ok {
		close(ch)
		delete(b.subs, deviceID)
	}
}

// Subscribed reports whether a device currently holds a subscription.
func (b *Bus) Subscribed(deviceID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.subs[deviceID]
	return ok
}

func (b *Bus) dispatchLoop() {
	defer b.wg.Done()
	for {
		select {
		case event := <-b.dispatchCh:
			b.deliver(event)
		case <-b.done:
			return
		}
	}
}

func (b *Bus) deliver(event Event) {
	b.mu.Lock()
	handlers := append([]Handler(nil), b.handlers[event.Type]...)
	b.mu.Unlock()

	for _, handler := range handlers {
		b.invoke(handler, event)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if event.Broadcast() {
		for deviceID, ch := range b.subs {
			b.send(deviceID, ch, event)
		}
		return
	}
	for _, deviceID := range event.TargetDeviceIDs {
		if ch, ok := b.subs[deviceID]; ok {
			b.send(deviceID, ch, event)
		}
	}
}

// send delivers to a subscription without blocking; a full channel drops
// the event. Callers hold b.mu, which also serializes sends against
// channel close in Subscribe/Unsubscribe.
func (b *Bus) send(deviceID string, ch chan Event, event Event) {
	select {
	case ch <- event:
	default:
		b.logger.Warn("subscriber queue full, event dropped",
			logging.String(logging.FieldDeviceID, deviceID),
			logging.String(logging.FieldEventType, string(event.Type)))
	}
}

func (b *Bus) invoke(handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				logging.String(logging.FieldEventType, string(event.Type)),
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())))
		}
	}()
	handler(event)
}
