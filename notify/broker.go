// Package notify provides the in-process notification broker: a typed
// channel-based publish/subscribe fabric carrying lifecycle
// notifications between the substrate's components and external
// observers (metrics, chat surfaces, log shippers).
//
// Publish never blocks. Each subscriber owns a buffered channel; when a
// subscriber falls behind and its buffer fills, notifications for that
// subscriber are dropped rather than stalling publishers. Backpressure
// by shedding is a deliberate choice: lifecycle notifications are
// observability data, not state.
package notify

import (
	"sync"

	"github.com/hupe1980/agenthub/core"
	"github.com/hupe1980/agenthub/logging"
)

// DefaultBuffer is the per-subscriber channel buffer used when
// Subscribe is called with a non-positive size.
const DefaultBuffer = 64

// Broker fans notifications out to all current subscribers. It
// implements core.Notifier and is safe for concurrent use.
type Broker struct {
	mu          sync.Mutex
	subscribers map[int]chan core.Notification
	nextID      int
	closed      bool
	logger      logging.Logger
}

// Options configures a Broker.
type Options struct {
	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// NewBroker constructs a broker with no subscribers.
func NewBroker(optFns ...func(o *Options)) *Broker {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Broker{subscribers: make(map[int]chan core.Notification), logger: opts.Logger}
}

// Subscribe registers a new subscriber and returns its channel plus a
// cancel function. Cancel is idempotent and closes the channel.
func (b *Broker) Subscribe(buffer int) (<-chan core.Notification, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan core.Notification, buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subscribers[id]; ok {
				delete(b.subscribers, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// Publish implements core.Notifier. Delivery to each subscriber is
// best-effort: a full buffer drops the notification for that subscriber
// only.
func (b *Broker) Publish(n core.Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for id, ch := range b.subscribers {
		select {
		case ch <- n:
		default:
			b.logger.Debug("notification dropped for slow subscriber", "subscriber", id, "kind", string(n.Kind))
		}
	}
}

// Close closes every subscriber channel and rejects future publishes.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
}
