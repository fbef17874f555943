package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/natfailover/pkg/metrics"
)

// EventType represents the type of event
type EventType string

const (
	EventControllerStarted EventType = "controller.started"
	EventControllerStopped EventType = "controller.stopped"
	EventPeerTransition    EventType = "peer.transition"
	EventRouteChanged      EventType = "route.changed"
	EventRouteFailed       EventType = "route.failed"
	EventPowerIssued       EventType = "power.issued"
	EventPowerFailed       EventType = "power.failed"
	EventTakeoverBlocked   EventType = "takeover.blocked"
	EventHandbackBlocked   EventType = "handback.blocked"
)

// Event is a timestamped record of something the controller observed or did
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Node      string            `json:"node,omitempty"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

const (
	queueSize      = 100
	subscriberSize = 50
)

// Broker fans published events out to subscribers from a single goroutine
type Broker struct {
	queue chan *Event
	done  chan struct{}
	once  sync.Once

	mu   sync.RWMutex
	subs map[Subscriber]struct{}

	dropped atomic.Uint64
}

// NewBroker creates a broker. Nothing is delivered until Start.
func NewBroker() *Broker {
	return &Broker{
		queue: make(chan *Event, queueSize),
		done:  make(chan struct{}),
		subs:  make(map[Subscriber]struct{}),
	}
}

// Start launches the delivery goroutine
func (b *Broker) Start() {
	go func() {
		for {
			select {
			case event := <-b.queue:
				b.deliver(event)
			case <-b.done:
				return
			}
		}
	}()
}

// Stop ends delivery. Subscriber channels stay open until Unsubscribe.
func (b *Broker) Stop() {
	b.once.Do(func() { close(b.done) })
}

// Subscribe registers a buffered channel for every future event
func (b *Broker) Subscribe() Subscriber {
	sub := make(Subscriber, subscriberSize)

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes and closes sub. Unknown subscribers are ignored.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub)
}

// Publish stamps event with an ID and timestamp when missing and queues it.
// A full queue drops the event instead of stalling the control loop.
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.queue <- event:
	case <-b.done:
	default:
		b.drop()
	}
}

func (b *Broker) deliver(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		select {
		case sub <- event:
		default:
			b.drop()
		}
	}
}

func (b *Broker) drop() {
	b.dropped.Add(1)
	metrics.EventsDropped.Inc()
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many events or deliveries were discarded
func (b *Broker) Dropped() uint64 {
	return b.dropped.Load()
}
