package server

import (
	"context"
	"sync"

	"github.com/MarcoPoloResearchLab/tally/backend/internal/polls"
)

// RealtimeEventPollsUpdate is the SSE event name carrying poll mutations.
const RealtimeEventPollsUpdate = "polls:update"

const realtimeEventHeartbeat = "heartbeat"

// RealtimeDispatcher fans poll events out to every connected client. There is
// no per-poll filtering: each subscriber receives every event and decides
// relevance itself. Delivery is best-effort; the dispatcher is a liveness
// convenience, never a source of truth.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan polls.Event
}

// NewRealtimeDispatcher constructs a dispatcher with no subscribers.
func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[int64]*realtimeSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a stream that receives every published event until the
// context is done or the cleanup function runs.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context) (<-chan polls.Event, func()) {
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan polls.Event, d.bufferSize),
	}
	d.registerSubscriber(subscriber)
	cleanup := func() {
		d.unregisterSubscriber(subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// PublishPollEvent implements polls.Notifier. Publishing never blocks: a
// subscriber whose buffer is full misses the event and catches up from the
// store on its next full refresh.
func (d *RealtimeDispatcher) PublishPollEvent(event polls.Event) {
	if event.Action == "" {
		return
	}
	d.mu.RLock()
	copies := make([]*realtimeSubscriber, 0, len(d.subscribers))
	for _, subscriber := range d.subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers[subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(subscriberID int64) {
	d.mu.Lock()
	delete(d.subscribers, subscriberID)
	d.mu.Unlock()
}
