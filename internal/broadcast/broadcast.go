package broadcast

import (
	"context"
	"sync"

	"reserva/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Filter selects which change events a subscriber receives. Zero values match
// everything: an empty EntityType subscribes to all streams, EntityID 0 to
// all ids of the chosen type.
type Filter struct {
	EntityType string
	EntityID   int64
}

// Matches reports whether the event passes the filter.
func (f Filter) Matches(event models.ChangeEvent) bool {
	if f.EntityType != "" && f.EntityType != event.EntityType {
		return false
	}
	if f.EntityID != 0 && f.EntityID != event.EntityID {
		return false
	}
	return true
}

// Subscription is a live event stream. Events arrives in publish order, which
// the dispatcher guarantees is commit order per entity id. Delivery is
// at-least-once; consumers apply a monotonic commit_sequence check per entity
// to drop duplicates.
type Subscription struct {
	ID     string
	Events <-chan models.ChangeEvent
}

type subscriber struct {
	id     string
	filter Filter
	out    chan models.ChangeEvent

	mu    sync.Mutex
	queue []models.ChangeEvent
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// Broadcaster fans committed change events out to in-process subscribers.
// Publish never blocks: each subscriber has its own pending queue and pump
// goroutine, so one slow console cannot stall the dispatcher or another
// observer.
type Broadcaster struct {
	logger zerolog.Logger
	buffer int

	mu   sync.RWMutex
	subs map[string]*subscriber
}

func NewBroadcaster(logger *zerolog.Logger) *Broadcaster {
	var bLogger zerolog.Logger
	if logger != nil {
		bLogger = logger.With().Str("component", "broadcast").Logger()
	}
	return &Broadcaster{
		logger: bLogger,
		buffer: models.DefaultSubscriberBuffer,
		subs:   make(map[string]*subscriber),
	}
}

// Name implements the event sink interface.
func (b *Broadcaster) Name() string { return "broadcast" }

// Publish queues the event for every matching subscriber and returns
// immediately.
func (b *Broadcaster) Publish(_ context.Context, event models.ChangeEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if !sub.filter.Matches(event) {
			continue
		}
		sub.mu.Lock()
		sub.queue = append(sub.queue, event)
		sub.mu.Unlock()

		select {
		case sub.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

// Subscribe registers an observer for an entity stream. entityType "" means
// all entity types, entityID 0 all ids. Missed history is not replayed:
// consumers reconcile by re-fetching current state before resuming
// incremental updates.
func (b *Broadcaster) Subscribe(entityType string, entityID int64) *Subscription {
	sub := &subscriber{
		id:     uuid.NewString(),
		filter: Filter{EntityType: entityType, EntityID: entityID},
		out:    make(chan models.ChangeEvent, b.buffer),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	go sub.pump()

	b.logger.Debug().Str("handle", sub.id).Str("entity_type", entityType).Int64("entity_id", entityID).Msg("subscriber added")
	return &Subscription{ID: sub.id, Events: sub.out}
}

// Unsubscribe releases the subscriber's resources and closes its event
// channel. Safe to call multiple times.
func (b *Broadcaster) Unsubscribe(handle string) {
	b.mu.Lock()
	sub, ok := b.subs[handle]
	delete(b.subs, handle)
	b.mu.Unlock()

	if ok {
		sub.once.Do(func() { close(sub.done) })
	}
}

// SubscriberCount returns the number of live subscriptions.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (sub *subscriber) pump() {
	defer close(sub.out)

	for {
		select {
		case <-sub.done:
			return
		case <-sub.wake:
		}

		for {
			sub.mu.Lock()
			if len(sub.queue) == 0 {
				sub.mu.Unlock()
				break
			}
			event := sub.queue[0]
			sub.queue = sub.queue[1:]
			sub.mu.Unlock()

			select {
			case sub.out <- event:
			case <-sub.done:
				return
			}
		}
	}
}
