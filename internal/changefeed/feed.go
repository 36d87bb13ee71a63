// Package changefeed broadcasts "something changed" events for conversations
// and messages. Events never carry authoritative state; subscribers re-read
// from the store. Delivery is at-least-once and handlers must be idempotent.
package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Entity string

const (
	EntityMessages      Entity = "messages"
	EntityConversations Entity = "conversations"
)

type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	// OpResync tells subscribers that events may have been missed and every
	// view must be re-fetched.
	OpResync Op = "resync"
)

var ErrClosed = errors.New("changefeed: closed")

type Event struct {
	ID             uuid.UUID `json:"id"`
	Entity         Entity    `json:"entity"`
	Op             Op        `json:"op"`
	ConversationID int64     `json:"conversation_id,omitempty"`
	ParticipantIDs []int64   `json:"participant_ids,omitempty"`
	At             time.Time `json:"at"`
}

func NewEvent(entity Entity, op Op, conversationID int64, participantIDs ...int64) Event {
	return Event{
		ID:             uuid.New(),
		Entity:         entity,
		Op:             op,
		ConversationID: conversationID,
		ParticipantIDs: participantIDs,
		At:             time.Now().UTC(),
	}
}

func ResyncEvent() Event {
	return Event{ID: uuid.New(), Op: OpResync, At: time.Now().UTC()}
}

func encodeEvent(event Event) ([]byte, error) {
	return json.Marshal(event)
}

func decodeEvent(payload []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if event.Op == "" {
		return Event{}, fmt.Errorf("decode event: missing op")
	}
	return event, nil
}

type Handler func(Event)

type Unsubscribe func()

type Feed interface {
	Publish(ctx context.Context, event Event) error
	// Subscribe registers handler for events of entity. Resync events reach
	// every subscriber regardless of entity.
	Subscribe(entity Entity, handler Handler) Unsubscribe
	Close() error
}

type registry struct {
	mu     sync.RWMutex
	nextID int
	subs   map[Entity]map[int]Handler
}

func newRegistry() *registry {
	return &registry{subs: make(map[Entity]map[int]Handler)}
}

func (r *registry) subscribe(entity Entity, handler Handler) Unsubscribe {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	set, ok := r.subs[entity]
	if !ok {
		set = make(map[int]Handler)
		r.subs[entity] = set
	}
	set[id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.subs[entity], id)
			if len(r.subs[entity]) == 0 {
				delete(r.subs, entity)
			}
		})
	}
}

func (r *registry) dispatch(event Event) {
	r.mu.RLock()
	handlers := make([]Handler, 0)
	if event.Op == OpResync {
		for _, set := range r.subs {
			for _, handler := range set {
				handlers = append(handlers, handler)
			}
		}
	} else {
		for _, handler := range r.subs[event.Entity] {
			handlers = append(handlers, handler)
		}
	}
	r.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, set := range r.subs {
		total += len(set)
	}
	return total
}
