// Package eventbus is the in-process pub/sub broker for node lifecycle
// events (§4.6): block commits, transaction admission, and deliberation
// state transitions. Synchronous subscribers (such as cmd/orbisnode's
// governance-height updater) register directly with OnEvent; external
// consumers attach through a bounded queue drained by SSERepository, which
// internal/api serves over SSE.
package eventbus

import (
	"log"
	"sync"
)

// EventType labels what happened.
type EventType string

const (
	EventBlockCommit EventType = "ledger.block"
	EventTxAdmitted  EventType = "ledger.tx"
	EventReorg       EventType = "reorg"

	EventDeliberationStarted  EventType = "deliberation.started"
	EventDeliberationRound    EventType = "deliberation.round"
	EventDeliberationRefined  EventType = "deliberation.refined"
	EventDeliberationTerminal EventType = "deliberation.terminal"
	EventDeliberationError    EventType = "deliberation.error"

	EventPeerJoined     EventType = "peer_joined"
	EventPeerGreylisted EventType = "peer_greylisted"
)

// Event carries a typed payload emitted after a state change.
type Event struct {
	Type EventType      `json:"type"`
	Data map[string]any `json:"data"`
}

// Handler is a synchronous subscriber callback.
type Handler func(Event)

// subscriberQueueSize bounds each async subscriber's backlog (§4.6): a
// slow SSE client drops events rather than blocking block production.
const subscriberQueueSize = 256

// Bus is the pub/sub broker. Synchronous handlers run inline under Emit;
// async subscribers (Subscribe) get a private bounded channel.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	subs     map[int]*subscriber
	nextID   int
}

type subscriber struct {
	ch     chan Event
	closed bool
}

// New creates a Bus with no subscribers.
func New() *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
		subs:     make(map[int]*subscriber),
	}
}

// OnEvent registers a synchronous handler invoked inline whenever typ is
// emitted, guarded by panic recovery so a misbehaving subscriber cannot
// halt block production.
func (b *Bus) OnEvent(typ EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[typ] = append(b.handlers[typ], h)
}

// Subscribe returns a channel of all future events and an unsubscribe
// func. Used by the SSE endpoint in internal/api; each connection gets its
// own bounded queue so one slow client cannot stall others.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	sub := &subscriber{ch: make(chan Event, subscriberQueueSize)}
	b.subs[id] = sub

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[id]; ok && !s.closed {
			s.closed = true
			close(s.ch)
			delete(b.subs, id)
		}
	}
	return sub.ch, unsubscribe
}

// Emit delivers ev to every synchronous handler for ev.Type, then fans it
// out to async subscribers. A full subscriber queue drops the event rather
// than blocking the caller (§4.6 backpressure: slow consumers lose events,
// the chain never stalls for them).
func (b *Bus) Emit(ev Event) {
	b.mu.RLock()
	handlers := b.handlers[ev.Type]
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[eventbus] handler panicked for %s: %v", ev.Type, r)
				}
			}()
			h(ev)
		}()
	}

	for _, s := range subs {
		select {
		case s.ch <- ev:
		default:
			log.Printf("[eventbus] dropping %s for slow subscriber", ev.Type)
		}
	}
}

// PublishBlock implements ledger.EventSink, translating an accepted block
// into a ledger.block event.
func (b *Bus) PublishBlock(height int64, hash string) {
	b.Emit(Event{Type: EventBlockCommit, Data: map[string]any{"height": height, "hash": hash}})
}

// PublishTx implements ledger.EventSink.
func (b *Bus) PublishTx(id string, txType string) {
	b.Emit(Event{Type: EventTxAdmitted, Data: map[string]any{"id": id, "type": txType}})
}
