package events

import (
	"sync"

	"github.com/google/logger"
)

// EventType labels what happened.
type EventType string

const (
	EventBlockCommit         EventType = "block_commit"
	EventTxExecuted          EventType = "tx_executed"
	EventTxFailed            EventType = "tx_failed"
	EventTokenTransfer       EventType = "token_transfer"
	EventLotteryInitialized  EventType = "lottery_initialized"
	EventLotteryStatus       EventType = "lottery_status"
	EventRoundStarted        EventType = "round_started"
	EventTicketPurchased     EventType = "ticket_purchased"
	EventRoundClosed         EventType = "round_closed"
	EventRandomnessFulfilled EventType = "randomness_fulfilled"
	EventPayoutCompleted     EventType = "payout_completed"
)

// Event carries a typed payload emitted after a state change.
type Event struct {
	Type        EventType      `json:"type"`
	TxID        string         `json:"tx_id"`
	BlockHeight int64          `json:"block_height"`
	Data        map[string]any `json:"data"`
}

// Handler is a callback invoked for matching events.
type Handler func(Event)

// Emitter is a simple pub/sub broker. Subscribe before Emit.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	all      []Handler
}

// NewEmitter creates an Emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[EventType][]Handler)}
}

// Subscribe registers h to be called whenever typ is emitted.
func (e *Emitter) Subscribe(typ EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], h)
}

// SubscribeAll registers h for every event type, after the typed handlers.
func (e *Emitter) SubscribeAll(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, h)
}

// Emit delivers ev to all subscribers for ev.Type synchronously.
// Each handler is guarded by panic recovery so a misbehaving subscriber
// cannot crash the node or halt block production.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	handlers := make([]Handler, 0, len(e.handlers[ev.Type])+len(e.all))
	handlers = append(handlers, e.handlers[ev.Type]...)
	handlers = append(handlers, e.all...)
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("[events] handler panicked for %s: %v", ev.Type, r)
				}
			}()
			h(ev)
		}()
	}
}

// Buffer collects events raised while a transaction executes. The executor
// flushes it to the Emitter only when the transaction succeeds, so
// subscribers never observe effects that were rolled back.
type Buffer struct {
	events []Event
}

// Add queues ev.
func (b *Buffer) Add(ev Event) { b.events = append(b.events, ev) }

// Len returns the number of queued events.
func (b *Buffer) Len() int { return len(b.events) }

// Flush emits every queued event in order and empties the buffer.
// A nil emitter discards them.
func (b *Buffer) Flush(e *Emitter) {
	if e != nil {
		for _, ev := range b.events {
			e.Emit(ev)
		}
	}
	b.events = nil
}

// Discard drops every queued event.
func (b *Buffer) Discard() { b.events = nil }
