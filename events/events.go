// Package events provides typed emitters the scanner uses to announce the progress of a scan: the start of
// exploration, each finished round of message calls and the end of the scan.
package events

import "sync"

// EventHandler is a callback receiving published events of type T.
type EventHandler[T any] func(T)

// EventEmitter publishes events of type T to its subscribers in subscription order. Subscribing and publishing may
// happen from different goroutines; handlers run on the publishing goroutine.
type EventEmitter[T any] struct {
	// lock guards subscriptions.
	lock sync.RWMutex

	// subscriptions holds the live handlers keyed by subscription id.
	subscriptions map[uint64]EventHandler[T]

	// order holds the ids of the live handlers in subscription order.
	order []uint64

	// nextID is the id given to the next subscription.
	nextID uint64
}

// Publish calls every subscribed handler with event. Handlers subscribed or removed while the event is being
// published take effect from the next event.
func (e *EventEmitter[T]) Publish(event T) {
	e.lock.RLock()
	handlers := make([]EventHandler[T], 0, len(e.order))
	for _, id := range e.order {
		handlers = append(handlers, e.subscriptions[id])
	}
	e.lock.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// Subscribe adds a handler called for every event published afterwards. The returned function removes the handler
// and may be called more than once.
func (e *EventEmitter[T]) Subscribe(handler EventHandler[T]) func() {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.subscriptions == nil {
		e.subscriptions = make(map[uint64]EventHandler[T])
	}
	id := e.nextID
	e.nextID++
	e.subscriptions[id] = handler
	e.order = append(e.order, id)

	return func() {
		e.lock.Lock()
		defer e.lock.Unlock()
		if _, ok := e.subscriptions[id]; !ok {
			return
		}
		delete(e.subscriptions, id)
		for i, other := range e.order {
			if other == id {
				e.order = append(e.order[:i:i], e.order[i+1:]...)
				break
			}
		}
	}
}

// Len returns the number of live subscriptions.
func (e *EventEmitter[T]) Len() int {
	e.lock.RLock()
	defer e.lock.RUnlock()
	return len(e.order)
}
