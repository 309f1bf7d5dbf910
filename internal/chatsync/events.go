package chatsync

import (
	"sync"

	"github.com/Gopher0727/PortalChat/internal/model"
	"github.com/Gopher0727/PortalChat/internal/optimistic"
)

type Event string

const (
	// EventMessagesAppended carries messages added at the end of the view.
	EventMessagesAppended Event = "messages.appended"
	// EventMessagesUpdated carries held messages whose fields changed
	// (status, read-by, tombstone, or a temp id replaced by its server copy).
	EventMessagesUpdated Event = "messages.updated"
	// EventMessagesPrepended carries older messages added at the top; the
	// UI restores its scroll anchor instead of jumping.
	EventMessagesPrepended Event = "messages.prepended"
	// EventScrollLatest fires once per actual append, never on a
	// status-only change.
	EventScrollLatest    Event = "scroll.latest"
	EventGroupsRefreshed Event = "groups.refreshed"
	// EventSendFailed carries the temp id that left the view and the draft
	// to put back in the composer.
	EventSendFailed Event = "send.failed"
)

type Payload struct {
	GroupID  string
	Messages []model.Message
	Groups   []model.Group
	TempID   string
	Draft    *optimistic.Draft
	Err      error
}

type Handler func(event Event, payload Payload)

type emitter struct {
	mu        sync.RWMutex
	listeners map[Event][]Handler
}

func newEmitter() *emitter {
	return &emitter{listeners: make(map[Event][]Handler)}
}

func (e *emitter) on(event Event, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[event] = append(e.listeners[event], h)
}

// emit runs handlers synchronously on the caller's goroutine. It is never
// called with the controller lock held.
func (e *emitter) emit(event Event, p Payload) {
	e.mu.RLock()
	handlers := e.listeners[event]
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() { recover() }() // a broken listener must not stop the poll loop
			h(event, p)
		}()
	}
}
