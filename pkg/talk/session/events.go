package session

import "sync"

// Event is the interface for all controller events.
type Event interface {
	// EventType returns the event type string.
	EventType() string
}

// StateChangedEvent is emitted on every state transition.
type StateChangedEvent struct {
	From State
	To   State
}

func (e *StateChangedEvent) EventType() string { return "state.changed" }

// ProcessingEvent reports whether the assistant is working on a reply.
type ProcessingEvent struct {
	Processing bool
}

func (e *ProcessingEvent) EventType() string { return "processing" }

// SpeechStartedEvent is emitted when the voice session detects speech.
type SpeechStartedEvent struct{}

func (e *SpeechStartedEvent) EventType() string { return "speech.started" }

// SpeechEndedEvent is emitted when detected speech ends.
type SpeechEndedEvent struct{}

func (e *SpeechEndedEvent) EventType() string { return "speech.ended" }

// MessageEvent carries an assistant message. AudioBytes is the size of the
// audio payload, if any; the audio itself is played by the controller.
type MessageEvent struct {
	Text       string
	AudioBytes int
}

func (e *MessageEvent) EventType() string { return "message" }

// ErrorEvent carries a user-facing error message.
type ErrorEvent struct {
	Kind    string
	Message string
}

func (e *ErrorEvent) EventType() string { return "error" }

// ErrorClearedEvent is emitted when a displayed error is dismissed.
type ErrorClearedEvent struct{}

func (e *ErrorClearedEvent) EventType() string { return "error.cleared" }

// eventQueue buffers events without bound and delivers them in order to one
// subscriber. The pump goroutine starts on the first subscribe; after close
// the remaining events are delivered and the channel is closed.
type eventQueue struct {
	mu      sync.Mutex
	items   []Event
	closed  bool
	started bool
	notify  chan struct{}
	out     chan Event
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		notify: make(chan struct{}, 1),
		out:    make(chan Event),
	}
}

func (q *eventQueue) push(ev Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()
	q.wake()
}

func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *eventQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *eventQueue) subscribe() <-chan Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.started {
		q.started = true
		go q.pump()
	}
	return q.out
}

func (q *eventQueue) pump() {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				close(q.out)
				return
			}
			<-q.notify
			continue
		}
		ev := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		q.mu.Unlock()

		q.out <- ev
	}
}
