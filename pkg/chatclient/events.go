package chatclient

import (
	"sync"

	"github.com/weiawesome/wes-edu-relay/pkg/protocol"
)

type eventKind int

const (
	eventStatus eventKind = iota
	eventPresence
	eventMessage
	eventSystem
	eventReplay
)

type event struct {
	kind    eventKind
	status  Status
	users   []protocol.OnlineUser
	message protocol.ChatMessage
	system  protocol.System
	target  *Registration // nil delivers to every listener
}

// eventQueue is an unbounded FIFO drained by a single dispatcher, so the
// socket reader never blocks on a slow listener.
type eventQueue struct {
	mu     sync.Mutex
	items  []event
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{signal: make(chan struct{}, 1)}
}

func (q *eventQueue) push(e event) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *eventQueue) drain() []event {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items
}
