package gate

import (
	"context"
	"sync"
)

type queueItem struct {
	ctx  context.Context
	op   Op
	done func(error)
}

// opQueue is an unbounded FIFO of pending operations. Push never blocks;
// the worker is woken through the ready channel.
type opQueue struct {
	mu    sync.Mutex
	items []queueItem
	ready chan struct{}
}

func newOpQueue() *opQueue {
	return &opQueue{ready: make(chan struct{}, 1)}
}

func (q *opQueue) push(item queueItem) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// pop returns the oldest item, or false if the queue is empty.
func (q *opQueue) pop() (queueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return queueItem{}, false
	}
	item := q.items[0]
	q.items[0] = queueItem{}
	q.items = q.items[1:]
	return item, true
}

// drain removes and returns every queued item.
func (q *opQueue) drain() []queueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *opQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
