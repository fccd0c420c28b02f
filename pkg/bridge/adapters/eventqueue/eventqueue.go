// Package eventqueue is the default bridge.EventQueueFactory: one
// goroutine and one bounded channel per queue. Unlike a shared worker
// pool with a blocking Submit, an EventQueue rejects immediately when
// full so a slow consumer can't stall the dispatcher goroutine that
// called Enqueue.
package eventqueue

import (
	"context"
	"fmt"

	"github.com/chris-alexander-pop/zmqbridge/pkg/bridge"
	"github.com/chris-alexander-pop/zmqbridge/pkg/concurrency"
)

// Factory creates one worker goroutine per queue.
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) NewQueue(name string, depth int) (bridge.EventQueue, error) {
	if depth <= 0 {
		return nil, fmt.Errorf("eventqueue: depth must be positive, got %d", depth)
	}
	q := &queue{
		name:  name,
		tasks: make(chan bridge.Task, depth),
		done:  make(chan struct{}),
	}
	concurrency.SafeGo(context.Background(), q.run)
	return q, nil
}

type queue struct {
	name  string
	tasks chan bridge.Task
	done  chan struct{}
}

func (q *queue) run() {
	defer close(q.done)
	for task := range q.tasks {
		runTask(task)
	}
}

// A panicking callback must not take the whole queue's worker
// goroutine down with it; SafeGo's recovery only covers the goroutine
// it launches once, so each task gets its own guard.
func runTask(task bridge.Task) {
	defer func() { recover() }()
	task()
}

func (q *queue) Enqueue(task bridge.Task) error {
	select {
	case q.tasks <- task:
		return nil
	default:
		return fmt.Errorf("eventqueue: %q is at capacity", q.name)
	}
}

func (q *queue) Close() error {
	close(q.tasks)
	<-q.done
	return nil
}
