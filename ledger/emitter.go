package ledger

import (
	"sync"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// DefaultEmitterBuffer is the number of events buffered in an emitter's
// channel before it starts spilling into its overflow list.
const DefaultEmitterBuffer = 20

// Emitter delivers a plugin's events to a single consumer. Emitting never
// blocks on a slow consumer: events queue up in memory until they're read.
type Emitter struct {
	queue *fn.ConcurrentQueue[Event]

	stopOnce sync.Once
	quit     chan struct{}
}

// NewEmitter returns a running emitter.
func NewEmitter(bufferSize int) *Emitter {
	queue := fn.NewConcurrentQueue[Event](bufferSize)
	queue.Start()

	return &Emitter{
		queue: queue,
		quit:  make(chan struct{}),
	}
}

// Emit queues ev for delivery. It returns false if the emitter was stopped.
func (e *Emitter) Emit(ev Event) bool {
	select {
	case e.queue.ChanIn() <- ev:
		return true

	case <-e.quit:
		log.Debugf("Dropping %v event from %v, emitter stopped",
			EventName(ev), ev.Ledger())

		return false
	}
}

// Events returns the channel events are delivered on.
func (e *Emitter) Events() <-chan Event {
	return e.queue.ChanOut()
}

// Quit is closed once the emitter is stopped.
func (e *Emitter) Quit() <-chan struct{} {
	return e.quit
}

// Stop shuts the emitter down. Undelivered events are dropped.
func (e *Emitter) Stop() {
	e.stopOnce.Do(func() {
		close(e.quit)
		e.queue.Stop()
	})
}
