package relay

import "sync"

// Emitter delivers adapter events in emission order from its own goroutine.
// Pushing never blocks, so an adapter may report events from inside a call
// made by the session loop (e.g. a local TurnEnd from Interrupt).
type Emitter struct {
	events Events

	mu     sync.Mutex
	queue  []func()
	notify chan struct{}

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewEmitter starts the delivery goroutine. Nil callbacks are skipped.
func NewEmitter(events Events) *Emitter {
	e := &Emitter{
		events: events,
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *Emitter) Chunk(c Chunk) {
	if e.events.OnChunk != nil {
		e.push(func() { e.events.OnChunk(c) })
	}
}

func (e *Emitter) TurnEnd(t TurnEnd) {
	if e.events.OnTurnEnd != nil {
		e.push(func() { e.events.OnTurnEnd(t) })
	}
}

func (e *Emitter) Fault(f Fault) {
	if e.events.OnError != nil {
		e.push(func() { e.events.OnError(f) })
	}
}

// Close stops delivery. Events still queued are discarded.
func (e *Emitter) Close() {
	e.stopOnce.Do(func() { close(e.stop) })
	<-e.done
}

func (e *Emitter) push(fn func()) {
	e.mu.Lock()
	e.queue = append(e.queue, fn)
	e.mu.Unlock()

	select {
	case e.notify <- struct{}{}:
	default:
	}
}

func (e *Emitter) run() {
	defer close(e.done)
	for {
		select {
		case <-e.stop:
			return
		case <-e.notify:
		}

		for {
			e.mu.Lock()
			if len(e.queue) == 0 {
				e.mu.Unlock()
				break
			}
			fn := e.queue[0]
			e.queue[0] = nil
			e.queue = e.queue[1:]
			e.mu.Unlock()

			select {
			case <-e.stop:
				return
			default:
			}
			fn()
		}
	}
}
