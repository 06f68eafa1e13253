package relay

import "context"

// Adapter wraps one upstream conversational streaming session. A RelaySession
// is the only caller of its Adapter, so implementations need not guard against
// concurrent calls from more than one session.
type Adapter interface {
	// Start opens the upstream session. Handshake rejection must be returned
	// as an error wrapping ErrUpstreamUnavailable.
	Start(ctx context.Context, instructions string, events Events) error
	// SendAudio queues one client audio chunk. It returns ErrNoActiveSession
	// before Start, after End, or after a fatal fault.
	SendAudio(frame []byte) error
	// Interrupt abandons the in-flight response, if any, and returns its turn
	// number, or 0 when nothing was in flight. Events of that turn still
	// queued behind the call are dropped by the caller.
	Interrupt() (uint64, error)
	// End releases the upstream session. Repeated calls are no-ops.
	End(ctx context.Context) error
}

// Events are the callbacks an Adapter reports through. For every turn the
// adapter calls OnChunk zero or more times and then OnTurnEnd exactly once
// before any chunk of the next turn.
type Events struct {
	OnChunk   func(Chunk)
	OnTurnEnd func(TurnEnd)
	OnError   func(Fault)
}

// Chunk is one upstream→client piece of a response unit. Turn numbers start
// at 1 and increase per adapter; Seq starts at 1 within a turn.
type Chunk struct {
	Turn  uint64
	Seq   int
	Audio []byte
	Text  string
}

// TurnEnd is the terminal signal of a response unit.
type TurnEnd struct {
	Turn        uint64
	Interrupted bool
}

// Fault reports an upstream failure. After a fatal fault the upstream stream
// is gone and only End is meaningful.
type Fault struct {
	Err   error
	Fatal bool
}

// AdapterFactory creates a fresh Adapter for one session start.
type AdapterFactory interface {
	NewAdapter(sessionID string) (Adapter, error)
}

// AdapterFactoryFunc adapts a function to AdapterFactory.
type AdapterFactoryFunc func(sessionID string) (Adapter, error)

func (f AdapterFactoryFunc) NewAdapter(sessionID string) (Adapter, error) {
	return f(sessionID)
}
