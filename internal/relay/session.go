package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

const (
	// DefaultHandshakeTimeout bounds the Starting state.
	DefaultHandshakeTimeout = 10 * time.Second
	// DefaultTeardownTimeout bounds the Ending state.
	DefaultTeardownTimeout = 5 * time.Second

	defaultMailboxSize = 64
)

// Sender delivers server frames to the client connection.
type Sender interface {
	Send(msg Outbound) error
}

// Options configure every Session created from them.
type Options struct {
	Instructions     string
	HandshakeTimeout time.Duration
	TeardownTimeout  time.Duration
	MailboxSize      int
}

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.TeardownTimeout <= 0 {
		o.TeardownTimeout = DefaultTeardownTimeout
	}
	if o.MailboxSize <= 0 {
		o.MailboxSize = defaultMailboxSize
	}
	return o
}

type (
	frameEvent struct {
		data []byte
	}
	startResult struct {
		generation uint64
		adapter    Adapter
		err        error
	}
	chunkEvent struct {
		generation uint64
		chunk      Chunk
	}
	turnEndEvent struct {
		generation uint64
		end        TurnEnd
	}
	faultEvent struct {
		generation uint64
		fault      Fault
	}
	teardownResult struct {
		err error
	}
)

// Session relays one client connection to one upstream Adapter. Client frames,
// adapter callbacks and the results of the handshake and teardown are all
// delivered to a single loop goroutine, so the fields below the mutex are
// only touched from Run.
type Session struct {
	id      string
	factory AdapterFactory
	out     Sender
	opts    Options

	mailbox        chan any
	done           chan struct{}
	gone           chan struct{}
	disconnectOnce sync.Once

	mu    sync.RWMutex
	state State

	adapter       Adapter
	generation    uint64
	startCancel   context.CancelFunc
	turn          uint64
	lastEnded     uint64
	abandoned     uint64
	received      uint64
	transportGone bool
}

// NewSession creates an idle session. Call Run to start processing.
func NewSession(id string, factory AdapterFactory, out Sender, opts Options) *Session {
	opts = opts.withDefaults()
	return &Session{
		id:      id,
		factory: factory,
		out:     out,
		opts:    opts,
		mailbox: make(chan any, opts.MailboxSize),
		done:    make(chan struct{}),
		gone:    make(chan struct{}),
		state:   StateIdle,
	}
}

// ID returns the connection-scoped session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Done is closed once the session is closed and its transport is gone.
func (s *Session) Done() <-chan struct{} { return s.done }

// HandleFrame queues one raw client text frame. Frames are processed in the
// order HandleFrame is called.
func (s *Session) HandleFrame(data []byte) error {
	if !s.post(frameEvent{data: data}) {
		return ErrSessionClosed
	}
	return nil
}

// Disconnect reports that the client transport is gone. It forces teardown
// from any state and is safe to call more than once.
func (s *Session) Disconnect() {
	s.disconnectOnce.Do(func() { close(s.gone) })
}

// Run processes events until the session is closed and the transport is gone.
func (s *Session) Run() {
	defer s.drain()
	defer close(s.done)

	gone := s.gone
	for {
		select {
		case ev := <-s.mailbox:
			s.dispatch(ev)
		case <-gone:
			gone = nil
			s.handleDisconnect()
		}

		if s.transportGone && s.State() == StateClosed {
			return
		}
	}
}

// post queues ev for the loop. It reports false once the loop has exited,
// even if the mailbox still has room.
func (s *Session) post(ev any) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.mailbox <- ev:
		return true
	case <-s.done:
		return false
	}
}

// drain releases the adapters of start results that reached the mailbox while
// the loop was exiting.
func (s *Session) drain() {
	for {
		select {
		case ev := <-s.mailbox:
			if r, ok := ev.(startResult); ok && r.adapter != nil {
				go s.release(r.adapter)
			}
		default:
			return
		}
	}
}

func (s *Session) dispatch(ev any) {
	switch ev := ev.(type) {
	case frameEvent:
		s.handleFrame(ev.data)
	case startResult:
		s.handleStartResult(ev)
	case chunkEvent:
		s.handleChunk(ev)
	case turnEndEvent:
		s.handleTurnEnd(ev)
	case faultEvent:
		s.handleFault(ev)
	case teardownResult:
		s.handleTeardownResult(ev)
	default:
		log.Printf("[relay] session=%s unexpected event %T", s.id, ev)
	}
}

func (s *Session) handleFrame(data []byte) {
	msg, err := DecodeInbound(data)
	if err != nil {
		log.Printf("[relay] session=%s rejected frame: %v", s.id, err)
		s.reject(err)
		return
	}

	switch m := msg.(type) {
	case StartSession:
		s.handleStart()
	case AudioData:
		s.handleAudio(m)
	case Interrupt:
		s.handleInterrupt()
	case EndSession:
		s.handleEnd()
	}
}

func (s *Session) handleStart() {
	state := s.State()
	switch {
	case state == StateIdle:
		s.beginStart()
	case state == StateStarting:
		s.reject(newError(ErrNoActiveSession, "session is already starting"))
	case state.Active():
		s.reject(newError(ErrNoActiveSession, "session already started"))
	default:
		s.reject(closedError())
	}
}

func (s *Session) handleAudio(m AudioData) {
	state := s.State()
	switch {
	case state.Active():
		s.received++
		frame := inboundFrame(s.received, m.Audio)
		if err := protect(func() error { return s.adapter.SendAudio(frame.Data) }); err != nil {
			log.Printf("[relay] session=%s %s frame=%d failed: %v", s.id, frame.Direction, frame.Seq, err)
			s.reject(wrapAdapterError("failed to process audio", err))
		}
	case state.Terminating():
		s.reject(closedError())
	default:
		s.reject(newError(ErrNoActiveSession, "no active session: send %s first", TypeStartSession))
	}
}

func (s *Session) handleInterrupt() {
	state := s.State()
	switch {
	case state == StateSpeaking:
		var abandoned uint64
		err := protect(func() (err error) {
			abandoned, err = s.adapter.Interrupt()
			return err
		})
		if err != nil {
			log.Printf("[relay] session=%s interrupt turn=%d failed: %v", s.id, s.turn, err)
			s.reject(wrapAdapterError("failed to interrupt", err))
		}
		// the adapter may already be producing a turn the loop has not seen
		s.abandoned = max(s.turn, abandoned)
		s.setState(StateListening)
	case state == StateListening:
		// nothing in flight
	case state.Terminating():
		s.reject(closedError())
	default:
		s.reject(newError(ErrNoActiveSession, "nothing to interrupt: no active session"))
	}
}

func (s *Session) handleEnd() {
	switch s.State() {
	case StateIdle:
		s.setState(StateClosed)
	case StateStarting:
		s.setState(StateEnding)
		s.cancelStart()
	case StateListening, StateSpeaking:
		s.beginTeardown()
	}
}

func (s *Session) handleDisconnect() {
	s.transportGone = true
	state := s.State()
	log.Printf("[relay] session=%s transport closed in state %s", s.id, state)

	switch state {
	case StateIdle:
		s.setState(StateClosed)
	case StateStarting:
		s.setState(StateEnding)
		s.cancelStart()
	case StateListening, StateSpeaking:
		s.beginTeardown()
	}
}

func (s *Session) beginStart() {
	s.generation++
	generation := s.generation

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.HandshakeTimeout)
	s.startCancel = cancel
	s.setState(StateStarting)

	go func() {
		defer cancel()
		adapter, err := s.startAdapter(ctx, generation)
		if !s.post(startResult{generation: generation, adapter: adapter, err: err}) && adapter != nil {
			s.release(adapter)
		}
	}()
}

func (s *Session) startAdapter(ctx context.Context, generation uint64) (Adapter, error) {
	adapter, err := s.factory.NewAdapter(s.id)
	if err != nil {
		return nil, &Error{Kind: ErrUpstreamUnavailable, Reason: "failed to start voice session: " + err.Error()}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- protect(func() error {
			return adapter.Start(ctx, s.opts.Instructions, s.eventsFor(generation))
		})
	}()

	select {
	case err = <-errCh:
	case <-ctx.Done():
		err = ctx.Err()
		go func() {
			<-errCh
			s.release(adapter)
		}()
		return nil, s.startError(err)
	}

	if err != nil {
		go s.release(adapter)
		return nil, s.startError(err)
	}
	return adapter, nil
}

func (s *Session) startError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(ErrUpstreamUnavailable, "upstream handshake timed out after %s", s.opts.HandshakeTimeout)
	}
	if errors.Is(err, context.Canceled) {
		return newError(ErrUpstreamUnavailable, "session start canceled")
	}
	return &Error{Kind: ErrUpstreamUnavailable, Reason: "failed to start voice session: " + err.Error()}
}

func (s *Session) eventsFor(generation uint64) Events {
	return Events{
		OnChunk: func(c Chunk) {
			s.post(chunkEvent{generation: generation, chunk: c})
		},
		OnTurnEnd: func(e TurnEnd) {
			s.post(turnEndEvent{generation: generation, end: e})
		},
		OnError: func(f Fault) {
			s.post(faultEvent{generation: generation, fault: f})
		},
	}
}

func (s *Session) cancelStart() {
	if s.startCancel != nil {
		s.startCancel()
		s.startCancel = nil
	}
}

func (s *Session) handleStartResult(ev startResult) {
	if ev.generation != s.generation {
		if ev.adapter != nil {
			go s.release(ev.adapter)
		}
		return
	}
	s.startCancel = nil

	switch s.State() {
	case StateStarting:
		if ev.err != nil {
			log.Printf("[relay] session=%s start failed: %v", s.id, ev.err)
			s.setState(StateIdle)
			s.reject(ev.err)
			return
		}
		s.adapter = ev.adapter
		s.turn, s.lastEnded, s.abandoned = 0, 0, 0
		s.setState(StateListening)
		s.reply(sessionStartedMessage(s.id))
	case StateEnding:
		if ev.err != nil || ev.adapter == nil {
			s.setState(StateClosed)
			return
		}
		s.adapter = ev.adapter
		s.beginTeardown()
	default:
		if ev.adapter != nil {
			go s.release(ev.adapter)
		}
	}
}

func (s *Session) handleChunk(ev chunkEvent) {
	if ev.generation != s.generation || !s.State().Active() {
		return
	}

	c := ev.chunk
	if c.Turn <= s.abandoned || c.Turn <= s.lastEnded {
		return
	}

	if frame := outboundFrame(c); len(frame.Data) == 0 && c.Text == "" {
		log.Printf("[relay] session=%s empty %s chunk turn=%d seq=%d dropped", s.id, frame.Direction, c.Turn, frame.Seq)
		return
	}

	if s.State() == StateListening || c.Turn != s.turn {
		s.turn = c.Turn
		s.setState(StateSpeaking)
	}
	s.reply(audioResponseMessage(c))
}

func (s *Session) handleTurnEnd(ev turnEndEvent) {
	if ev.generation != s.generation || !s.State().Active() {
		return
	}

	e := ev.end
	if e.Turn > s.lastEnded {
		s.lastEnded = e.Turn
	}
	if s.State() == StateSpeaking && e.Turn >= s.turn {
		s.setState(StateListening)
	}
}

func (s *Session) handleFault(ev faultEvent) {
	if ev.generation != s.generation {
		return
	}

	err := ev.fault.Err
	if err == nil {
		err = errors.New("upstream error")
	}

	if !s.State().Active() {
		log.Printf("[relay] session=%s upstream fault ignored in state %s: %v", s.id, s.State(), err)
		return
	}

	log.Printf("[relay] session=%s upstream fault (fatal=%t): %v", s.id, ev.fault.Fatal, err)
	if ev.fault.Fatal {
		s.reject(&Error{Kind: ErrUpstreamUnavailable, Reason: "voice session lost: " + err.Error()})
		s.beginTeardown()
		return
	}
	s.reject(err)
}

func (s *Session) beginTeardown() {
	adapter := s.adapter
	s.adapter = nil
	s.setState(StateEnding)

	go func() {
		s.post(teardownResult{err: s.endAdapter(adapter)})
	}()
}

func (s *Session) handleTeardownResult(ev teardownResult) {
	if ev.err != nil {
		log.Printf("[relay] session=%s upstream teardown: %v", s.id, ev.err)
	}
	s.setState(StateClosed)
}

// endAdapter calls End once, bounded by the teardown timeout.
func (s *Session) endAdapter(adapter Adapter) error {
	if adapter == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.TeardownTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- protect(func() error { return adapter.End(ctx) })
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return fmt.Errorf("upstream teardown timed out after %s", s.opts.TeardownTimeout)
	}
}

func (s *Session) release(adapter Adapter) {
	if err := s.endAdapter(adapter); err != nil {
		log.Printf("[relay] session=%s release abandoned adapter: %v", s.id, err)
	}
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()

	if prev != next {
		log.Printf("[relay] session=%s %s -> %s", s.id, prev, next)
	}
}

func (s *Session) reply(msg Outbound) {
	if s.transportGone {
		return
	}
	if err := s.out.Send(msg); err != nil {
		log.Printf("[relay] session=%s write %s failed: %v", s.id, msg, err)
	}
}

func (s *Session) reject(err error) {
	s.reply(ErrorMessage(err))
}

func closedError() error {
	return newError(ErrSessionClosed, "session closed")
}

func wrapAdapterError(action string, err error) error {
	var relayErr *Error
	if errors.As(err, &relayErr) || errors.Is(err, ErrNoActiveSession) {
		return err
	}
	return &Error{Kind: err, Reason: action + ": " + err.Error()}
}

func protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("upstream adapter panic: %v", r)
		}
	}()
	return fn()
}
