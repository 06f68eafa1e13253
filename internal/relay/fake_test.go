package relay

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	startErr   error
	startBlock chan struct{}
	endBlock   chan struct{}

	// interruptTurn is reported by Interrupt as the abandoned turn.
	interruptTurn uint64

	mu         sync.Mutex
	events     Events
	started    bool
	ended      bool
	calls      []string
	frames     [][]byte
	violations []string

	ends      atomic.Int32
	endActive atomic.Int32
	endMax    atomic.Int32
}

func (f *fakeAdapter) Start(ctx context.Context, _ string, events Events) error {
	if f.startBlock != nil {
		select {
		case <-f.startBlock:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.startErr != nil {
		return f.startErr
	}

	f.mu.Lock()
	f.events = events
	f.started = true
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) SendAudio(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started || f.ended {
		f.violations = append(f.violations, "send audio outside an open session")
		return ErrNoActiveSession
	}
	f.calls = append(f.calls, "audio")
	f.frames = append(f.frames, append([]byte(nil), frame...))
	return nil
}

func (f *fakeAdapter) Interrupt() (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "interrupt")
	return f.interruptTurn, nil
}

func (f *fakeAdapter) End(context.Context) error {
	active := f.endActive.Add(1)
	defer f.endActive.Add(-1)
	for {
		current := f.endMax.Load()
		if active <= current || f.endMax.CompareAndSwap(current, active) {
			break
		}
	}

	f.ends.Add(1)
	if f.endBlock != nil {
		<-f.endBlock
	}
	f.mu.Lock()
	f.ended = true
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) emitChunk(c Chunk) {
	f.mu.Lock()
	events := f.events
	f.mu.Unlock()
	events.OnChunk(c)
}

func (f *fakeAdapter) emitTurnEnd(e TurnEnd) {
	f.mu.Lock()
	events := f.events
	f.mu.Unlock()
	events.OnTurnEnd(e)
}

func (f *fakeAdapter) emitFault(fault Fault) {
	f.mu.Lock()
	events := f.events
	f.mu.Unlock()
	events.OnError(fault)
}

func (f *fakeAdapter) snapshot() (calls []string, frames [][]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...), append([][]byte(nil), f.frames...)
}

func (f *fakeAdapter) interrupts() int {
	calls, _ := f.snapshot()
	n := 0
	for _, c := range calls {
		if c == "interrupt" {
			n++
		}
	}
	return n
}

// fakeFactory hands out the queued adapters in order, then fresh ones.
type fakeFactory struct {
	mu      sync.Mutex
	queue   []*fakeAdapter
	created []*fakeAdapter
}

func (f *fakeFactory) NewAdapter(string) (Adapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var a *fakeAdapter
	if len(f.queue) > 0 {
		a, f.queue = f.queue[0], f.queue[1:]
	} else {
		a = &fakeAdapter{}
	}
	f.created = append(f.created, a)
	return a, nil
}

func (f *fakeFactory) adapters() []*fakeAdapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeAdapter(nil), f.created...)
}

type recordingSender struct {
	ch chan Outbound
}

func newRecordingSender() *recordingSender {
	return &recordingSender{ch: make(chan Outbound, 512)}
}

func (r *recordingSender) Send(msg Outbound) error {
	r.ch <- msg
	return nil
}

func (r *recordingSender) next(t *testing.T) Outbound {
	t.Helper()
	select {
	case msg := <-r.ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server message")
		return Outbound{}
	}
}

func (r *recordingSender) expectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case msg := <-r.ch:
		t.Fatalf("unexpected server message %s", msg)
	case <-time.After(wait):
	}
}

func clientFrame(t *testing.T, typ string, audio ...byte) []byte {
	t.Helper()
	msg := map[string]any{"type": typ}
	if typ == TypeAudioData {
		values := make([]int, len(audio))
		for i, b := range audio {
			values[i] = int(b)
		}
		msg["audioData"] = values
	}
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	return data
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == want }, 2*time.Second, 5*time.Millisecond,
		"expected state %s, got %s", want, s.State())
}
