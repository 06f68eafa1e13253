package relay

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEmitterPreservesOrder(t *testing.T) {
	got := make(chan string, 16)
	e := NewEmitter(Events{
		OnChunk:   func(c Chunk) { got <- "chunk" },
		OnTurnEnd: func(TurnEnd) { got <- "end" },
		OnError:   func(Fault) { got <- "fault" },
	})
	defer e.Close()

	e.Chunk(Chunk{Turn: 1, Seq: 1})
	e.Chunk(Chunk{Turn: 1, Seq: 2})
	e.TurnEnd(TurnEnd{Turn: 1})
	e.Fault(Fault{Err: errors.New("x")})

	for _, want := range []string{"chunk", "chunk", "end", "fault"} {
		select {
		case name := <-got:
			require.Equal(t, want, name)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestEmitterPushDoesNotBlockOnSlowConsumer(t *testing.T) {
	release := make(chan struct{})
	e := NewEmitter(Events{OnChunk: func(Chunk) { <-release }})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			e.Chunk(Chunk{Turn: 1, Seq: i + 1})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("push blocked behind a slow consumer")
	}
	close(release)
	e.Close()
}
