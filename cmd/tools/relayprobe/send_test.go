package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/voice-relay/backend/internal/handler/voice"
	"github.com/zhouzirui/voice-relay/backend/internal/relay"
)

type echoAdapter struct {
	emitter *relay.Emitter
	turn    uint64
}

func (a *echoAdapter) Start(_ context.Context, _ string, events relay.Events) error {
	a.emitter = relay.NewEmitter(events)
	return nil
}

func (a *echoAdapter) SendAudio(frame []byte) error {
	a.turn++
	audio := append([]byte(nil), frame...)
	a.emitter.Chunk(relay.Chunk{Turn: a.turn, Seq: 1, Audio: audio, Text: "echo"})
	a.emitter.TurnEnd(relay.TurnEnd{Turn: a.turn})
	return nil
}

func (a *echoAdapter) Interrupt() (uint64, error) { return 0, nil }

func (a *echoAdapter) End(context.Context) error {
	if a.emitter != nil {
		a.emitter.Close()
	}
	return nil
}

func newRelayServer(t *testing.T) *httptest.Server {
	t.Helper()
	factory := relay.AdapterFactoryFunc(func(string) (relay.Adapter, error) {
		return &echoAdapter{}, nil
	})
	r := chi.NewRouter()
	voice.New(relay.NewRegistry(factory, relay.Options{}), voice.Options{}).RegisterRoutes(r)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return server
}

func TestRunProbe(t *testing.T) {
	server := newRelayServer(t)

	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := runProbe(ctx, probeOptions{
		URL:            "ws" + strings.TrimPrefix(server.URL, "http") + "/ws",
		Audio:          []byte{1, 2, 3, 4},
		ChunkBytes:     2,
		InterruptAfter: 1,
		Idle:           200 * time.Millisecond,
		Out:            &out,
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.SessionID)
	require.Equal(t, 2, res.Chunks)
	require.Equal(t, 4, res.AudioBytes)
	require.Equal(t, []byte{1, 2, 3, 4}, out.Bytes())
	require.Equal(t, "echo echo", res.Text)
	require.True(t, res.Interrupted)
	require.Empty(t, res.Errors)
}

func TestRunProbeDialFailure(t *testing.T) {
	_, err := runProbe(context.Background(), probeOptions{URL: "ws://127.0.0.1:1/ws"})
	require.Error(t, err)
}

func TestSplitAudio(t *testing.T) {
	require.Nil(t, splitAudio(nil, 10))
	require.Equal(t, [][]byte{{1, 2, 3}}, splitAudio([]byte{1, 2, 3}, 0))
	require.Equal(t, [][]byte{{1, 2}, {3}}, splitAudio([]byte{1, 2, 3}, 2))
}
