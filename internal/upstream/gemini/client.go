package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/voice-relay/backend/internal/relay"
)

const (
	DefaultBaseURL   = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	DefaultModel     = "gemini-2.0-flash-live-001"
	DefaultVoice     = "Aoede"
	DefaultAudioMIME = "audio/pcm;rate=16000"

	defaultWriteTimeout = 10 * time.Second
	defaultPingInterval = 30 * time.Second
	writeQueueSize      = 256
)

// Config holds the Live API connection settings.
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	Voice        string
	AudioMIME    string
	WriteTimeout time.Duration
	PingInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Voice == "" {
		c.Voice = DefaultVoice
	}
	if c.AudioMIME == "" {
		c.AudioMIME = DefaultAudioMIME
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	return c
}

func (c Config) modelName() string {
	if strings.HasPrefix(c.Model, "models/") {
		return c.Model
	}
	return "models/" + c.Model
}

func (c Config) endpoint() (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid gemini base url: %w", err)
	}
	q := u.Query()
	q.Set("key", c.APIKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// NewFactory returns a factory creating one Client per session start.
func NewFactory(cfg Config) relay.AdapterFactory {
	cfg = cfg.withDefaults()
	return relay.AdapterFactoryFunc(func(sessionID string) (relay.Adapter, error) {
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("GEMINI_API_KEY is not configured")
		}
		return NewClient(cfg, sessionID), nil
	})
}

// Client is a relay.Adapter over one Gemini Live stream. Writes go through a
// single writer goroutine; responses are read by a single reader goroutine.
type Client struct {
	cfg       Config
	sessionID string

	conn    *websocket.Conn
	emitter *relay.Emitter
	writes  chan any
	stop    chan struct{}
	readEnd chan struct{}

	mu           sync.Mutex
	started      bool
	closed       bool
	failed       bool
	activityOpen bool
	turn         uint64
	seq          int
	turnOpen     bool
	dropping     bool

	endOnce sync.Once
}

func NewClient(cfg Config, sessionID string) *Client {
	return &Client{
		cfg:       cfg.withDefaults(),
		sessionID: sessionID,
		writes:    make(chan any, writeQueueSize),
		stop:      make(chan struct{}),
		readEnd:   make(chan struct{}),
	}
}

// Start dials the Live endpoint, sends the setup message and waits for
// setupComplete. Every failure before that point wraps relay.ErrUpstreamUnavailable.
func (c *Client) Start(ctx context.Context, instructions string, events relay.Events) error {
	endpoint, err := c.cfg.endpoint()
	if err != nil {
		return fmt.Errorf("%w: %v", relay.ErrUpstreamUnavailable, err)
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.cfg.WriteTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("%w: gemini handshake rejected: %s", relay.ErrUpstreamUnavailable, resp.Status)
		}
		return fmt.Errorf("%w: dial gemini: %v", relay.ErrUpstreamUnavailable, err)
	}

	if err := c.handshake(ctx, conn, instructions); err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return fmt.Errorf("%w: session ended during handshake", relay.ErrUpstreamUnavailable)
	}
	c.conn = conn
	c.emitter = relay.NewEmitter(events)
	c.started = true
	c.mu.Unlock()

	go c.writeLoop()
	go c.readLoop()

	log.Printf("[gemini] session=%s connected model=%s voice=%s", c.sessionID, c.cfg.modelName(), c.cfg.Voice)
	return nil
}

func (c *Client) handshake(ctx context.Context, conn *websocket.Conn, instructions string) error {
	// closing the conn unblocks the reads below once ctx is done
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := conn.WriteJSON(newSetup(c.cfg, instructions)); err != nil {
		return c.handshakeError(ctx, "send setup", err)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return c.handshakeError(ctx, "await setupComplete", err)
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("%w: invalid gemini handshake reply: %v", relay.ErrUpstreamUnavailable, err)
		}
		if msg.SetupComplete != nil {
			break
		}
	}
	if !stop() {
		return c.handshakeError(ctx, "await setupComplete", ctx.Err())
	}
	return nil
}

func (c *Client) handshakeError(ctx context.Context, step string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %s: %w", relay.ErrUpstreamUnavailable, step, ctxErr)
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return fmt.Errorf("%w: gemini closed the stream (%d %s)", relay.ErrUpstreamUnavailable, closeErr.Code, closeErr.Text)
	}
	return fmt.Errorf("%w: %s: %v", relay.ErrUpstreamUnavailable, step, err)
}

// SendAudio sends one push-to-talk utterance bracketed by activity markers.
func (c *Client) SendAudio(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started || c.closed || c.failed {
		return relay.ErrNoActiveSession
	}

	if !c.activityOpen {
		if err := c.enqueueLocked(activityStartMessage()); err != nil {
			return err
		}
	}
	if err := c.enqueueLocked(audioMessage(c.cfg.AudioMIME, frame)); err != nil {
		return err
	}
	c.activityOpen = false
	return c.enqueueLocked(activityEndMessage())
}

// Interrupt opens a new activity, which makes the server stop generating,
// and terminates the current turn locally. Content of that turn still in
// flight is dropped until the server acknowledges.
func (c *Client) Interrupt() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started || c.closed || c.failed || !c.turnOpen {
		return 0, nil
	}

	turn := c.turn
	c.turnOpen = false
	c.dropping = true
	if !c.activityOpen {
		c.activityOpen = true
		if err := c.enqueueLocked(activityStartMessage()); err != nil {
			log.Printf("[gemini] session=%s interrupt turn=%d: %v", c.sessionID, turn, err)
		}
	}
	c.emitter.TurnEnd(relay.TurnEnd{Turn: turn, Interrupted: true})
	log.Printf("[gemini] session=%s turn=%d interrupted", c.sessionID, turn)
	return turn, nil
}

// End closes the stream. Repeated calls are no-ops.
func (c *Client) End(ctx context.Context) error {
	c.endOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		conn := c.conn
		emitter := c.emitter
		c.mu.Unlock()

		close(c.stop)
		if conn == nil {
			return
		}

		deadline := time.Now().Add(c.cfg.WriteTimeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended")
		if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			log.Printf("[gemini] session=%s close frame: %v", c.sessionID, err)
		}
		conn.Close()

		select {
		case <-c.readEnd:
		case <-ctx.Done():
		}
		emitter.Close()
		log.Printf("[gemini] session=%s closed", c.sessionID)
	})
	return nil
}

func (c *Client) enqueueLocked(msg any) error {
	select {
	case c.writes <- msg:
		return nil
	case <-c.stop:
		return relay.ErrNoActiveSession
	default:
		return fmt.Errorf("gemini write queue full (%d pending)", len(c.writes))
	}
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case msg := <-c.writes:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.fail(fmt.Errorf("write to gemini: %w", err))
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.fail(fmt.Errorf("ping gemini: %w", err))
				return
			}
		}
	}
}

func (c *Client) readLoop() {
	defer close(c.readEnd)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(fmt.Errorf("read from gemini: %w", err))
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("[gemini] session=%s undecodable message: %v", c.sessionID, err)
			continue
		}

		if msg.GoAway != nil {
			c.fail(fmt.Errorf("gemini is closing the stream (time left %s)", msg.GoAway.TimeLeft))
			return
		}
		if msg.ServerContent != nil {
			c.handleContent(msg.ServerContent)
		}
	}
}

func (c *Client) handleContent(sc *serverContent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.failed {
		return
	}

	if c.dropping {
		if sc.Interrupted || sc.TurnComplete {
			c.dropping = false
		}
		return
	}

	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData != nil && len(p.InlineData.Data) > 0 {
				c.emitLocked(p.InlineData.Data, "")
			}
		}
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		c.emitLocked(nil, sc.OutputTranscription.Text)
	}

	if (sc.TurnComplete || sc.Interrupted) && c.turnOpen {
		c.turnOpen = false
		c.emitter.TurnEnd(relay.TurnEnd{Turn: c.turn, Interrupted: sc.Interrupted})
	}
}

func (c *Client) emitLocked(audio []byte, text string) {
	if !c.turnOpen {
		c.turn++
		c.seq = 0
		c.turnOpen = true
	}
	c.seq++
	c.emitter.Chunk(relay.Chunk{Turn: c.turn, Seq: c.seq, Audio: audio, Text: text})
}

// fail reports a lost stream once, unless End got there first.
func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.closed || c.failed {
		c.mu.Unlock()
		return
	}
	c.failed = true
	c.mu.Unlock()

	log.Printf("[gemini] session=%s stream lost: %v", c.sessionID, err)
	c.emitter.Fault(relay.Fault{Err: err, Fatal: true})
}
