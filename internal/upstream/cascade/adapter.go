package cascade

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/zhouzirui/voice-relay/backend/internal/model/chat"
	"github.com/zhouzirui/voice-relay/backend/internal/relay"
)

const defaultQueueSize = 32

// Transcriber 将一段语音识别为文本。
type Transcriber interface {
	Transcribe(ctx context.Context, sessionID string, audio []byte) (string, error)
}

// Replier 流式生成针对 query 的回复。
type Replier interface {
	Reply(ctx context.Context, instructions string, history []chat.Message, query string, onDelta func(string) error) (string, error)
}

// Synthesizer 将一句文本合成为音频。
type Synthesizer interface {
	Synthesize(ctx context.Context, sessionID, text, voice string) ([]byte, error)
}

// Transcript 保存单个会话的对话记录。
type Transcript interface {
	CreateSession(ctx context.Context, sessionID, personaID string) (chat.Session, error)
	SaveMessage(ctx context.Context, sessionID string, role chat.Role, text string) (chat.Message, error)
	LoadTranscript(ctx context.Context, sessionID string) ([]chat.Message, error)
	DiscardSession(ctx context.Context, sessionID string)
}

// readiness 由能够预先检查配置的服务实现。
type readiness interface {
	Ready() error
}

// Deps 为所有级联适配器共享的服务。
type Deps struct {
	ASR        Transcriber
	LLM        Replier
	TTS        Synthesizer
	Transcript Transcript
}

// Config 为单个适配器的配置。
type Config struct {
	PersonaID string
	Voice     string
	QueueSize int
}

// NewFactory 返回一个工厂，每次会话启动时创建一个 Adapter。
func NewFactory(deps Deps, cfg Config) relay.AdapterFactory {
	return relay.AdapterFactoryFunc(func(sessionID string) (relay.Adapter, error) {
		if deps.ASR == nil || deps.LLM == nil || deps.TTS == nil || deps.Transcript == nil {
			return nil, errors.New("cascade upstream is not fully configured")
		}
		return NewAdapter(deps, cfg, sessionID), nil
	})
}

// Adapter 实现 relay.Adapter：每段按键说话的语音依次经过 ASR、
// 流式对话回复与逐句 TTS。语音按接收顺序逐条处理。
type Adapter struct {
	deps      Deps
	cfg       Config
	sessionID string

	instructions string
	emitter      *relay.Emitter
	utterances   chan []byte
	root         context.Context
	cancelRoot   context.CancelFunc
	done         chan struct{}

	mu          sync.Mutex
	started     bool
	closed      bool
	turn        uint64
	cancelTurn  context.CancelFunc
	turnOpen    bool
	interrupted bool

	endOnce sync.Once
}

func NewAdapter(deps Deps, cfg Config, sessionID string) *Adapter {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	root, cancel := context.WithCancel(context.Background())
	return &Adapter{
		deps:       deps,
		cfg:        cfg,
		sessionID:  sessionID,
		utterances: make(chan []byte, cfg.QueueSize),
		root:       root,
		cancelRoot: cancel,
		done:       make(chan struct{}),
	}
}

// Start 检查语音服务配置并创建会话对话记录。
func (a *Adapter) Start(ctx context.Context, instructions string, events relay.Events) error {
	for _, dep := range []any{a.deps.ASR, a.deps.TTS} {
		if r, ok := dep.(readiness); ok {
			if err := r.Ready(); err != nil {
				return fmt.Errorf("%w: %v", relay.ErrUpstreamUnavailable, err)
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", relay.ErrUpstreamUnavailable, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("%w: session ended during start", relay.ErrUpstreamUnavailable)
	}
	if a.started {
		return nil
	}

	if _, err := a.deps.Transcript.CreateSession(ctx, a.sessionID, a.cfg.PersonaID); err != nil {
		return fmt.Errorf("%w: open transcript: %v", relay.ErrUpstreamUnavailable, err)
	}

	a.instructions = instructions
	a.emitter = relay.NewEmitter(events)
	a.started = true
	go a.work()

	log.Printf("[cascade] session=%s started voice=%s", a.sessionID, a.cfg.Voice)
	return nil
}

// SendAudio 将一段语音加入队列。
func (a *Adapter) SendAudio(frame []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started || a.closed {
		return relay.ErrNoActiveSession
	}

	utterance := append([]byte(nil), frame...)
	select {
	case a.utterances <- utterance:
		return nil
	default:
		return fmt.Errorf("cascade utterance queue full (%d pending)", len(a.utterances))
	}
}

// Interrupt 取消已输出音频的当前轮次，由工作协程上报结束。
// 仍在识别或生成中的语音尚无轮次，不受影响。
func (a *Adapter) Interrupt() (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancelTurn == nil || !a.turnOpen || a.interrupted {
		return 0, nil
	}
	a.interrupted = true
	a.cancelTurn()
	log.Printf("[cascade] session=%s turn=%d interrupted", a.sessionID, a.turn)
	return a.turn, nil
}

// End 停止工作协程并丢弃对话记录，重复调用无副作用。
func (a *Adapter) End(ctx context.Context) error {
	a.endOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		emitter := a.emitter
		a.mu.Unlock()

		a.cancelRoot()
		if emitter == nil {
			return
		}

		select {
		case <-a.done:
		case <-ctx.Done():
			log.Printf("[cascade] session=%s worker still busy at teardown", a.sessionID)
		}
		emitter.Close()
		a.deps.Transcript.DiscardSession(context.Background(), a.sessionID)
		log.Printf("[cascade] session=%s closed", a.sessionID)
	})
	return nil
}

func (a *Adapter) work() {
	defer close(a.done)
	for {
		select {
		case <-a.root.Done():
			return
		case utterance := <-a.utterances:
			a.respond(utterance)
		}
	}
}

// turnState 记录生成中的一个回复单元。
type turnState struct {
	ctx    context.Context
	number uint64
	opened bool
	seq    int
	spoken []string
}

func (a *Adapter) beginTurn() (*turnState, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a.root)
	a.mu.Lock()
	a.cancelTurn = cancel
	a.turnOpen = false
	a.interrupted = false
	a.mu.Unlock()
	return &turnState{ctx: ctx}, cancel
}

func (a *Adapter) finishTurn(t *turnState, err error) {
	a.mu.Lock()
	interrupted := a.interrupted
	closed := a.closed
	a.cancelTurn = nil
	a.turnOpen = false
	a.interrupted = false
	a.mu.Unlock()

	if closed {
		return
	}

	if err != nil && !interrupted {
		log.Printf("[cascade] session=%s turn failed: %v", a.sessionID, err)
		a.emitter.Fault(relay.Fault{Err: err})
	}
	if t.opened {
		a.emitter.TurnEnd(relay.TurnEnd{Turn: t.number, Interrupted: interrupted})
	}
}

func (a *Adapter) respond(utterance []byte) {
	t, cancel := a.beginTurn()
	defer cancel()

	err := a.produce(t, utterance)
	if len(t.spoken) > 0 {
		reply := strings.Join(t.spoken, " ")
		if _, saveErr := a.deps.Transcript.SaveMessage(context.Background(), a.sessionID, chat.RoleAssistant, reply); saveErr != nil {
			log.Printf("[cascade] session=%s save reply: %v", a.sessionID, saveErr)
		}
	}
	a.finishTurn(t, err)
}

func (a *Adapter) produce(t *turnState, utterance []byte) error {
	query, err := a.deps.ASR.Transcribe(t.ctx, a.sessionID, utterance)
	if err != nil {
		return fmt.Errorf("transcribe utterance: %w", err)
	}
	if query == "" {
		log.Printf("[cascade] session=%s empty transcript, skipping", a.sessionID)
		return nil
	}

	history, err := a.deps.Transcript.LoadTranscript(t.ctx, a.sessionID)
	if err != nil {
		return fmt.Errorf("load transcript: %w", err)
	}
	if _, err := a.deps.Transcript.SaveMessage(t.ctx, a.sessionID, chat.RoleUser, query); err != nil {
		return fmt.Errorf("save utterance: %w", err)
	}
	log.Printf("[cascade] session=%s user said %q", a.sessionID, query)

	var sentences sentenceBuffer
	_, err = a.deps.LLM.Reply(t.ctx, a.instructions, history, query, func(delta string) error {
		for _, sentence := range sentences.Write(delta) {
			if err := a.speak(t, sentence); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("generate reply: %w", err)
	}
	if rest := sentences.Flush(); rest != "" {
		return a.speak(t, rest)
	}
	return nil
}

// speak 合成一句话，并作为当前轮次的下一个分片发出。
func (a *Adapter) speak(t *turnState, sentence string) error {
	audio, err := a.deps.TTS.Synthesize(t.ctx, a.sessionID, sentence, a.cfg.Voice)
	if err != nil {
		return fmt.Errorf("synthesize sentence: %w", err)
	}
	if err := t.ctx.Err(); err != nil {
		return err
	}

	if !t.opened {
		a.mu.Lock()
		a.turn++
		a.turnOpen = true
		t.number = a.turn
		a.mu.Unlock()
		t.opened = true
	}
	t.seq++
	t.spoken = append(t.spoken, sentence)
	a.emitter.Chunk(relay.Chunk{Turn: t.number, Seq: t.seq, Audio: audio, Text: sentence})
	return nil
}
