package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/voice-relay/backend/internal/config"
	"github.com/zhouzirui/voice-relay/backend/internal/handler"
	"github.com/zhouzirui/voice-relay/backend/internal/handler/voice"
	"github.com/zhouzirui/voice-relay/backend/internal/model/persona"
	"github.com/zhouzirui/voice-relay/backend/internal/relay"
	"github.com/zhouzirui/voice-relay/backend/internal/service/ai"
	"github.com/zhouzirui/voice-relay/backend/internal/service/chat"
	"github.com/zhouzirui/voice-relay/backend/internal/service/speech"
	"github.com/zhouzirui/voice-relay/backend/internal/upstream/cascade"
	"github.com/zhouzirui/voice-relay/backend/internal/upstream/gemini"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	personaStore, err := loadPersonas(cfg.Relay.PersonaFile)
	if err != nil {
		log.Fatalf("failed to load personas: %v", err)
	}
	active, ok := personaStore.FindByID(cfg.Relay.PersonaID)
	if !ok {
		log.Fatalf("persona %q not found", cfg.Relay.PersonaID)
	}

	transcripts := chat.NewService()
	factory, instructions, err := newFactory(ctx, cfg, active, transcripts)
	if err != nil {
		log.Fatalf("failed to initialize %s upstream: %v", cfg.Relay.Upstream, err)
	}
	log.Printf("upstream=%s persona=%s", cfg.Relay.Upstream, active.ID)

	registry := relay.NewRegistry(factory, relay.Options{
		Instructions:     instructions,
		HandshakeTimeout: cfg.Relay.HandshakeTimeout,
		TeardownTimeout:  cfg.Relay.TeardownTimeout,
	})

	routerCfg := handler.RouterConfig{
		Upstream:  cfg.Relay.Upstream,
		PersonaID: active.ID,
		SocketOptions: voice.Options{
			MaxMessageBytes: cfg.Relay.MaxMessageBytes,
			CloseWait:       cfg.Relay.TeardownTimeout + time.Second,
		},
	}
	if cfg.Relay.Upstream == config.UpstreamCascade {
		routerCfg.Transcripts = transcripts
	}
	router := handler.NewRouter(personaStore, registry, routerCfg)

	startServer(ctx, cfg, router, registry)
}

func loadPersonas(path string) (*persona.MemoryStore, error) {
	if path == "" {
		return persona.NewMemoryStore(persona.Seed()), nil
	}
	items, err := persona.LoadFile(path)
	if err != nil {
		return nil, err
	}
	log.Printf("loaded %d personas from %s", len(items), path)
	return persona.NewMemoryStore(items), nil
}

// newFactory builds the adapter factory of the selected upstream and the
// instructions every session starts with.
func newFactory(ctx context.Context, cfg *config.Config, p persona.Persona, transcripts *chat.Service) (relay.AdapterFactory, string, error) {
	switch cfg.Relay.Upstream {
	case config.UpstreamGemini:
		geminiCfg := cfg.Gemini
		if p.Voice != "" {
			geminiCfg.Voice = p.Voice
		}
		return gemini.NewFactory(geminiCfg), p.Instructions, nil

	case config.UpstreamCascade:
		aiService, err := ai.NewService(ctx, cfg.AI)
		if err != nil {
			return nil, "", err
		}
		speechService := speech.NewService(&cfg.Speech)
		deps := cascade.Deps{
			ASR:        speechService,
			LLM:        aiService,
			TTS:        speechService,
			Transcript: transcripts,
		}
		return cascade.NewFactory(deps, cascade.Config{PersonaID: p.ID, Voice: p.TTSVoice}), p.Instructions, nil

	default:
		return nil, "", fmt.Errorf("unknown upstream %q", cfg.Relay.Upstream)
	}
}

func startServer(ctx context.Context, cfg *config.Config, router http.Handler, registry *relay.Registry) {
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("voice relay listening on %s", cfg.Server.Addr)
	if err := runServer(ctx, srv, registry, cfg.Relay.TeardownTimeout); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// runServer serves until ctx is done, then stops accepting connections and
// tears down every live session before returning.
func runServer(ctx context.Context, srv *http.Server, registry *relay.Registry, teardown time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// hijacked WebSocket connections are not tracked by Shutdown
		if n := registry.DisconnectAll(); n > 0 {
			log.Printf("disconnecting %d live sessions", n)
		}
		_ = srv.Shutdown(shutdownCtx)

		waitCtx, cancelWait := context.WithTimeout(context.Background(), teardown+time.Second)
		defer cancelWait()
		if !registry.Wait(waitCtx) {
			log.Printf("%d sessions still tearing down at exit", registry.Count())
		}

		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
