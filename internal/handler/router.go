package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/voice-relay/backend/internal/handler/persona"
	"github.com/zhouzirui/voice-relay/backend/internal/handler/voice"
	middlewarePkg "github.com/zhouzirui/voice-relay/backend/internal/middleware"
	personaModel "github.com/zhouzirui/voice-relay/backend/internal/model/persona"
	"github.com/zhouzirui/voice-relay/backend/internal/relay"
	"github.com/zhouzirui/voice-relay/backend/pkg/utils"
)

// RouterConfig carries what the HTTP surface reports and serves.
type RouterConfig struct {
	Upstream  string
	PersonaID string
	// Transcripts reports the open conversation transcripts, if any.
	Transcripts   interface{ Count() int }
	SocketOptions voice.Options
}

// NewRouter wires HTTP routes to the relay.
func NewRouter(personas personaModel.Store, registry *relay.Registry, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	voice.New(registry, cfg.SocketOptions).RegisterRoutes(r)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		report := map[string]any{
			"status":   "ok",
			"upstream": cfg.Upstream,
			"persona":  cfg.PersonaID,
			"sessions": registry.Count(),
		}
		if cfg.Transcripts != nil {
			report["transcripts"] = cfg.Transcripts.Count()
		}
		utils.RespondJSON(w, http.StatusOK, report)
	})

	r.Route("/api", func(api chi.Router) {
		persona.New(personas, cfg.PersonaID).RegisterRoutes(api)
	})

	return r
}
