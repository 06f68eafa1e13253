package persona

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/voice-relay/backend/internal/model/persona"
	"github.com/zhouzirui/voice-relay/backend/pkg/utils"
)

// Handler 提供角色列表接口，不会暴露角色指令。
type Handler struct {
	personas persona.Store
	activeID string
}

// New 创建角色处理器，activeID 为新会话使用的角色。
func New(personas persona.Store, activeID string) *Handler {
	return &Handler{
		personas: personas,
		activeID: activeID,
	}
}

// RegisterRoutes 注册角色相关路由。
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/personas", h.handleListPersonas)
	r.Get("/personas/active", h.handleActivePersona)
	r.Get("/personas/{personaID}", h.handleGetPersona)
}

func (h *Handler) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.personas.List())
}

func (h *Handler) handleActivePersona(w http.ResponseWriter, r *http.Request) {
	h.respondPersona(w, h.activeID)
}

func (h *Handler) handleGetPersona(w http.ResponseWriter, r *http.Request) {
	h.respondPersona(w, chi.URLParam(r, "personaID"))
}

func (h *Handler) respondPersona(w http.ResponseWriter, id string) {
	p, ok := h.personas.FindByID(id)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "persona not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, p)
}
