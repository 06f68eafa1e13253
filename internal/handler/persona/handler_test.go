package persona

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/voice-relay/backend/internal/model/persona"
)

func newTestRouter() http.Handler {
	store := persona.NewMemoryStore(persona.Seed())
	r := chi.NewRouter()
	New(store, persona.DefaultID).RegisterRoutes(r)
	return r
}

func TestListPersonas(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/personas", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var personas []persona.Persona
	if err := json.Unmarshal(rec.Body.Bytes(), &personas); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(personas) == 0 || personas[0].ID != persona.DefaultID {
		t.Fatalf("unexpected personas %+v", personas)
	}
	if strings.Contains(rec.Body.String(), "Steer questions about competitors") {
		t.Fatal("persona instructions leaked into the API")
	}
}

func TestGetPersona(t *testing.T) {
	router := newTestRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/personas/active", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for active persona, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/personas/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
