package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/zhouzirui/voice-relay/backend/internal/model/persona"
	"github.com/zhouzirui/voice-relay/backend/internal/relay"
	"github.com/zhouzirui/voice-relay/backend/internal/service/chat"
)

func TestHealthReportsRelayState(t *testing.T) {
	factory := relay.AdapterFactoryFunc(func(string) (relay.Adapter, error) {
		return nil, errors.New("not used")
	})
	transcripts := chat.NewService()
	transcripts.CreateSession(context.Background(), "conn-1", "rev")

	router := NewRouter(persona.NewMemoryStore(persona.Seed()), relay.NewRegistry(factory, relay.Options{}), RouterConfig{
		Upstream:    "cascade",
		PersonaID:   "rev",
		Transcripts: transcripts,
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}

	var body struct {
		Status      string `json:"status"`
		Upstream    string `json:"upstream"`
		Persona     string `json:"persona"`
		Sessions    int    `json:"sessions"`
		Transcripts int    `json:"transcripts"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body.Status != "ok" || body.Upstream != "cascade" || body.Persona != "rev" {
		t.Fatalf("unexpected health report: %+v", body)
	}
	if body.Sessions != 0 || body.Transcripts != 1 {
		t.Fatalf("unexpected counters: %+v", body)
	}
}
