package speech

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	speechmodel "github.com/zhouzirui/voice-relay/backend/internal/model/speech"
)

func TestResolveTTSResourceCandidates(t *testing.T) {
	tests := []struct {
		name  string
		voice string
		want  []string
	}{
		{name: "default voice", voice: "", want: []string{"volc.service_type.10029", "seed-tts-2.0"}},
		{name: "mega clone voice", voice: "S_clone_speaker", want: []string{"volc.megatts.default"}},
		{name: "bigtts voice", voice: "en_female_amy_jupiter_bigtts", want: []string{"seed-tts-2.0", "volc.service_type.10029"}},
		{name: "legacy voice", voice: "en_male_adam", want: []string{"volc.service_type.10029", "seed-tts-2.0"}},
	}

	for _, tt := range tests {
		got := resolveTTSResourceCandidates(tt.voice)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: resolveTTSResourceCandidates(%q) = %v, want %v", tt.name, tt.voice, got, tt.want)
		}
	}
}

func TestResolveTTSSpeakerCandidates(t *testing.T) {
	tests := []struct {
		name     string
		request  string
		fallback string
		want     []string
	}{
		{name: "request and fallback", request: "persona-voice", fallback: "en_male_adam", want: []string{"persona-voice", "en_male_adam"}},
		{name: "request empty", request: "", fallback: "en_male_adam", want: []string{"en_male_adam"}},
		{name: "duplicate ignoring case", request: "EN_MALE_ADAM", fallback: "en_male_adam", want: []string{"EN_MALE_ADAM"}},
		{name: "both empty", want: []string{DefaultTTSVoice}},
	}

	for _, tt := range tests {
		got := resolveTTSSpeakerCandidates(tt.request, tt.fallback)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

// fakeTTS answers each request with the frames returned by reply.
type fakeTTS struct {
	mu        sync.Mutex
	resources []string
	requests  []ttsRequest
}

func (f *fakeTTS) seen() ([]string, []ttsRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.resources...), append([]ttsRequest(nil), f.requests...)
}

func newFakeTTS(t *testing.T, reply func(resourceID string) [][]byte) (*fakeTTS, *httptest.Server) {
	t.Helper()
	f := &fakeTTS{}
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resourceID := r.Header.Get("X-Api-Resource-Id")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := DecodeMessage(data)
		if err != nil {
			return
		}
		var req ttsRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return
		}
		f.mu.Lock()
		f.resources = append(f.resources, resourceID)
		f.requests = append(f.requests, req)
		f.mu.Unlock()

		for _, frame := range reply(resourceID) {
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return f, server
}

func testSpeechConfig(server *httptest.Server) *speechmodel.SpeechConfig {
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	return &speechmodel.SpeechConfig{
		AppID:       "app",
		AccessToken: "token",
		ASREndpoint: url,
		TTSEndpoint: url,
	}
}

func audioFrame(data []byte, last bool) []byte {
	flags := NoSequenceNumber
	if last {
		flags = LastPacketNoSequence
	}
	return EncodeMessage(&Message{
		Header:  Header{MessageType: AudioOnlyServerResponse, MessageFlags: flags},
		Payload: data,
	})
}

func errorFrame(code uint32, text string) []byte {
	return EncodeMessage(&Message{
		Header:    Header{MessageType: ErrorMessage},
		ErrorCode: code,
		Payload:   []byte(text),
	})
}

func TestTTSSynthesizeCollectsAudio(t *testing.T) {
	fake, server := newFakeTTS(t, func(string) [][]byte {
		return [][]byte{audioFrame([]byte{1, 2}, false), audioFrame([]byte{3}, true)}
	})

	client := NewTTSClient(testSpeechConfig(server))
	audio, err := client.Synthesize(context.Background(), "s1", "Hello there.", "en_male_adam")
	if err != nil {
		t.Fatalf("Synthesize err: %v", err)
	}
	if !reflect.DeepEqual(audio, []byte{1, 2, 3}) {
		t.Fatalf("unexpected audio %v", audio)
	}

	_, requests := fake.seen()
	req := requests[0]
	if req.User.UID != "s1" || req.ReqParams.Text != "Hello there." || req.ReqParams.Speaker != "en_male_adam" {
		t.Fatalf("unexpected request %+v", req)
	}
	if req.ReqParams.AudioParams.Format != "mp3" || req.ReqParams.AudioParams.SampleRate != 24000 {
		t.Fatalf("unexpected audio params %+v", req.ReqParams.AudioParams)
	}
}

func TestTTSFallsBackOnResourceMismatch(t *testing.T) {
	fake, server := newFakeTTS(t, func(resourceID string) [][]byte {
		if resourceID == "volc.service_type.10029" {
			return [][]byte{errorFrame(45000000, "resource ID is mismatched with speaker related resource")}
		}
		return [][]byte{audioFrame([]byte{7}, true)}
	})

	client := NewTTSClient(testSpeechConfig(server))
	audio, err := client.Synthesize(context.Background(), "s1", "Hi.", "en_male_adam")
	if err != nil {
		t.Fatalf("Synthesize err: %v", err)
	}
	if !reflect.DeepEqual(audio, []byte{7}) {
		t.Fatalf("unexpected audio %v", audio)
	}
	if resources, _ := fake.seen(); !reflect.DeepEqual(resources, []string{"volc.service_type.10029", "seed-tts-2.0"}) {
		t.Fatalf("unexpected resource attempts %v", resources)
	}
}

func TestTTSReportsServerError(t *testing.T) {
	_, server := newFakeTTS(t, func(string) [][]byte {
		return [][]byte{errorFrame(40000001, "quota exceeded")}
	})

	client := NewTTSClient(testSpeechConfig(server))
	_, err := client.Synthesize(context.Background(), "s1", "Hi.", "")
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("expected server error, got %v", err)
	}
}

func TestTTSRequiresTextAndCredentials(t *testing.T) {
	client := NewTTSClient(&speechmodel.SpeechConfig{AppID: "app", AccessToken: "token"})
	if _, err := client.Synthesize(context.Background(), "s1", "  ", ""); err == nil {
		t.Fatal("expected error for empty text")
	}

	client = NewTTSClient(&speechmodel.SpeechConfig{})
	if _, err := client.Synthesize(context.Background(), "s1", "hi", ""); err != ErrCredentialsMissing {
		t.Fatalf("expected ErrCredentialsMissing, got %v", err)
	}
}
