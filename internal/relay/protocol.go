package relay

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Client message types.
const (
	TypeStartSession = "start_session"
	TypeAudioData    = "audio_data"
	TypeInterrupt    = "interrupt"
	TypeEndSession   = "end_session"
)

// Server message types.
const (
	TypeSessionStarted = "session_started"
	TypeAudioResponse  = "audio_response"
	TypeError          = "error"
)

// Inbound is one decoded client message. The set of implementations is closed.
type Inbound interface {
	inboundType() string
}

// StartSession asks the relay to open the upstream session.
type StartSession struct{}

// AudioData carries one client audio chunk, already decoded from its transport encoding.
type AudioData struct {
	Audio []byte
}

// Interrupt asks the relay to abandon the in-flight response.
type Interrupt struct{}

// EndSession asks the relay to release the upstream session.
type EndSession struct{}

func (StartSession) inboundType() string { return TypeStartSession }
func (AudioData) inboundType() string    { return TypeAudioData }
func (Interrupt) inboundType() string    { return TypeInterrupt }
func (EndSession) inboundType() string   { return TypeEndSession }

type inboundEnvelope struct {
	Type      string          `json:"type"`
	AudioData json.RawMessage `json:"audioData"`
}

// DecodeInbound validates a client text frame. Unknown types and undecodable
// payloads are reported as ErrBadRequest.
func DecodeInbound(data []byte) (Inbound, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, newError(ErrBadRequest, "invalid message: %v", err)
	}

	switch strings.TrimSpace(env.Type) {
	case TypeStartSession:
		return StartSession{}, nil
	case TypeAudioData:
		audio, err := decodeAudio(env.AudioData)
		if err != nil {
			return nil, err
		}
		return AudioData{Audio: audio}, nil
	case TypeInterrupt:
		return Interrupt{}, nil
	case TypeEndSession:
		return EndSession{}, nil
	case "":
		return nil, newError(ErrBadRequest, "message type is required")
	default:
		return nil, newError(ErrBadRequest, "unsupported message type: %s", env.Type)
	}
}

// decodeAudio accepts either a base64 string or an array of byte values,
// which is what browsers produce from Array.from(Uint8Array).
func decodeAudio(raw json.RawMessage) ([]byte, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, newError(ErrBadRequest, "audioData is required")
	}

	var audio []byte
	switch trimmed[0] {
	case '"':
		var encoded string
		if err := json.Unmarshal(trimmed, &encoded); err != nil {
			return nil, newError(ErrBadRequest, "invalid audioData: %v", err)
		}
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, newError(ErrBadRequest, "invalid base64 audioData: %v", err)
		}
		audio = decoded
	case '[':
		var values []int
		if err := json.Unmarshal(trimmed, &values); err != nil {
			return nil, newError(ErrBadRequest, "invalid audioData array: %v", err)
		}
		audio = make([]byte, len(values))
		for i, v := range values {
			if v < 0 || v > 255 {
				return nil, newError(ErrBadRequest, "audioData[%d] out of byte range: %d", i, v)
			}
			audio[i] = byte(v)
		}
	default:
		return nil, newError(ErrBadRequest, "audioData must be a base64 string or byte array")
	}

	if len(audio) == 0 {
		return nil, newError(ErrBadRequest, "audioData is empty")
	}
	return audio, nil
}

// Outbound is a server frame. AudioData is serialized as base64.
type Outbound struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	AudioData []byte `json:"audioData,omitempty"`
	Text      string `json:"text,omitempty"`
	Turn      uint64 `json:"turn,omitempty"`
	Seq       int    `json:"seq,omitempty"`
	Message   string `json:"message,omitempty"`
	Code      string `json:"code,omitempty"`
}

func sessionStartedMessage(sessionID string) Outbound {
	return Outbound{Type: TypeSessionStarted, SessionID: sessionID}
}

func audioResponseMessage(chunk Chunk) Outbound {
	return Outbound{
		Type:      TypeAudioResponse,
		AudioData: chunk.Audio,
		Text:      chunk.Text,
		Turn:      chunk.Turn,
		Seq:       chunk.Seq,
	}
}

// ErrorMessage builds the error frame for err.
func ErrorMessage(err error) Outbound {
	return Outbound{Type: TypeError, Message: err.Error(), Code: Code(err)}
}

func (o Outbound) String() string {
	switch o.Type {
	case TypeAudioResponse:
		return fmt.Sprintf("%s(turn=%d seq=%d bytes=%d)", o.Type, o.Turn, o.Seq, len(o.AudioData))
	case TypeError:
		return fmt.Sprintf("%s(%s: %s)", o.Type, o.Code, o.Message)
	default:
		return o.Type
	}
}
