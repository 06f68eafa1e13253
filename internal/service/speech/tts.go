package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	speechmodel "github.com/zhouzirui/voice-relay/backend/internal/model/speech"
)

const (
	defaultTTSResource = "volc.service_type.10029"
	megaTTSResource    = "volc.megatts.default"
	seedTTSResource    = "seed-tts-2.0"

	DefaultTTSVoice = "en_female_amy_jupiter_bigtts"
)

// TTSClient 通过单向流式合成接口，每次调用合成一句话。
type TTSClient struct {
	config *speechmodel.SpeechConfig
	dialer *websocket.Dialer
}

type ttsServerMessage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

type ttsRequest struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string         `json:"speaker"`
		Text        string         `json:"text"`
		AudioParams ttsAudioParams `json:"audio_params"`
		Language    string         `json:"language,omitempty"`
	} `json:"req_params"`
}

type ttsAudioParams struct {
	Format      string  `json:"format"`
	SampleRate  int     `json:"sample_rate"`
	SpeedRatio  float32 `json:"speed_ratio,omitempty"`
	VolumeRatio float32 `json:"volume_ratio,omitempty"`
}

// errResourceMismatch 表示当前资源 ID 不支持该音色。
var errResourceMismatch = errors.New("resource ID is mismatched with speaker related resource")

// NewTTSClient 创建 TTS 客户端。
func NewTTSClient(config *speechmodel.SpeechConfig) *TTSClient {
	return &TTSClient{
		config: config,
		dialer: &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
	}
}

// Synthesize 返回 text 的合成音频。voice 非空时覆盖配置的音色，
// 资源 ID 依次尝试，直到某个资源接受该音色。
func (c *TTSClient) Synthesize(ctx context.Context, sessionID, text, voice string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("TTS text is empty")
	}

	appID, token, err := resolveCredentials(c.config)
	if err != nil {
		return nil, err
	}

	speakers := resolveTTSSpeakerCandidates(voice, c.config.TTSVoice)
	var lastErr error
	for _, speaker := range speakers {
		for _, resourceID := range resolveTTSResourceCandidates(speaker) {
			audio, err := c.synthesize(ctx, appID, token, resourceID, sessionID, speaker, text)
			if err == nil {
				return audio, nil
			}
			if !errors.Is(err, errResourceMismatch) {
				return nil, err
			}
			log.Printf("[TTS] voice %s resource %s mismatch, trying next", speaker, resourceID)
			lastErr = err
		}
	}
	return nil, fmt.Errorf("TTS synthesis failed for voices %v: %w", speakers, lastErr)
}

func (c *TTSClient) synthesize(ctx context.Context, appID, token, resourceID, sessionID, speaker, text string) ([]byte, error) {
	endpoint := c.config.TTSEndpoint
	if endpoint == "" {
		endpoint = speechmodel.DefaultTTSEndpoint
	}

	conn, resp, err := c.dialer.DialContext(ctx, endpoint, authHeader(appID, token, resourceID, uuid.NewString()))
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("TTS handshake rejected: %s", resp.Status)
		}
		return nil, fmt.Errorf("failed to connect to TTS WebSocket: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	payload, err := json.Marshal(c.buildRequest(sessionID, speaker, text))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal TTS request: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, EncodeMessage(newFullClientRequest(payload, NoCompression))); err != nil {
		return nil, c.wrapErr(ctx, fmt.Errorf("failed to send TTS request: %w", err))
	}

	audio, err := c.receive(conn)
	if err != nil {
		return nil, c.wrapErr(ctx, err)
	}
	return audio, nil
}

func (c *TTSClient) wrapErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func (c *TTSClient) receive(conn *websocket.Conn) ([]byte, error) {
	var audio bytes.Buffer
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("failed to read TTS response: %w", err)
		}

		msg, err := DecodeMessage(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode TTS message: %w", err)
		}
		payload, err := msg.payload()
		if err != nil {
			return nil, fmt.Errorf("failed to decompress TTS payload: %w", err)
		}

		switch msg.Header.MessageType {
		case ErrorMessage:
			if strings.Contains(string(payload), errResourceMismatch.Error()) {
				return nil, fmt.Errorf("TTS error %d: %w", msg.ErrorCode, errResourceMismatch)
			}
			return nil, fmt.Errorf("TTS error %d: %s", msg.ErrorCode, string(payload))

		case AudioOnlyServerResponse:
			audio.Write(payload)

		case FullServerResponse:
			if len(payload) > 0 {
				var resp ttsServerMessage
				if err := json.Unmarshal(payload, &resp); err != nil {
					log.Printf("[TTS] failed to unmarshal response payload: %v", err)
				} else {
					if resp.Code != 0 && resp.Code != 3000 && resp.Code != 20000000 {
						return nil, fmt.Errorf("TTS API error %d: %s", resp.Code, resp.Message)
					}
					if resp.Data != "" {
						chunk, err := base64.StdEncoding.DecodeString(resp.Data)
						if err != nil {
							return nil, fmt.Errorf("failed to decode base64 audio chunk: %w", err)
						}
						audio.Write(chunk)
					}
				}
			}
		}

		finished := msg.hasEvent() && msg.EventType == EventTypeSessionFinished
		if finished || msg.IsLastPacket() {
			if audio.Len() == 0 {
				return nil, errors.New("TTS audio is empty")
			}
			return audio.Bytes(), nil
		}
	}
}

func (c *TTSClient) buildRequest(sessionID, speaker, text string) *ttsRequest {
	req := &ttsRequest{}
	req.User.UID = sessionID
	req.ReqParams.Speaker = speaker
	req.ReqParams.Text = text

	req.ReqParams.AudioParams.Format = c.config.TTSFormat
	if req.ReqParams.AudioParams.Format == "" {
		req.ReqParams.AudioParams.Format = "mp3"
	}
	req.ReqParams.AudioParams.SampleRate = c.config.TTSSampleRate
	if req.ReqParams.AudioParams.SampleRate <= 0 {
		req.ReqParams.AudioParams.SampleRate = 24000
	}
	if s := c.config.TTSSpeed; s > 0 && s != 1.0 {
		req.ReqParams.AudioParams.SpeedRatio = s
	}
	if v := c.config.TTSVolume; v > 0 && v != 1.0 {
		req.ReqParams.AudioParams.VolumeRatio = v
	}
	req.ReqParams.Language = strings.TrimSpace(c.config.TTSLanguage)
	return req
}

func resolveTTSResourceCandidates(voice string) []string {
	voice = strings.TrimSpace(voice)
	if voice == "" {
		return []string{defaultTTSResource, seedTTSResource}
	}
	if strings.HasPrefix(voice, "S_") {
		return []string{megaTTSResource}
	}

	normalized := strings.ToLower(voice)
	for _, hint := range []string{"bigtts", "seed", "megatts", "uranus", "venus", "jupiter", "saturn", "mars"} {
		if strings.Contains(normalized, hint) {
			return []string{seedTTSResource, defaultTTSResource}
		}
	}
	return []string{defaultTTSResource, seedTTSResource}
}

// resolveTTSSpeakerCandidates 返回请求的音色及配置的备用音色，
// 忽略大小写去重。
func resolveTTSSpeakerCandidates(requested, fallback string) []string {
	var candidates []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		for _, existing := range candidates {
			if strings.EqualFold(existing, s) {
				return
			}
		}
		candidates = append(candidates, s)
	}

	add(requested)
	add(fallback)
	if len(candidates) == 0 {
		return []string{DefaultTTSVoice}
	}
	return candidates
}
