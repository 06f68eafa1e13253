package speech

import (
	"context"
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

// 16kHz、16bit、单声道：每包 200ms。
const asrChunkSize = 6400

// ASRClient 通过大模型流式识别接口，每次调用识别一段语音。
type ASRClient struct {
	config *speechmodel.SpeechConfig
	dialer *websocket.Dialer
}

type asrRequest struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user"`
	Audio struct {
		Language string `json:"language,omitempty"`
		Format   string `json:"format"`
		Codec    string `json:"codec,omitempty"`
		Rate     int    `json:"rate,omitempty"`
		Bits     int    `json:"bits,omitempty"`
		Channel  int    `json:"channel,omitempty"`
	} `json:"audio"`
	Request struct {
		ModelName      string `json:"model_name"`
		EnableITN      bool   `json:"enable_itn,omitempty"`
		EnablePunc     bool   `json:"enable_punc,omitempty"`
		ShowUtterances bool   `json:"show_utterances,omitempty"`
		ResultType     string `json:"result_type,omitempty"`
		EndWindowSize  int    `json:"end_window_size,omitempty"`
	} `json:"request"`
}

type asrUtterance struct {
	Text     string `json:"text"`
	Definite bool   `json:"definite"`
}

type asrServerMessage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Result  struct {
		Text       string         `json:"text"`
		Utterances []asrUtterance `json:"utterances,omitempty"`
	} `json:"result"`
}

// NewASRClient 创建 ASR 客户端。
func NewASRClient(config *speechmodel.SpeechConfig) *ASRClient {
	return &ASRClient{
		config: config,
		dialer: &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
	}
}

// Transcribe 将音频作为一句话发送并返回最终识别结果。
// 识别结果为空不视为错误。
func (c *ASRClient) Transcribe(ctx context.Context, sessionID string, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", errors.New("no audio data to transcribe")
	}

	appID, token, err := resolveCredentials(c.config)
	if err != nil {
		return "", err
	}

	resourceID := "volc.bigasr.sauc.duration"
	if c.config.ConcurrentMode {
		resourceID = "volc.bigasr.sauc.concurrent"
	}

	endpoint := c.config.ASREndpoint
	if endpoint == "" {
		endpoint = speechmodel.DefaultASREndpoint
	}

	conn, resp, err := c.dialer.DialContext(ctx, endpoint, authHeader(appID, token, resourceID, uuid.NewString()))
	if err != nil {
		if resp != nil {
			return "", fmt.Errorf("ASR handshake rejected: %s", resp.Status)
		}
		return "", fmt.Errorf("failed to connect to ASR WebSocket: %w", err)
	}
	defer conn.Close()

	if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
		log.Printf("[ASR] session=%s connected logid=%s", sessionID, logid)
	}

	// ctx 结束时关闭连接，使读取返回
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	payload, err := json.Marshal(c.buildRequest(sessionID))
	if err != nil {
		return "", fmt.Errorf("failed to marshal ASR request: %w", err)
	}
	compressed, err := gzipBytes(payload)
	if err != nil {
		return "", err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, EncodeMessage(newFullClientRequest(compressed, GzipCompression))); err != nil {
		return "", c.wrapErr(ctx, fmt.Errorf("failed to send ASR request: %w", err))
	}

	sendErr := make(chan error, 1)
	go func() { sendErr <- c.sendAudio(ctx, conn, audio) }()

	text, err := c.receive(conn, sessionID)
	if err != nil {
		return "", c.wrapErr(ctx, err)
	}
	if err := <-sendErr; err != nil {
		return "", c.wrapErr(ctx, err)
	}
	return text, nil
}

func (c *ASRClient) wrapErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func (c *ASRClient) buildRequest(sessionID string) *asrRequest {
	req := &asrRequest{}
	req.User.UID = sessionID

	req.Audio.Format = c.config.ASRFormat
	if req.Audio.Format == "" {
		req.Audio.Format = "pcm"
	}
	req.Audio.Language = c.config.ASRLanguage
	req.Audio.Codec = "raw"
	req.Audio.Rate = c.config.ASRSampleRate
	if req.Audio.Rate <= 0 {
		req.Audio.Rate = 16000
	}
	req.Audio.Bits = 16
	req.Audio.Channel = 1

	req.Request.ModelName = "bigmodel"
	req.Request.EnableITN = true
	req.Request.EnablePunc = true
	req.Request.ShowUtterances = true
	req.Request.ResultType = "full"
	req.Request.EndWindowSize = 800
	return req
}

func (c *ASRClient) sendAudio(ctx context.Context, conn *websocket.Conn, audio []byte) error {
	// 完整客户端请求占用序号 1
	sequence := int32(2)
	for start := 0; start < len(audio); start += asrChunkSize {
		end := min(start+asrChunkSize, len(audio))
		last := end == len(audio)

		compressed, err := gzipBytes(audio[start:end])
		if err != nil {
			return err
		}
		frame := EncodeMessage(newAudioRequest(compressed, sequence, last, GzipCompression))
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			return fmt.Errorf("failed to send audio chunk: %w", err)
		}
		sequence++

		if last || c.config.ASRChunkInterval <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.config.ASRChunkInterval):
		}
	}
	return nil
}

func (c *ASRClient) receive(conn *websocket.Conn, sessionID string) (string, error) {
	var finalText string
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return "", fmt.Errorf("failed to read ASR response: %w", err)
		}

		msg, err := DecodeMessage(data)
		if err != nil {
			return "", fmt.Errorf("failed to decode ASR message: %w", err)
		}
		payload, err := msg.payload()
		if err != nil {
			return "", fmt.Errorf("failed to decompress ASR payload: %w", err)
		}

		switch msg.Header.MessageType {
		case ErrorMessage:
			return "", fmt.Errorf("ASR error %d: %s", msg.ErrorCode, string(payload))

		case FullServerResponse:
			var resp asrServerMessage
			if err := json.Unmarshal(payload, &resp); err != nil {
				log.Printf("[ASR] session=%s failed to unmarshal response: %v", sessionID, err)
				continue
			}
			if resp.Code != 0 && resp.Code != 20000000 {
				return "", fmt.Errorf("ASR API error %d: %s", resp.Code, resp.Message)
			}

			if text := resp.Result.Text; text != "" {
				finalText = text
			} else if len(resp.Result.Utterances) > 0 {
				finalText = joinUtterances(resp.Result.Utterances)
			}

			if msg.IsLastPacket() {
				if finalText == "" {
					log.Printf("[ASR] session=%s empty transcript", sessionID)
				}
				return strings.TrimSpace(finalText), nil
			}
		}
	}
}

func joinUtterances(utterances []asrUtterance) string {
	parts := make([]string, 0, len(utterances))
	for _, u := range utterances {
		if t := strings.TrimSpace(u.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
