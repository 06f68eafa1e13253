package speech

import (
	"context"
	"log"
	"time"

	speechmodel "github.com/zhouzirui/voice-relay/backend/internal/model/speech"
)

// Service 封装级联上游使用的 ASR 与 TTS 客户端，
// 每次调用都受配置的超时限制。
type Service struct {
	config *speechmodel.SpeechConfig
	asr    *ASRClient
	tts    *TTSClient
}

// NewService 创建语音服务，凭证在每次调用时校验。
func NewService(config *speechmodel.SpeechConfig) *Service {
	return &Service{
		config: config,
		asr:    NewASRClient(config),
		tts:    NewTTSClient(config),
	}
}

// Ready 检查是否已配置凭证。
func (s *Service) Ready() error {
	_, _, err := resolveCredentials(s.config)
	return err
}

// Transcribe 将一段语音转为文本。
func (s *Service) Transcribe(ctx context.Context, sessionID string, audio []byte) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	started := time.Now()
	text, err := s.asr.Transcribe(ctx, sessionID, audio)
	if err != nil {
		return "", err
	}
	log.Printf("[ASR] session=%s bytes=%d took=%s text=%q", sessionID, len(audio), time.Since(started).Round(time.Millisecond), text)
	return text, nil
}

// Synthesize 将一句文本合成为音频。
func (s *Service) Synthesize(ctx context.Context, sessionID, text, voice string) ([]byte, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	audio, err := s.tts.Synthesize(ctx, sessionID, text, voice)
	if err != nil {
		return nil, err
	}
	log.Printf("[TTS] session=%s chars=%d bytes=%d", sessionID, len(text), len(audio))
	return audio, nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config == nil || s.config.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.config.Timeout)
}
