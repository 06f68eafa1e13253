package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	speechmodel "github.com/zhouzirui/voice-relay/backend/internal/model/speech"
	"github.com/zhouzirui/voice-relay/backend/internal/upstream/gemini"
)

const (
	UpstreamGemini  = "gemini"
	UpstreamCascade = "cascade"

	defaultMaxMessageBytes = 8 << 20
)

// Config 聚合中继进程的全部配置项。
type Config struct {
	Server ServerConfig
	Relay  RelayConfig
	Gemini gemini.Config
	AI     AIConfig
	Speech speechmodel.SpeechConfig
}

// Load 从环境变量加载配置，并校验所选上游是否可用。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	relay, err := loadRelayConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: server,
		Relay:  relay,
		Gemini: loadGeminiConfig(),
		AI:     ai,
		Speech: speech,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查所选上游的必需凭证。
func (c *Config) Validate() error {
	switch c.Relay.Upstream {
	case UpstreamGemini:
		if c.Gemini.APIKey == "" {
			return errors.New("RELAY_UPSTREAM=gemini requires GEMINI_API_KEY")
		}
	case UpstreamCascade:
		if !c.AI.Enabled() {
			return errors.New("RELAY_UPSTREAM=cascade requires Model and ARK_API_KEY (or ARK_ACCESS_KEY/ARK_SECRET_KEY)")
		}
		if c.Speech.AppID == "" || c.Speech.AccessToken == "" {
			return errors.New("RELAY_UPSTREAM=cascade requires SPEECH_APP_ID and SPEECH_ACCESS_TOKEN")
		}
	default:
		return fmt.Errorf("invalid RELAY_UPSTREAM value %q: want %s or %s", c.Relay.Upstream, UpstreamGemini, UpstreamCascade)
	}
	return nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "3001"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":3001" 或 "127.0.0.1:3001"。
		return ServerConfig{Addr: port}, nil
	}

	if _, err := strconv.Atoi(port); err != nil {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// RelayConfig 描述所有连接共享的会话行为。
type RelayConfig struct {
	Upstream         string
	HandshakeTimeout time.Duration
	TeardownTimeout  time.Duration
	PersonaID        string
	PersonaFile      string
	MaxMessageBytes  int64
}

func loadRelayConfig() (RelayConfig, error) {
	handshake, err := parseDurationEnv("RELAY_HANDSHAKE_TIMEOUT", 10*time.Second)
	if err != nil {
		return RelayConfig{}, err
	}

	teardown, err := parseDurationEnv("RELAY_TEARDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return RelayConfig{}, err
	}

	maxBytes := int64(defaultMaxMessageBytes)
	if override, err := parseOptionalIntEnv("RELAY_MAX_MESSAGE_BYTES"); err != nil {
		return RelayConfig{}, err
	} else if override != nil {
		if *override <= 0 {
			return RelayConfig{}, fmt.Errorf("invalid RELAY_MAX_MESSAGE_BYTES value %d: must be positive", *override)
		}
		maxBytes = int64(*override)
	}

	return RelayConfig{
		Upstream:         strings.ToLower(getEnvOrDefault("RELAY_UPSTREAM", UpstreamGemini)),
		HandshakeTimeout: handshake,
		TeardownTimeout:  teardown,
		PersonaID:        getEnvOrDefault("RELAY_PERSONA", "rev"),
		PersonaFile:      strings.TrimSpace(os.Getenv("RELAY_PERSONA_FILE")),
		MaxMessageBytes:  maxBytes,
	}, nil
}

func loadGeminiConfig() gemini.Config {
	return gemini.Config{
		APIKey:    strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		BaseURL:   getEnvOrDefault("GEMINI_BASE_URL", gemini.DefaultBaseURL),
		Model:     getEnvOrDefault("GEMINI_MODEL", gemini.DefaultModel),
		Voice:     strings.TrimSpace(os.Getenv("GEMINI_VOICE")),
		AudioMIME: getEnvOrDefault("GEMINI_AUDIO_MIME", gemini.DefaultAudioMIME),
	}
}

// AIConfig 描述级联上游使用的大模型配置。
type AIConfig struct {
	APIKey         string
	AccessKey      string
	SecretKey      string
	Model          string
	BaseURL        string
	Region         string
	Temperature    *float64
	TopP           *float64
	MaxTokens      *int
	StreamResponse bool
}

// Enabled 表示是否提供了模型和密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, errors.New("ark credentials or model missing: set ARK_API_KEY + Model, or ARK_ACCESS_KEY/ARK_SECRET_KEY")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	stream, err := parseBoolEnv("ARK_STREAM", true)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:         strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:      strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:      strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:          strings.TrimSpace(os.Getenv("Model")),
		BaseURL:        getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:         getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:    temperature,
		TopP:           topP,
		MaxTokens:      maxTokens,
		StreamResponse: stream,
	}, nil
}

// LoadSpeech 仅加载语音配置，供直接调用语音服务的工具使用。
func LoadSpeech() (speechmodel.SpeechConfig, error) {
	return loadSpeechConfig()
}

func loadSpeechConfig() (speechmodel.SpeechConfig, error) {
	timeout, err := parseDurationEnv("SPEECH_TIMEOUT", 30*time.Second)
	if err != nil {
		return speechmodel.SpeechConfig{}, err
	}

	concurrent, err := parseBoolEnv("SPEECH_CONCURRENT_MODE", false)
	if err != nil {
		return speechmodel.SpeechConfig{}, err
	}

	chunkInterval, err := parseDurationEnv("SPEECH_ASR_CHUNK_INTERVAL", 0)
	if err != nil {
		return speechmodel.SpeechConfig{}, err
	}

	speed, err := parseOptionalFloat32Env("SPEECH_TTS_SPEED")
	if err != nil {
		return speechmodel.SpeechConfig{}, err
	}
	ttsSpeed := float32(1.0)
	if speed != nil {
		ttsSpeed = *speed
	}

	volume, err := parseOptionalFloat32Env("SPEECH_TTS_VOLUME")
	if err != nil {
		return speechmodel.SpeechConfig{}, err
	}
	ttsVolume := float32(1.0)
	if volume != nil {
		ttsVolume = *volume
	}

	asrRate, err := parseOptionalIntEnv("SPEECH_ASR_SAMPLE_RATE")
	if err != nil {
		return speechmodel.SpeechConfig{}, err
	}
	ttsRate, err := parseOptionalIntEnv("SPEECH_TTS_SAMPLE_RATE")
	if err != nil {
		return speechmodel.SpeechConfig{}, err
	}

	accessToken := strings.TrimSpace(os.Getenv("SPEECH_ACCESS_TOKEN"))
	apiKey := strings.TrimSpace(os.Getenv("SPEECH_API_KEY"))
	if accessToken == "" {
		accessToken = apiKey
	}

	return speechmodel.SpeechConfig{
		AppID:            strings.TrimSpace(os.Getenv("SPEECH_APP_ID")),
		AccessToken:      accessToken,
		APIKey:           apiKey,
		ConcurrentMode:   concurrent,
		ASREndpoint:      getEnvOrDefault("SPEECH_ASR_ENDPOINT", speechmodel.DefaultASREndpoint),
		ASRLanguage:      getEnvOrDefault("SPEECH_ASR_LANGUAGE", "en-US"),
		ASRFormat:        getEnvOrDefault("SPEECH_ASR_FORMAT", "pcm"),
		ASRSampleRate:    intOrDefault(asrRate, 16000),
		ASRChunkInterval: chunkInterval,
		TTSEndpoint:      getEnvOrDefault("SPEECH_TTS_ENDPOINT", speechmodel.DefaultTTSEndpoint),
		TTSVoice:         strings.TrimSpace(os.Getenv("SPEECH_TTS_VOICE")),
		TTSSpeed:         ttsSpeed,
		TTSVolume:        ttsVolume,
		TTSLanguage:      getEnvOrDefault("SPEECH_TTS_LANGUAGE", "en"),
		TTSFormat:        getEnvOrDefault("SPEECH_TTS_FORMAT", "pcm"),
		TTSSampleRate:    intOrDefault(ttsRate, 24000),
		Timeout:          timeout,
	}, nil
}

func intOrDefault(v *int, def int) int {
	if v == nil || *v <= 0 {
		return def
	}
	return *v
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

// parseDurationEnv 支持 Go 时长格式（"750ms"、"10s"）或整数秒。
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
		}
		return time.Duration(secs) * time.Second, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalFloat32Env(key string) (*float32, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	result := float32(val)
	return &result, nil
}
