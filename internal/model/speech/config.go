package speech

import "time"

const (
	DefaultASREndpoint = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_nostream"
	DefaultTTSEndpoint = "wss://openspeech.bytedance.com/api/v3/tts/unidirectional/stream"
)

// SpeechConfig 描述火山引擎语音凭证以及级联上游使用的 ASR/TTS 参数。
type SpeechConfig struct {
	AppID          string
	AccessToken    string
	APIKey         string // AccessToken 的旧别名
	ConcurrentMode bool   // 使用并发版 ASR 资源而非小时版

	ASREndpoint   string
	ASRLanguage   string
	ASRFormat     string // pcm, wav, ogg
	ASRSampleRate int
	// ASRChunkInterval 控制音频分包的发送间隔，为零时尽快发送。
	ASRChunkInterval time.Duration

	TTSEndpoint   string
	TTSVoice      string
	TTSSpeed      float32
	TTSVolume     float32
	TTSLanguage   string
	TTSFormat     string // mp3, pcm, ogg_opus
	TTSSampleRate int

	Timeout time.Duration
}
