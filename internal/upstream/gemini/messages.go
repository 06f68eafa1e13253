package gemini

// Wire types of the Live API bidirectional stream. Only the fields the relay
// uses are modelled.

type setupMessage struct {
	Setup setup `json:"setup"`
}

type setup struct {
	Model                    string              `json:"model"`
	GenerationConfig         generationConfig    `json:"generationConfig"`
	SystemInstruction        *content            `json:"systemInstruction,omitempty"`
	OutputAudioTranscription *struct{}           `json:"outputAudioTranscription,omitempty"`
	RealtimeInputConfig      realtimeInputConfig `json:"realtimeInputConfig"`
}

type generationConfig struct {
	ResponseModalities []string     `json:"responseModalities"`
	SpeechConfig       speechConfig `json:"speechConfig"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type realtimeInputConfig struct {
	AutomaticActivityDetection activityDetection `json:"automaticActivityDetection"`
}

type activityDetection struct {
	Disabled bool `json:"disabled"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string `json:"text,omitempty"`
	InlineData *blob  `json:"inlineData,omitempty"`
}

// blob.Data is base64 on the wire, which encoding/json does for []byte.
type blob struct {
	MimeType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	Audio         *blob     `json:"audio,omitempty"`
	ActivityStart *struct{} `json:"activityStart,omitempty"`
	ActivityEnd   *struct{} `json:"activityEnd,omitempty"`
}

type serverMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *serverContent `json:"serverContent,omitempty"`
	GoAway        *goAway        `json:"goAway,omitempty"`
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	GenerationComplete  bool           `json:"generationComplete,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

func newSetup(cfg Config, instructions string) setupMessage {
	msg := setupMessage{Setup: setup{
		Model: cfg.modelName(),
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: speechConfig{VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice},
			}},
		},
		OutputAudioTranscription: &struct{}{},
		RealtimeInputConfig: realtimeInputConfig{
			AutomaticActivityDetection: activityDetection{Disabled: true},
		},
	}}
	if instructions != "" {
		msg.Setup.SystemInstruction = &content{Parts: []part{{Text: instructions}}}
	}
	return msg
}

func activityStartMessage() realtimeInputMessage {
	return realtimeInputMessage{RealtimeInput: realtimeInput{ActivityStart: &struct{}{}}}
}

func activityEndMessage() realtimeInputMessage {
	return realtimeInputMessage{RealtimeInput: realtimeInput{ActivityEnd: &struct{}{}}}
}

func audioMessage(mime string, data []byte) realtimeInputMessage {
	return realtimeInputMessage{RealtimeInput: realtimeInput{Audio: &blob{MimeType: mime, Data: data}}}
}
