package speech

import (
	"errors"
	"net/http"
	"strings"

	speechmodel "github.com/zhouzirui/voice-relay/backend/internal/model/speech"
)

var ErrCredentialsMissing = errors.New("volcengine speech credentials missing: set SPEECH_APP_ID and SPEECH_ACCESS_TOKEN")

// resolveCredentials 返回规范化后的 AppID 与访问令牌。
func resolveCredentials(cfg *speechmodel.SpeechConfig) (string, string, error) {
	if cfg == nil {
		return "", "", ErrCredentialsMissing
	}

	appID := strings.TrimSpace(cfg.AppID)
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		token = strings.TrimSpace(cfg.APIKey)
	}
	if appID == "" || token == "" {
		return "", "", ErrCredentialsMissing
	}
	return appID, token, nil
}

func authHeader(appID, token, resourceID, connectID string) http.Header {
	header := http.Header{}
	header.Set("X-Api-App-Key", appID)
	header.Set("X-Api-Access-Key", token)
	header.Set("X-Api-Resource-Id", resourceID)
	header.Set("X-Api-Connect-Id", connectID)
	return header
}
