package videotask

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/nao1215/edgegate/pkg/apperror"
)

// LumaConfig はLuma APIの設定。
type LumaConfig struct {
	APIKey  string
	BaseURL string
}

// Luma はLuma Dream Machine APIのアダプター。
type Luma struct {
	cfg LumaConfig
}

// NewLuma は新しいLumaアダプターを生成する。
func NewLuma(cfg LumaConfig) *Luma {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Luma{cfg: cfg}
}

// Provider はProviderLumaを返す。
func (l *Luma) Provider() Provider { return ProviderLuma }

// BuildPayload はLumaのリクエストボディを組み立てる。
// durationは "5s" のように単位付きの文字列、カメラワークはconceptsで表す。
func (l *Luma) BuildPayload(req Request) (map[string]any, error) {
	payload := map[string]any{
		"model":        defaultString(req.Model, "ray-2"),
		"prompt":       req.Prompt,
		"duration":     fmt.Sprintf("%ds", req.duration()),
		"aspect_ratio": defaultString(req.AspectRatio, "16:9"),
	}
	if req.InputImage != "" {
		if strings.HasPrefix(req.InputImage, "data:") {
			return nil, apperror.Validation("inputImage must be a URL for luma")
		}
		payload["keyframes"] = map[string]any{
			"frame0": map[string]string{"type": "image", "url": req.InputImage},
		}
	}
	if req.Camera != nil && req.Camera.Movement != "" {
		payload["concepts"] = []map[string]string{{"key": req.Camera.Movement}}
	}
	return payload, nil
}

// Endpoint はタスク作成のURLを返す。
func (l *Luma) Endpoint(Request) string {
	return l.cfg.BaseURL + "/v1/generations"
}

// TaskID は id を返す。
func (l *Luma) TaskID(raw []byte) (string, error) {
	return lookupString(raw, "id")
}

// StatusEndpoint はタスク状態のURLを返す。
func (l *Luma) StatusEndpoint(taskID, _ string) string {
	return l.cfg.BaseURL + "/v1/generations/" + url.PathEscape(taskID)
}

// Authorize はAPIキーをBearerとして設定する。
func (l *Luma) Authorize(req *http.Request) error {
	if l.cfg.APIKey == "" {
		return errors.New("LumaのAPIキーが設定されていません")
	}
	req.Header.Set("Authorization", "Bearer "+l.cfg.APIKey)
	return nil
}
