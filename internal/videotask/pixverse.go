package videotask

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// PixVerseConfig はPixVerse APIの設定。
type PixVerseConfig struct {
	APIKey  string
	BaseURL string
}

// PixVerse はPixVerse APIのアダプター。
type PixVerse struct {
	cfg PixVerseConfig
}

// NewPixVerse は新しいPixVerseアダプターを生成する。
func NewPixVerse(cfg PixVerseConfig) *PixVerse {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &PixVerse{cfg: cfg}
}

// Provider はProviderPixVerseを返す。
func (p *PixVerse) Provider() Provider { return ProviderPixVerse }

// BuildPayload はPixVerseのリクエストボディを組み立てる。
// durationは数値のまま、滑らかさは0〜100を0〜1に正規化してmotion_smoothnessに入れる。
func (p *PixVerse) BuildPayload(req Request) (map[string]any, error) {
	payload := map[string]any{
		"model":        defaultString(req.Model, "v4.5"),
		"prompt":       req.Prompt,
		"duration":     req.duration(),
		"aspect_ratio": defaultString(req.AspectRatio, "16:9"),
		"quality":      defaultString(req.Mode, "540p"),
	}
	if req.NegativePrompt != "" {
		payload["negative_prompt"] = req.NegativePrompt
	}
	if req.InputImage != "" {
		payload["img_url"] = req.InputImage
	}
	if c := req.Camera; c != nil {
		if c.Movement != "" {
			payload["camera_movement"] = c.Movement
		}
		if c.Smoothness != nil {
			payload["motion_smoothness"] = normalizeSmoothness(*c.Smoothness)
		}
	}
	return payload, nil
}

// Endpoint は入力画像の有無でtextとimgのエンドポイントを切り替える。
func (p *PixVerse) Endpoint(req Request) string {
	if req.InputImage != "" {
		return p.cfg.BaseURL + "/v2/video/img/generate"
	}
	return p.cfg.BaseURL + "/v2/video/text/generate"
}

// TaskID は Resp.video_id を返す。video_idは数値の場合もある。
func (p *PixVerse) TaskID(raw []byte) (string, error) {
	return lookupString(raw, "Resp", "video_id")
}

// StatusEndpoint はタスク状態のURLを返す。
func (p *PixVerse) StatusEndpoint(taskID, _ string) string {
	return p.cfg.BaseURL + "/v2/video/result/" + url.PathEscape(taskID)
}

// Authorize はAPI-KEYと試行ごとのAi-trace-idを設定する。
func (p *PixVerse) Authorize(req *http.Request) error {
	if p.cfg.APIKey == "" {
		return errors.New("PixVerseのAPIキーが設定されていません")
	}
	req.Header.Set("API-KEY", p.cfg.APIKey)
	req.Header.Set("Ai-trace-id", uuid.NewString())
	return nil
}

// normalizeSmoothness は0〜100の値を0〜1に正規化する。範囲外の値は丸める。
func normalizeSmoothness(v float64) float64 {
	switch {
	case v < 0:
		v = 0
	case v > 100:
		v = 100
	}
	return v / 100
}
