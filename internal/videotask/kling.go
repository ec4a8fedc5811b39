package videotask

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// klingTokenTTL はKling APIに送るJWTの有効期間。
	klingTokenTTL = 30 * time.Minute
	// klingClockSkew はnbfを現在時刻より前にずらす幅。
	klingClockSkew = 5 * time.Second
)

// KlingConfig はKling APIの設定。
type KlingConfig struct {
	// AccessKey はJWTのissに入れるアクセスキー。
	AccessKey string
	// SecretKey はJWTの署名鍵。
	SecretKey string
	// BaseURL はAPIのベースURL。
	BaseURL string
}

// Kling はKling APIのアダプター。
type Kling struct {
	cfg KlingConfig
	now func() time.Time
}

// NewKling は新しいKlingアダプターを生成する。
func NewKling(cfg KlingConfig) *Kling {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Kling{cfg: cfg, now: time.Now}
}

// Provider はProviderKlingを返す。
func (k *Kling) Provider() Provider { return ProviderKling }

// BuildPayload はKlingのリクエストボディを組み立てる。
// durationは "5" のような文字列、カメラ制御は camera_control.config に入れる。
func (k *Kling) BuildPayload(req Request) (map[string]any, error) {
	payload := map[string]any{
		"model_name": defaultString(req.Model, "kling-v1"),
		"prompt":     req.Prompt,
		"duration":   strconv.Itoa(req.duration()),
		"mode":       defaultString(req.Mode, "std"),
	}
	if req.NegativePrompt != "" {
		payload["negative_prompt"] = req.NegativePrompt
	}
	if req.InputImage != "" {
		payload["image"] = stripDataURL(req.InputImage)
	} else {
		payload["aspect_ratio"] = defaultString(req.AspectRatio, "16:9")
	}
	if c := req.Camera; c != nil {
		payload["camera_control"] = map[string]any{
			"type": "simple",
			"config": map[string]float64{
				"horizontal": c.Horizontal,
				"vertical":   c.Vertical,
				"pan":        c.Pan,
				"tilt":       c.Tilt,
				"roll":       c.Roll,
				"zoom":       c.Zoom,
			},
		}
	}
	return payload, nil
}

// Endpoint は入力画像の有無でtext2videoとimage2videoを切り替える。
func (k *Kling) Endpoint(req Request) string {
	return fmt.Sprintf("%s/v1/videos/%s", k.cfg.BaseURL, klingTaskType(req.InputImage != ""))
}

// TaskID は data.task_id を返す。
func (k *Kling) TaskID(raw []byte) (string, error) {
	return lookupString(raw, "data", "task_id")
}

// StatusEndpoint はタスク種別（text2video / image2video）ごとの状態URLを返す。
// modeが空の場合はtext2videoとして扱う。
func (k *Kling) StatusEndpoint(taskID, mode string) string {
	taskType := klingTaskType(false)
	if mode == "image2video" {
		taskType = mode
	}
	return fmt.Sprintf("%s/v1/videos/%s/%s", k.cfg.BaseURL, taskType, url.PathEscape(taskID))
}

// Authorize はアクセスキーとシークレットキーから短命のJWTを生成してBearerとして設定する。
func (k *Kling) Authorize(req *http.Request) error {
	token, err := k.token()
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// token はKling API用のJWTを生成する。
func (k *Kling) token() (string, error) {
	if k.cfg.AccessKey == "" || k.cfg.SecretKey == "" {
		return "", errors.New("Klingのアクセスキーが設定されていません")
	}
	now := k.now()
	claims := jwt.RegisteredClaims{
		Issuer:    k.cfg.AccessKey,
		ExpiresAt: jwt.NewNumericDate(now.Add(klingTokenTTL)),
		NotBefore: jwt.NewNumericDate(now.Add(-klingClockSkew)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(k.cfg.SecretKey))
	if err != nil {
		return "", fmt.Errorf("Kling用JWTの署名に失敗: %w", err)
	}
	return signed, nil
}

func klingTaskType(hasImage bool) string {
	if hasImage {
		return "image2video"
	}
	return "text2video"
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
