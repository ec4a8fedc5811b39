package videotask

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/nao1215/edgegate/pkg/apperror"
	"github.com/nao1215/edgegate/pkg/httpclient"
	"github.com/sirupsen/logrus"
)

// Provider は動画タスク系ベンダーの種類。
type Provider string

const (
	// ProviderKling はKling。
	ProviderKling Provider = "kling"
	// ProviderLuma はLuma Dream Machine。
	ProviderLuma Provider = "luma"
	// ProviderPixVerse はPixVerse。
	ProviderPixVerse Provider = "pixverse"
)

// defaultDuration は長さ未指定時の秒数。
const defaultDuration = 5

// ParseProvider は文字列をProviderに変換する。未知の値はKindNotFoundのエラーになる。
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(s))); p {
	case ProviderKling, ProviderLuma, ProviderPixVerse:
		return p, nil
	case "":
		return "", apperror.MissingField("provider")
	default:
		return "", apperror.NotFound(fmt.Sprintf("unknown provider: %s", s))
	}
}

// Camera はベンダー共通のカメラ制御。
type Camera struct {
	// Movement はプリセットのカメラワーク名（例: "zoom_in"）。
	Movement string `json:"movement,omitempty"`
	// Horizontal は水平移動量。
	Horizontal float64 `json:"horizontal,omitempty"`
	// Vertical は垂直移動量。
	Vertical float64 `json:"vertical,omitempty"`
	// Pan はパン量。
	Pan float64 `json:"pan,omitempty"`
	// Tilt はチルト量。
	Tilt float64 `json:"tilt,omitempty"`
	// Roll はロール量。
	Roll float64 `json:"roll,omitempty"`
	// Zoom はズーム量。
	Zoom float64 `json:"zoom,omitempty"`
	// Smoothness は動きの滑らかさ（0〜100）。
	Smoothness *float64 `json:"smoothness,omitempty"`
}

// Request はベンダーに依存しない動画タスクのリクエスト。
type Request struct {
	// Provider はベンダー名。
	Provider string `json:"provider"`
	// Prompt は生成プロンプト。
	Prompt string `json:"prompt"`
	// NegativePrompt は除外したい要素。
	NegativePrompt string `json:"negativePrompt,omitempty"`
	// Duration は動画の長さ（秒）。0の場合は5秒。
	Duration int `json:"duration,omitempty"`
	// AspectRatio はアスペクト比。
	AspectRatio string `json:"aspectRatio,omitempty"`
	// InputImage は入力画像のURLまたはBase64。
	InputImage string `json:"inputImage,omitempty"`
	// Camera はカメラ制御。省略可。
	Camera *Camera `json:"camera,omitempty"`
	// Mode は品質モード（Klingのstd / pro など）。
	Mode string `json:"mode,omitempty"`
	// Model はモデル名の上書き。
	Model string `json:"model,omitempty"`
}

// Validate はリクエストの必須項目を検証する。
func (r *Request) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" && r.InputImage == "" {
		return apperror.MissingField("prompt")
	}
	if r.Duration < 0 {
		return apperror.Validation("duration must be positive")
	}
	return nil
}

// duration は秒数を返す。未指定の場合はdefaultDuration。
func (r *Request) duration() int {
	if r.Duration <= 0 {
		return defaultDuration
	}
	return r.Duration
}

// Adapter はベンダーごとのプロトコル変換を行う。
type Adapter interface {
	// Provider は実装しているベンダーを返す。
	Provider() Provider
	// BuildPayload は共通リクエストをベンダーのリクエストボディに変換する。
	BuildPayload(req Request) (map[string]any, error)
	// Endpoint はタスク作成のURLを返す。
	Endpoint(req Request) string
	// TaskID はタスク作成のレスポンスからタスクIDを取り出す。
	TaskID(raw []byte) (string, error)
	// StatusEndpoint はタスク状態のURLを返す。modeはベンダー固有の補助情報。
	StatusEndpoint(taskID, mode string) string
	// Authorize はリクエストに認証情報を設定する。試行ごとに呼ばれる。
	Authorize(req *http.Request) error
}

// Config はすべてのベンダーの設定。
type Config struct {
	Kling    KlingConfig
	Luma     LumaConfig
	PixVerse PixVerseConfig
}

// Result はタスク作成の結果。
type Result struct {
	// TaskID はベンダーが割り当てたタスクID。
	TaskID string `json:"taskId"`
	// Provider はベンダー名。
	Provider Provider `json:"provider"`
	// Raw はベンダーのレスポンスそのもの。
	Raw json.RawMessage `json:"raw"`
}

// Registry はベンダーごとのアダプターを保持し、タスクの作成と状態取得を行う。
type Registry struct {
	adapters    map[Provider]Adapter
	client      *httpclient.Client
	statusRetry httpclient.Options
}

// NewRegistry は新しいRegistryを生成する。statusRetryは状態取得に使うリトライ設定。
func NewRegistry(client *httpclient.Client, statusRetry httpclient.Options, cfg Config) *Registry {
	return NewRegistryWithAdapters(client, statusRetry,
		NewKling(cfg.Kling),
		NewLuma(cfg.Luma),
		NewPixVerse(cfg.PixVerse),
	)
}

// NewRegistryWithAdapters は指定したアダプターでRegistryを生成する。
func NewRegistryWithAdapters(client *httpclient.Client, statusRetry httpclient.Options, adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[Provider]Adapter, len(adapters)), client: client, statusRetry: statusRetry}
	for _, a := range adapters {
		r.adapters[a.Provider()] = a
	}
	return r
}

// Adapter はベンダー名に対応するアダプターを返す。
func (r *Registry) Adapter(provider string) (Adapter, error) {
	p, err := ParseProvider(provider)
	if err != nil {
		return nil, err
	}
	a, ok := r.adapters[p]
	if !ok {
		return nil, apperror.NotFound(fmt.Sprintf("unknown provider: %s", provider))
	}
	return a, nil
}

// Generate はタスクを作成する。タスク作成は冪等でないためリトライしない。
func (r *Registry) Generate(ctx context.Context, req Request) (*Result, error) {
	adapter, err := r.Adapter(req.Provider)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	payload, err := adapter.BuildPayload(req)
	if err != nil {
		return nil, err
	}
	fn, err := httpclient.JSONRequest(http.MethodPost, adapter.Endpoint(req), payload, nil)
	if err != nil {
		return nil, apperror.Internal("リクエストの作成に失敗しました", err)
	}

	label := string(adapter.Provider()) + ".generate"
	opts := httpclient.Options{MaxRetries: 0, Timeout: r.statusRetry.Timeout, Label: label}
	raw, err := r.send(ctx, adapter, fn, opts)
	if err != nil {
		return nil, err
	}

	taskID, err := adapter.TaskID(raw)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"component": "videotask",
			"provider":  adapter.Provider(),
		}).WithError(err).Warn("タスクIDを取得できませんでした")
		return nil, apperror.Upstream(label, http.StatusBadGateway, raw)
	}
	return &Result{TaskID: taskID, Provider: adapter.Provider(), Raw: rawJSON(raw)}, nil
}

// Status はタスクの状態を取得し、ベンダーのレスポンスをそのまま返す。
func (r *Registry) Status(ctx context.Context, provider, taskID, mode string) ([]byte, error) {
	adapter, err := r.Adapter(provider)
	if err != nil {
		return nil, err
	}
	if taskID == "" {
		return nil, apperror.MissingField("taskId")
	}
	if !validTaskID(taskID) {
		return nil, apperror.Validation("taskId is invalid")
	}

	fn, err := httpclient.JSONRequest(http.MethodGet, adapter.StatusEndpoint(taskID, mode), nil, nil)
	if err != nil {
		return nil, apperror.Internal("リクエストの作成に失敗しました", err)
	}
	opts := r.statusRetry
	opts.Label = string(adapter.Provider()) + ".status"
	return r.send(ctx, adapter, fn, opts)
}

// validTaskID はタスクIDがベンダーURLのパス要素1つとして扱えるかを判定する。
func validTaskID(taskID string) bool {
	if taskID == "." || taskID == ".." {
		return false
	}
	return !strings.ContainsAny(taskID, `/?#\`)
}

// send は試行ごとに認証情報を設定して送信し、ボディを返す。
func (r *Registry) send(ctx context.Context, adapter Adapter, fn httpclient.RequestFunc, opts httpclient.Options) ([]byte, error) {
	authorized := func(ctx context.Context) (*http.Request, error) {
		req, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		if err := adapter.Authorize(req); err != nil {
			return nil, err
		}
		return req, nil
	}

	resp, err := r.client.Execute(ctx, authorized, opts)
	if err != nil {
		return nil, err
	}
	return httpclient.ReadBody(opts.Label, resp)
}

// rawJSON はJSONとして正しい場合はそのまま、そうでない場合は文字列として返す。
func rawJSON(b []byte) json.RawMessage {
	if json.Valid(b) {
		return b
	}
	quoted, _ := json.Marshal(string(b))
	return quoted
}

// stripDataURL は "data:image/png;base64," のようなプレフィックスを取り除く。
func stripDataURL(s string) string {
	if !strings.HasPrefix(s, "data:") {
		return s
	}
	if _, data, ok := strings.Cut(s, ","); ok {
		return data
	}
	return s
}

// lookupString はstringのキーでJSONをたどり、文字列または数値をstringで返す。
func lookupString(raw []byte, path ...string) (string, error) {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("レスポンスのデシリアライズに失敗: %w", err)
	}
	for _, key := range path {
		m, ok := v.(map[string]any)
		if !ok {
			return "", fmt.Errorf("%s が見つかりません", strings.Join(path, "."))
		}
		v = m[key]
	}
	switch t := v.(type) {
	case string:
		if t != "" {
			return t, nil
		}
	case json.Number:
		return t.String(), nil
	}
	return "", fmt.Errorf("%s が見つかりません", strings.Join(path, "."))
}
