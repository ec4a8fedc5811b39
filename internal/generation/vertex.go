package generation

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/nao1215/edgegate/pkg/apperror"
	"github.com/nao1215/edgegate/pkg/httpclient"
)

// VertexConfig はVertex AIの接続設定。
type VertexConfig struct {
	// ProjectID はGCPプロジェクトID。
	ProjectID string
	// Location はリージョン。
	Location string
	// AccessToken はBearerとして送るアクセストークン。
	AccessToken string
	// BaseURL はAPIのベースURL。空の場合は https://{location}-aiplatform.googleapis.com。
	BaseURL string
	// Model は既定のモデル名。
	Model string
}

// Vertex はVertex AIのアダプター。
type Vertex struct {
	client      *httpclient.Client
	statusRetry httpclient.Options
	cfg         VertexConfig
}

// NewVertex は新しいVertexアダプターを生成する。
func NewVertex(client *httpclient.Client, statusRetry httpclient.Options, cfg VertexConfig) *Vertex {
	if cfg.BaseURL == "" && cfg.Location != "" {
		cfg.BaseURL = fmt.Sprintf("https://%s-aiplatform.googleapis.com", cfg.Location)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	statusRetry.Label = "veo.vertex.status"
	return &Vertex{client: client, statusRetry: statusRetry, cfg: cfg}
}

// Backend はBackendVertexを返す。
func (v *Vertex) Backend() Backend { return BackendVertex }

// Configured はプロジェクトIDとアクセストークンが設定されているかどうかを返す。
func (v *Vertex) Configured() bool {
	return v.cfg.ProjectID != "" && v.cfg.AccessToken != ""
}

// modelURL はモデルのエンドポイントURLを返す。
func (v *Vertex) modelURL(model string) string {
	return fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/google/models/%s",
		v.cfg.BaseURL, v.cfg.ProjectID, v.cfg.Location, model)
}

// Dispatch は POST …/models/{model}:predictLongRunning で生成を開始する。
func (v *Vertex) Dispatch(ctx context.Context, req Request) (string, error) {
	model := defaultString(req.Model, v.cfg.Model)
	fn, err := httpclient.JSONRequest(http.MethodPost, v.modelURL(model)+":predictLongRunning", buildPredictRequest(req, "sampleCount"), v.header())
	if err != nil {
		return "", apperror.Internal("リクエストの作成に失敗しました", err)
	}

	opts := httpclient.Options{MaxRetries: 0, Timeout: v.statusRetry.Timeout, Label: "veo.vertex.dispatch"}
	op, err := sendOperation(ctx, v.client, fn, opts)
	if err != nil {
		return "", err
	}
	return requireName(opts.Label, op)
}

// Poll は POST …/models/{model}:fetchPredictOperation で状態を取得する。
// モデル名はオペレーション名から取り出し、取り出せない場合は既定のモデルを使う。
func (v *Vertex) Poll(ctx context.Context, operationName string) (*OperationStatus, error) {
	model := modelFromOperation(operationName)
	if model == "" {
		model = v.cfg.Model
	}
	body := map[string]string{"operationName": operationName}
	fn, err := httpclient.JSONRequest(http.MethodPost, v.modelURL(model)+":fetchPredictOperation", body, v.header())
	if err != nil {
		return nil, apperror.Internal("リクエストの作成に失敗しました", err)
	}

	op, err := sendOperation(ctx, v.client, fn, v.statusRetry)
	if err != nil {
		return nil, err
	}
	return op.toStatus(), nil
}

func (v *Vertex) header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+v.cfg.AccessToken)
	return h
}

// modelFromOperation は
// "projects/p/locations/l/publishers/google/models/{model}/operations/{id}" からモデル名を取り出す。
func modelFromOperation(name string) string {
	parts := strings.Split(name, "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == "models" {
			return parts[i+1]
		}
	}
	return ""
}
