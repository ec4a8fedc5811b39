package generation

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/nao1215/edgegate/pkg/apperror"
	"github.com/nao1215/edgegate/pkg/httpclient"
)

// GeminiConfig はGemini APIの接続設定。
type GeminiConfig struct {
	// APIKey はx-goog-api-keyヘッダーで送るAPIキー。
	APIKey string
	// BaseURL はAPIのベースURL。
	BaseURL string
	// Model は既定のモデル名。
	Model string
}

// Gemini はGemini APIのアダプター。
type Gemini struct {
	client      *httpclient.Client
	statusRetry httpclient.Options
	cfg         GeminiConfig
}

// NewGemini は新しいGeminiアダプターを生成する。
func NewGemini(client *httpclient.Client, statusRetry httpclient.Options, cfg GeminiConfig) *Gemini {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	statusRetry.Label = "veo.gemini.status"
	return &Gemini{client: client, statusRetry: statusRetry, cfg: cfg}
}

// Backend はBackendGeminiを返す。
func (g *Gemini) Backend() Backend { return BackendGemini }

// Dispatch は POST {base}/v1beta/models/{model}:predictLongRunning で生成を開始する。
func (g *Gemini) Dispatch(ctx context.Context, req Request) (string, error) {
	if g.cfg.APIKey == "" {
		return "", apperror.Internal("Gemini APIキーが設定されていません", nil)
	}

	model := defaultString(req.Model, g.cfg.Model)
	url := fmt.Sprintf("%s/v1beta/models/%s:predictLongRunning", g.cfg.BaseURL, model)
	fn, err := httpclient.JSONRequest(http.MethodPost, url, buildPredictRequest(req, "numberOfVideos"), g.header())
	if err != nil {
		return "", apperror.Internal("リクエストの作成に失敗しました", err)
	}

	opts := httpclient.Options{MaxRetries: 0, Timeout: g.statusRetry.Timeout, Label: "veo.gemini.dispatch"}
	op, err := sendOperation(ctx, g.client, fn, opts)
	if err != nil {
		return "", err
	}
	return requireName(opts.Label, op)
}

// Poll は GET {base}/v1beta/{operationName} で状態を取得する。
func (g *Gemini) Poll(ctx context.Context, operationName string) (*OperationStatus, error) {
	url := fmt.Sprintf("%s/v1beta/%s", g.cfg.BaseURL, strings.TrimLeft(operationName, "/"))
	fn, err := httpclient.JSONRequest(http.MethodGet, url, nil, g.header())
	if err != nil {
		return nil, apperror.Internal("リクエストの作成に失敗しました", err)
	}

	op, err := sendOperation(ctx, g.client, fn, g.statusRetry)
	if err != nil {
		return nil, err
	}
	return op.toStatus(), nil
}

// ProxyURL は /api/gemini/*path の転送先URLを返す。
func (g *Gemini) ProxyURL(path, rawQuery string) string {
	url := g.cfg.BaseURL + "/" + strings.TrimLeft(path, "/")
	if rawQuery != "" {
		url += "?" + rawQuery
	}
	return url
}

// APIKey はAPIキーを返す。
func (g *Gemini) APIKey() string { return g.cfg.APIKey }

func (g *Gemini) header() http.Header {
	h := http.Header{}
	h.Set("x-goog-api-key", g.cfg.APIKey)
	return h
}
