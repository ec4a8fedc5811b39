package generation

import (
	"context"
	"net/http"
	"strings"

	"github.com/nao1215/edgegate/pkg/apperror"
	"github.com/nao1215/edgegate/pkg/httpclient"
)

// operationResponse は長時間実行オペレーションのレスポンス。Gemini APIとVertex AIで共通。
type operationResponse struct {
	// Name はオペレーション名。
	Name string `json:"name"`
	// Done はオペレーションが終了したかどうか。
	Done bool `json:"done"`
	// Error は失敗時のエラー。
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	// Response は成功時の結果。形はモデルのバージョンによって異なる。
	Response map[string]any `json:"response,omitempty"`
}

// toStatus はオペレーションのレスポンスを状態に変換する。
func (o *operationResponse) toStatus() *OperationStatus {
	status := &OperationStatus{Done: o.Done}
	if !o.Done {
		return status
	}
	if o.Error != nil {
		status.ErrorMessage = o.Error.Message
		if status.ErrorMessage == "" {
			status.ErrorMessage = "operation failed"
		}
		return status
	}
	status.VideoURL = ExtractVideoURL(o.Response)
	return status
}

// predictInstance は生成リクエストのinstances要素。
type predictInstance struct {
	Prompt string        `json:"prompt"`
	Image  *predictImage `json:"image,omitempty"`
}

// predictImage は入力画像。
type predictImage struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
	MimeType           string `json:"mimeType"`
}

// predictRequest はpredictLongRunningのリクエストボディ。
type predictRequest struct {
	Instances  []predictInstance `json:"instances"`
	Parameters map[string]any    `json:"parameters"`
}

// buildPredictRequest は共通部分のリクエストボディを組み立てる。
// countKeyには本数を表すパラメータ名（ベンダーごとに異なる）を指定する。
func buildPredictRequest(req Request, countKey string) predictRequest {
	instance := predictInstance{Prompt: req.Prompt}
	if req.Image != nil {
		instance.Image = &predictImage{
			BytesBase64Encoded: stripDataURL(req.Image.Base64),
			MimeType:           defaultString(req.Image.MimeType, "image/png"),
		}
	}

	count := req.Count
	if count <= 0 {
		count = 1
	}
	params := map[string]any{countKey: count}
	if req.DurationSeconds > 0 {
		params["durationSeconds"] = req.DurationSeconds
	}
	if req.AspectRatio != "" {
		params["aspectRatio"] = req.AspectRatio
	}
	if req.Resolution != "" {
		params["resolution"] = req.Resolution
	}
	if req.Seed != nil {
		params["seed"] = *req.Seed
	}
	if req.NegativePrompt != "" {
		params["negativePrompt"] = req.NegativePrompt
	}

	return predictRequest{Instances: []predictInstance{instance}, Parameters: params}
}

// sendOperation はリクエストを送信し、オペレーションのレスポンスとしてデコードする。
func sendOperation(ctx context.Context, client *httpclient.Client, fn httpclient.RequestFunc, opts httpclient.Options) (*operationResponse, error) {
	resp, err := client.Execute(ctx, fn, opts)
	if err != nil {
		return nil, err
	}
	var op operationResponse
	if err := httpclient.DecodeJSON(opts.Label, resp, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

// requireName はオペレーション名が含まれていることを確認する。
func requireName(label string, op *operationResponse) (string, error) {
	if op.Name == "" {
		return "", apperror.Upstream(label, http.StatusBadGateway, []byte(`{"error":"operation name missing in response"}`))
	}
	return op.Name, nil
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

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
