package docpipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/nao1215/edgegate/pkg/apperror"
	"github.com/nao1215/edgegate/pkg/httpclient"
	"github.com/sirupsen/logrus"
)

// Config はiLovePDF APIの設定。
type Config struct {
	// PublicKey は認証に使う公開キー。
	PublicKey string
	// BaseURL は認証とタスク開始を受け付けるAPIのURL。
	BaseURL string
	// WorkerScheme は割り当てられたワーカーホストへのスキーム。
	WorkerScheme string
	// WorkerHostSuffix はワーカーホストとして許可するサフィックス。空の場合は検証しない。
	WorkerHostSuffix string
}

// Task はタスク開始の結果。
type Task struct {
	// Server は以降の段階で使うワーカーホスト。
	Server string `json:"server"`
	// Task はタスクID。
	Task string `json:"task"`
}

// UploadInput はアップロード段階の入力。
type UploadInput struct {
	Server   string `json:"server"`
	Task     string `json:"task"`
	Token    string `json:"token"`
	FileName string `json:"fileName"`
	// FileData はBase64エンコードされたファイル。データURL形式も受け付ける。
	FileData string `json:"fileData"`
}

// ProcessInput は処理段階の入力。
type ProcessInput struct {
	Server string
	Token  string
	// Params はツール固有のパラメータ。そのままベンダーに渡す。
	Params map[string]any
}

// Download はダウンロード段階の結果。Bodyは呼び出し側で必ずCloseすること。
type Download struct {
	Body               io.ReadCloser
	ContentType        string
	ContentDisposition string
	ContentLength      int64
}

// Pipeline はiLovePDFの各段階とConvertAPIの変換を中継する。
type Pipeline struct {
	// cfg はiLovePDFの設定。
	cfg Config
	// convert はConvertAPIの設定。
	convert ConvertConfig
	// client はベンダー呼び出し用HTTPクライアント。
	client *httpclient.Client
	// retry は冪等な呼び出しに使うリトライ設定。
	retry httpclient.Options
}

// New は新しいPipelineを生成する。retryは認証とダウンロードに使うリトライ設定。
func New(client *httpclient.Client, retry httpclient.Options, cfg Config, convert ConvertConfig) *Pipeline {
	return &Pipeline{cfg: cfg, convert: convert, client: client, retry: retry}
}

// Authenticate は公開キーでiLovePDFに認証し、以降の段階で使うトークンを返す。
func (p *Pipeline) Authenticate(ctx context.Context) (string, error) {
	if p.cfg.PublicKey == "" {
		return "", apperror.Internal("iLovePDFの公開キーが設定されていません", nil)
	}

	fn, err := httpclient.JSONRequest(http.MethodPost, strings.TrimRight(p.cfg.BaseURL, "/")+"/v1/auth",
		map[string]string{"public_key": p.cfg.PublicKey}, nil)
	if err != nil {
		return "", apperror.Internal("リクエストの作成に失敗しました", err)
	}

	opts := p.retry
	opts.Label = "ilovepdf.auth"
	resp, err := p.client.Execute(ctx, fn, opts)
	if err != nil {
		return "", p.stageFailed("auth", err)
	}

	var result struct {
		Token string `json:"token"`
	}
	if err := httpclient.DecodeJSON(opts.Label, resp, &result); err != nil {
		return "", p.stageFailed("auth", err)
	}
	if result.Token == "" {
		return "", p.stageFailed("auth", apperror.Upstream(opts.Label, http.StatusBadGateway, []byte(`{"error":"token missing in response"}`)))
	}

	logStage("auth").Info("iLovePDFの認証に成功しました")
	return result.Token, nil
}

// StartTask はツールのタスクを開始し、ワーカーホストとタスクIDを返す。
// タスク開始は冪等でないためリトライしない。
func (p *Pipeline) StartTask(ctx context.Context, token, tool string) (*Task, error) {
	if token == "" {
		return nil, apperror.MissingField("token")
	}
	if tool == "" {
		return nil, apperror.MissingField("tool")
	}

	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/start/" + url.PathEscape(tool)
	fn, err := httpclient.JSONRequest(http.MethodGet, endpoint, nil, bearer(token))
	if err != nil {
		return nil, apperror.Internal("リクエストの作成に失敗しました", err)
	}

	opts := httpclient.Options{MaxRetries: 0, Timeout: p.retry.Timeout, Label: "ilovepdf.start"}
	resp, err := p.client.Execute(ctx, fn, opts)
	if err != nil {
		return nil, p.stageFailed("start", err)
	}

	var task Task
	if err := httpclient.DecodeJSON(opts.Label, resp, &task); err != nil {
		return nil, p.stageFailed("start", err)
	}
	if task.Server == "" || task.Task == "" {
		return nil, p.stageFailed("start", apperror.Upstream(opts.Label, http.StatusBadGateway, []byte(`{"error":"server or task missing in response"}`)))
	}

	logStage("start").WithFields(logrus.Fields{"tool": tool, "task": task.Task}).Info("タスクを開始しました")
	return &task, nil
}

// Upload はファイルをワーカーホストにmultipartで送信し、ベンダーのレスポンスを返す。
func (p *Pipeline) Upload(ctx context.Context, in UploadInput) (json.RawMessage, error) {
	if err := requireFields(map[string]string{
		"server":   in.Server,
		"task":     in.Task,
		"token":    in.Token,
		"fileName": in.FileName,
		"fileData": in.FileData,
	}, "server", "task", "token", "fileName", "fileData"); err != nil {
		return nil, err
	}
	base, err := p.workerURL(in.Server)
	if err != nil {
		return nil, err
	}

	data, err := base64.StdEncoding.DecodeString(stripDataURL(in.FileData))
	if err != nil {
		return nil, apperror.Validation("fileData must be base64 encoded")
	}
	body, contentType, err := multipartBody(in.Task, in.FileName, data)
	if err != nil {
		return nil, apperror.Internal("リクエストの作成に失敗しました", err)
	}

	fn := func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v1/upload", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", "Bearer "+in.Token)
		req.Header.Set("Accept", "application/json")
		return req, nil
	}

	opts := httpclient.Options{MaxRetries: 0, Timeout: p.retry.Timeout, Label: "ilovepdf.upload"}
	resp, err := p.client.Execute(ctx, fn, opts)
	if err != nil {
		return nil, p.stageFailed("upload", err)
	}
	raw, err := httpclient.ReadBody(opts.Label, resp)
	if err != nil {
		return nil, p.stageFailed("upload", err)
	}

	logStage("upload").WithFields(logrus.Fields{"task": in.Task, "bytes": len(data)}).Info("ファイルをアップロードしました")
	return rawJSON(raw), nil
}

// Process はツールの処理を実行する。パラメータはそのまま送信し、
// ベンダーが空のボディを返した場合は {"success":true} を返す。
func (p *Pipeline) Process(ctx context.Context, in ProcessInput) (json.RawMessage, error) {
	if err := requireFields(map[string]string{"server": in.Server, "token": in.Token}, "server", "token"); err != nil {
		return nil, err
	}
	base, err := p.workerURL(in.Server)
	if err != nil {
		return nil, err
	}

	params := in.Params
	if params == nil {
		params = map[string]any{}
	}
	fn, err := httpclient.JSONRequest(http.MethodPost, base+"/v1/process", params, bearer(in.Token))
	if err != nil {
		return nil, apperror.Internal("リクエストの作成に失敗しました", err)
	}

	opts := httpclient.Options{MaxRetries: 0, Timeout: p.retry.Timeout, Label: "ilovepdf.process"}
	resp, err := p.client.Execute(ctx, fn, opts)
	if err != nil {
		return nil, p.stageFailed("process", err)
	}
	raw, err := httpclient.ReadBody(opts.Label, resp)
	if err != nil {
		return nil, p.stageFailed("process", err)
	}

	logStage("process").Info("処理を実行しました")
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage(`{"success":true}`), nil
	}
	return rawJSON(raw), nil
}

// Download は処理結果のファイルを取得する。ボディは読み込まずにストリームのまま返す。
func (p *Pipeline) Download(ctx context.Context, server, token, task string) (*Download, error) {
	if err := requireFields(map[string]string{"server": server, "token": token, "task": task}, "server", "token", "task"); err != nil {
		return nil, err
	}
	base, err := p.workerURL(server)
	if err != nil {
		return nil, err
	}

	fn := func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/v1/download/"+url.PathEscape(task), nil)
		if err != nil {
			return nil, fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return req, nil
	}

	opts := p.retry
	opts.Label = "ilovepdf.download"
	resp, err := p.client.Execute(ctx, fn, opts)
	if err != nil {
		return nil, p.stageFailed("download", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, err := httpclient.ReadBody(opts.Label, resp)
		return nil, p.stageFailed("download", err)
	}

	logStage("download").WithField("task", task).Info("処理結果のダウンロードを開始しました")
	return &Download{
		Body:               resp.Body,
		ContentType:        resp.Header.Get("Content-Type"),
		ContentDisposition: resp.Header.Get("Content-Disposition"),
		ContentLength:      resp.ContentLength,
	}, nil
}

// workerURL はワーカーホストを検証し、スキーム付きのURLを返す。
// ホストはスキームやパスを含まない素のホスト名で、サフィックスが設定されていればそれに一致する必要がある。
func (p *Pipeline) workerURL(server string) (string, error) {
	if strings.ContainsAny(server, "/?#@\\ ") || strings.Contains(server, "://") {
		return "", apperror.Validation("server must be a bare host name")
	}
	u, err := url.Parse("//" + server)
	if err != nil || u.Host != server || u.Hostname() == "" {
		return "", apperror.Validation("server must be a bare host name")
	}
	if suffix := p.cfg.WorkerHostSuffix; suffix != "" && !strings.HasSuffix(strings.ToLower(u.Hostname()), strings.ToLower(suffix)) {
		return "", apperror.Validation("server is not an allowed worker host")
	}

	scheme := p.cfg.WorkerScheme
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + server, nil
}

// stageFailed は段階の失敗をログに残してそのまま返す。
func (p *Pipeline) stageFailed(stage string, err error) error {
	logStage(stage).WithError(err).Warn("ドキュメント処理の段階が失敗しました")
	return err
}

// logStage は段階名付きのロガーを返す。
func logStage(stage string) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{"component": "docpipeline", "stage": stage})
}

// requireFields はorderの順に必須項目を検証し、最初に見つかった空の項目を返す。
func requireFields(values map[string]string, order ...string) error {
	for _, name := range order {
		if strings.TrimSpace(values[name]) == "" {
			return apperror.MissingField(name)
		}
	}
	return nil
}

// bearer はBearerトークンのヘッダーを返す。
func bearer(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}

// multipartBody はtaskとfileを含むmultipartのボディを1度だけ組み立てる。
func multipartBody(task, fileName string, data []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("task", task); err != nil {
		return nil, "", fmt.Errorf("taskフィールドの書き込みに失敗: %w", err)
	}
	part, err := w.CreateFormFile("file", fileName)
	if err != nil {
		return nil, "", fmt.Errorf("fileフィールドの作成に失敗: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("fileフィールドの書き込みに失敗: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("multipartの終端に失敗: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// stripDataURL は "data:application/pdf;base64," のようなプレフィックスを取り除く。
func stripDataURL(s string) string {
	if !strings.HasPrefix(s, "data:") {
		return s
	}
	if _, data, ok := strings.Cut(s, ","); ok {
		return data
	}
	return s
}

// rawJSON はJSONとして正しい場合はそのまま、そうでない場合は文字列として返す。
func rawJSON(b []byte) json.RawMessage {
	if json.Valid(b) {
		return b
	}
	quoted, _ := json.Marshal(string(b))
	return quoted
}
