package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/nao1215/edgegate/pkg/apperror"
	"github.com/nao1215/edgegate/pkg/httpclient"
)

// Backend は動画生成ベンダーの種類。
type Backend string

const (
	// BackendGemini はGemini API（APIキー認証）。
	BackendGemini Backend = "gemini"
	// BackendVertex はVertex AI（アクセストークン認証）。
	BackendVertex Backend = "vertex"
)

// ParseBackend は文字列をBackendに変換する。空文字列はBackendGeminiとして扱う。
func ParseBackend(s string) (Backend, error) {
	switch Backend(strings.ToLower(strings.TrimSpace(s))) {
	case "", BackendGemini:
		return BackendGemini, nil
	case BackendVertex:
		return BackendVertex, nil
	default:
		return "", apperror.NotFound(fmt.Sprintf("unknown backend: %s", s))
	}
}

// Image は生成の入力画像。
type Image struct {
	// Base64 は画像データのBase64文字列。data URLの場合はプレフィックスを取り除いて扱う。
	Base64 string `json:"base64"`
	// MimeType は画像のMIMEタイプ。
	MimeType string `json:"mimeType"`
}

// Request は動画生成リクエスト。
type Request struct {
	// Prompt は生成プロンプト。
	Prompt string `json:"prompt"`
	// NegativePrompt は除外したい要素。
	NegativePrompt string `json:"negativePrompt,omitempty"`
	// Image は入力画像。省略可。
	Image *Image `json:"image,omitempty"`
	// DurationSeconds は動画の長さ（秒）。
	DurationSeconds int `json:"durationSeconds,omitempty"`
	// AspectRatio はアスペクト比（例: "16:9"）。
	AspectRatio string `json:"aspectRatio,omitempty"`
	// Resolution は解像度（例: "720p"）。
	Resolution string `json:"resolution,omitempty"`
	// Seed は乱数シード。省略可。
	Seed *int64 `json:"seed,omitempty"`
	// Count は生成する動画の本数。0の場合は1。
	Count int `json:"count,omitempty"`
	// UseVertex はVertex AIを使うかどうか。Vertex AIが未設定の場合は無視される。
	UseVertex bool `json:"useVertex,omitempty"`
	// Model はモデル名の上書き。
	Model string `json:"model,omitempty"`
}

// Validate はリクエストの必須項目を検証する。
func (r *Request) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return apperror.MissingField("prompt")
	}
	if r.Image != nil && r.Image.Base64 == "" {
		return apperror.MissingField("image.base64")
	}
	return nil
}

// OperationStatus は長時間実行オペレーションの状態。
type OperationStatus struct {
	// Done はオペレーションが終了したかどうか。
	Done bool
	// ErrorMessage はオペレーションが失敗した場合のメッセージ。
	ErrorMessage string
	// VideoURL は完了時に抽出した動画のURL。抽出できなかった場合は空文字列。
	VideoURL string
}

// Adapter は動画生成ベンダーごとのプロトコル変換を行う。
type Adapter interface {
	// Backend は実装しているベンダーを返す。
	Backend() Backend
	// Dispatch は生成を開始し、オペレーション名を返す。
	Dispatch(ctx context.Context, req Request) (string, error)
	// Poll はオペレーションの状態を取得する。
	Poll(ctx context.Context, operationName string) (*OperationStatus, error)
}

// Set は利用可能なアダプターの集合。
type Set struct {
	gemini *Gemini
	vertex *Vertex
}

// NewSet は新しいSetを生成する。statusRetryは状態確認の呼び出しに使うリトライ設定。
// 生成開始は冪等でないためリトライしない。
func NewSet(client *httpclient.Client, statusRetry httpclient.Options, gemini GeminiConfig, vertex VertexConfig) *Set {
	return &Set{
		gemini: NewGemini(client, statusRetry, gemini),
		vertex: NewVertex(client, statusRetry, vertex),
	}
}

// Select はリクエストに使うアダプターを選ぶ。
// useVertexが指定され、かつVertex AIのプロジェクトIDとアクセストークンが設定されている場合のみVertex AIを使う。
func (s *Set) Select(useVertex bool) Adapter {
	if useVertex && s.vertex.Configured() {
		return s.vertex
	}
	return s.gemini
}

// Gemini はGeminiアダプターを返す。/api/gemini の転送に使う。
func (s *Set) Gemini() *Gemini {
	return s.gemini
}

// Adapter はBackendに対応するアダプターを返す。
func (s *Set) Adapter(b Backend) (Adapter, error) {
	switch b {
	case BackendGemini:
		return s.gemini, nil
	case BackendVertex:
		if !s.vertex.Configured() {
			return nil, apperror.Validation("vertex backend is not configured")
		}
		return s.vertex, nil
	default:
		return nil, apperror.NotFound(fmt.Sprintf("unknown backend: %s", b))
	}
}
