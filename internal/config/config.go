// Package config はゲートウェイの設定を読み込む。
//
// 設定はYAMLファイル（省略可）から読み込み、デフォルト値を補完した後、
// 環境変数で上書きする。秘密情報は通常環境変数から注入する。
package config

import "time"

// Config はゲートウェイ全体の設定。
type Config struct {
	// Server はHTTPサーバーの設定。
	Server ServerConfig `yaml:"server"`
	// Log はログ出力の設定。
	Log LogConfig `yaml:"log"`
	// CORS はクロスオリジンの設定。
	CORS CORSConfig `yaml:"cors"`
	// Auth はIDトークン検証とセッショントークンの設定。
	Auth AuthConfig `yaml:"auth"`
	// Retry はベンダー呼び出しのリトライ設定。
	Retry RetryConfig `yaml:"retry"`
	// Poll は動画生成のクイックポーリング設定。
	Poll PollConfig `yaml:"poll"`
	// Gemini はGemini APIの設定。
	Gemini GeminiConfig `yaml:"gemini"`
	// Vertex はVertex AIの設定。
	Vertex VertexConfig `yaml:"vertex"`
	// Kling はKling APIの設定。
	Kling KlingConfig `yaml:"kling"`
	// Luma はLuma APIの設定。
	Luma LumaConfig `yaml:"luma"`
	// PixVerse はPixVerse APIの設定。
	PixVerse PixVerseConfig `yaml:"pixverse"`
	// ILovePDF はiLovePDF APIの設定。
	ILovePDF ILovePDFConfig `yaml:"ilovepdf"`
	// ConvertAPI はConvertAPIの設定。
	ConvertAPI ConvertAPIConfig `yaml:"convertapi"`
}

// ServerConfig はHTTPサーバーの設定。
type ServerConfig struct {
	// Port はリッスンポート。
	Port string `yaml:"port"`
	// Environment は実行環境（development / production）。
	Environment string `yaml:"environment"`
	// MaxBodyBytes はリクエストボディの上限バイト数。
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
	// ReadHeaderTimeout はヘッダー読み取りのタイムアウト。
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	// ShutdownTimeout はグレースフルシャットダウンの待ち時間。
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig はログ出力の設定。
type LogConfig struct {
	// Level はログレベル（debug / info / warn / error）。
	Level string `yaml:"level"`
	// Format は出力形式（text / json）。
	Format string `yaml:"format"`
}

// CORSConfig はクロスオリジンの設定。
type CORSConfig struct {
	// AllowedOrigins は許可するオリジン。
	AllowedOrigins []string `yaml:"allowed_origins"`
	// FallbackToFirstOrigin は未知のオリジンに先頭の許可オリジンを返すかどうか。
	FallbackToFirstOrigin bool `yaml:"fallback_to_first_origin"`
}

// AuthConfig はIDトークン検証とセッショントークンの設定。
type AuthConfig struct {
	// SessionSecret はセッショントークンのHS256署名鍵。
	SessionSecret string `yaml:"session_secret"`
	// ClientID はIDトークンのaudとして期待するOAuthクライアントID。
	ClientID string `yaml:"client_id"`
	// AllowedDomain はIDトークンのhdとして期待するドメイン。空の場合は検証しない。
	AllowedDomain string `yaml:"allowed_domain"`
	// Issuers は許可するiss。
	Issuers []string `yaml:"issuers"`
	// JWKSURL は公開鍵セットの取得先。
	JWKSURL string `yaml:"jwks_url"`
	// KeyTTL は公開鍵セットのキャッシュ期間。
	KeyTTL time.Duration `yaml:"key_ttl"`
}

// RetryConfig はベンダー呼び出しのリトライ設定。
type RetryConfig struct {
	// MaxRetries は冪等な呼び出しのリトライ回数。未指定の場合は2になり、0でリトライしない。
	MaxRetries *int `yaml:"max_retries"`
	// Timeout は1試行あたりのタイムアウト。
	Timeout time.Duration `yaml:"timeout"`
	// MaxResponseBytes はベンダーのレスポンスボディとして読み込む上限バイト数。
	MaxResponseBytes int64 `yaml:"max_response_bytes"`
}

// Retries は有効なリトライ回数を返す。
func (r RetryConfig) Retries() int {
	if r.MaxRetries == nil {
		return defaultMaxRetries
	}
	return *r.MaxRetries
}

// PollConfig はクイックポーリングの設定。
type PollConfig struct {
	// Attempts は生成直後に行う状態確認の回数。未指定の場合は3になり、0で確認しない。
	Attempts *int `yaml:"attempts"`
	// Interval は状態確認の間隔。
	Interval time.Duration `yaml:"interval"`
}

// AttemptCount は有効な状態確認の回数を返す。
func (p PollConfig) AttemptCount() int {
	if p.Attempts == nil {
		return defaultPollAttempts
	}
	return *p.Attempts
}

// GeminiConfig はGemini APIの設定。
type GeminiConfig struct {
	// APIKey はx-goog-api-keyとして送るAPIキー。
	APIKey string `yaml:"api_key"`
	// BaseURL はAPIのベースURL。
	BaseURL string `yaml:"base_url"`
	// Model は既定の動画生成モデル。
	Model string `yaml:"model"`
}

// VertexConfig はVertex AIの設定。
type VertexConfig struct {
	// ProjectID はGCPプロジェクトID。
	ProjectID string `yaml:"project_id"`
	// Location はリージョン。
	Location string `yaml:"location"`
	// AccessToken はBearerとして送るアクセストークン。
	AccessToken string `yaml:"access_token"`
	// BaseURL はAPIのベースURL。空の場合はLocationから組み立てる。
	BaseURL string `yaml:"base_url"`
	// Model は既定の動画生成モデル。
	Model string `yaml:"model"`
}

// KlingConfig はKling APIの設定。
type KlingConfig struct {
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	BaseURL   string `yaml:"base_url"`
}

// LumaConfig はLuma APIの設定。
type LumaConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// PixVerseConfig はPixVerse APIの設定。
type PixVerseConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// ILovePDFConfig はiLovePDF APIの設定。
type ILovePDFConfig struct {
	// PublicKey は認証に使う公開キー。
	PublicKey string `yaml:"public_key"`
	// BaseURL は認証とタスク開始に使うAPIのベースURL。
	BaseURL string `yaml:"base_url"`
	// WorkerScheme は割り当てられたワーカーホストへのスキーム。
	WorkerScheme string `yaml:"worker_scheme"`
	// WorkerHostSuffix はワーカーホストとして許可するサフィックス。空の場合は検証しない。
	WorkerHostSuffix string `yaml:"worker_host_suffix"`
}

// ConvertAPIConfig はConvertAPIの設定。
type ConvertAPIConfig struct {
	Secret  string `yaml:"secret"`
	BaseURL string `yaml:"base_url"`
}

// IsDevelopment は開発環境かどうかを返す。
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == "development"
}
