package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// minSessionSecretLength は本番環境で要求するセッション署名鍵の最小長。
const minSessionSecretLength = 32

// Load は設定を読み込む。pathが空の場合はファイルを読まず、デフォルト値と環境変数のみを使う。
// 読み込み順は YAML → デフォルト値 → 環境変数 → 検証。
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイル %q の読み込みに失敗: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("設定ファイル %q の解析に失敗: %w", path, err)
		}
	}

	ApplyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}
	return &cfg, nil
}

// ApplyDefaults は未設定の項目にデフォルト値を設定する。
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.Port, "8080")
	setDefault(&cfg.Server.Environment, "production")
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 25 << 20
	}
	if cfg.Server.ReadHeaderTimeout == 0 {
		cfg.Server.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = defaultShutdownTimeout
	}

	setDefault(&cfg.Log.Level, "info")
	setDefault(&cfg.Log.Format, "text")

	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	}

	if len(cfg.Auth.Issuers) == 0 {
		cfg.Auth.Issuers = []string{"accounts.google.com", "https://accounts.google.com"}
	}
	setDefault(&cfg.Auth.JWKSURL, "https://www.googleapis.com/oauth2/v3/certs")
	if cfg.Auth.KeyTTL == 0 {
		cfg.Auth.KeyTTL = defaultKeyTTL
	}

	if cfg.Retry.MaxRetries == nil {
		cfg.Retry.MaxRetries = intPtr(defaultMaxRetries)
	}
	if cfg.Retry.Timeout == 0 {
		cfg.Retry.Timeout = defaultRetryTimeout
	}
	if cfg.Retry.MaxResponseBytes == 0 {
		cfg.Retry.MaxResponseBytes = defaultMaxResponseBytes
	}

	if cfg.Poll.Attempts == nil {
		cfg.Poll.Attempts = intPtr(defaultPollAttempts)
	}
	if cfg.Poll.Interval == 0 {
		cfg.Poll.Interval = defaultPollInterval
	}

	setDefault(&cfg.Gemini.BaseURL, "https://generativelanguage.googleapis.com")
	setDefault(&cfg.Gemini.Model, "veo-3.0-generate-001")
	setDefault(&cfg.Vertex.Location, "us-central1")
	setDefault(&cfg.Vertex.Model, "veo-3.0-generate-001")

	setDefault(&cfg.Kling.BaseURL, "https://api-singapore.klingai.com")
	setDefault(&cfg.Luma.BaseURL, "https://api.lumalabs.ai/dream-machine")
	setDefault(&cfg.PixVerse.BaseURL, "https://app-api.pixverse.ai/openapi")

	setDefault(&cfg.ILovePDF.BaseURL, "https://api.ilovepdf.com")
	setDefault(&cfg.ILovePDF.WorkerScheme, "https")
	setDefault(&cfg.ILovePDF.WorkerHostSuffix, ".ilovepdf.com")
	setDefault(&cfg.ConvertAPI.BaseURL, "https://v2.convertapi.com")
}

// applyEnvOverrides は環境変数で設定を上書きする。環境変数は常にファイルより優先される。
func applyEnvOverrides(cfg *Config) {
	setFromEnv(&cfg.Server.Port, "PORT")
	setFromEnv(&cfg.Server.Environment, "ENVIRONMENT")
	if v := os.Getenv("MAX_BODY_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Server.MaxBodyBytes = n
		}
	}

	setIntFromEnv(&cfg.Retry.MaxRetries, "RETRY_MAX_RETRIES")
	setIntFromEnv(&cfg.Poll.Attempts, "POLL_ATTEMPTS")

	setFromEnv(&cfg.Log.Level, "LOG_LEVEL")
	setFromEnv(&cfg.Log.Format, "LOG_FORMAT")

	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.CORS.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("CORS_FALLBACK_TO_FIRST_ORIGIN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.CORS.FallbackToFirstOrigin = b
		}
	}

	setFromEnv(&cfg.Auth.SessionSecret, "SESSION_SECRET")
	setFromEnv(&cfg.Auth.ClientID, "GOOGLE_CLIENT_ID")
	setFromEnv(&cfg.Auth.AllowedDomain, "ALLOWED_DOMAIN")

	setFromEnv(&cfg.Gemini.APIKey, "GEMINI_API_KEY")
	setFromEnv(&cfg.Vertex.ProjectID, "VERTEX_PROJECT_ID")
	setFromEnv(&cfg.Vertex.Location, "VERTEX_LOCATION")
	setFromEnv(&cfg.Vertex.AccessToken, "VERTEX_ACCESS_TOKEN")

	setFromEnv(&cfg.Kling.AccessKey, "KLING_ACCESS_KEY")
	setFromEnv(&cfg.Kling.SecretKey, "KLING_SECRET_KEY")
	setFromEnv(&cfg.Luma.APIKey, "LUMA_API_KEY")
	setFromEnv(&cfg.PixVerse.APIKey, "PIXVERSE_API_KEY")

	setFromEnv(&cfg.ILovePDF.PublicKey, "ILOVEPDF_PUBLIC_KEY")
	setFromEnv(&cfg.ConvertAPI.Secret, "CONVERTAPI_SECRET")
}

// Validate は設定の整合性を検証する。
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Auth.ClientID == "" {
		errs = append(errs, errors.New("auth.client_id（GOOGLE_CLIENT_ID）は必須です"))
	}
	switch {
	case cfg.Auth.SessionSecret == "":
		errs = append(errs, errors.New("auth.session_secret（SESSION_SECRET）は必須です"))
	case !cfg.IsDevelopment() && len(cfg.Auth.SessionSecret) < minSessionSecretLength:
		errs = append(errs, fmt.Errorf("auth.session_secret は %d バイト以上が必要です", minSessionSecretLength))
	}
	if cfg.Server.MaxBodyBytes < 0 {
		errs = append(errs, errors.New("server.max_body_bytes は0以上である必要があります"))
	}
	if cfg.Poll.AttemptCount() < 0 {
		errs = append(errs, errors.New("poll.attempts は0以上である必要があります"))
	}
	if cfg.Retry.Retries() < 0 {
		errs = append(errs, errors.New("retry.max_retries は0以上である必要があります"))
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q は text または json である必要があります", cfg.Log.Format))
	}

	return errors.Join(errs...)
}

// setDefault は値が空の場合にデフォルト値を設定する。
func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

// setFromEnv は環境変数が設定されている場合に値を上書きする。
func setFromEnv(field *string, key string) {
	if v := os.Getenv(key); v != "" {
		*field = v
	}
}

// setIntFromEnv は環境変数が整数として解釈できる場合に値を上書きする。
func setIntFromEnv(field **int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*field = &n
		}
	}
}

// intPtr はnのポインタを返す。
func intPtr(n int) *int {
	return &n
}

// splitList はカンマ区切りの文字列を分割し、空要素を除く。
func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
