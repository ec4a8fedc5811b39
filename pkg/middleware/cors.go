package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// corsAllowMethods は許可するHTTPメソッド。
	corsAllowMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	// corsAllowHeaders は許可するリクエストヘッダー。
	corsAllowHeaders = "Authorization, Content-Type, X-Request-ID"
	// corsMaxAge はプリフライト結果のキャッシュ秒数。
	corsMaxAge = 86400
)

// CORSConfig はCORSミドルウェアの設定。
type CORSConfig struct {
	// AllowedOrigins はAccess-Control-Allow-Originとして返してよいオリジンの一覧。
	AllowedOrigins []string
	// FallbackToFirstOrigin がtrueの場合、未知のオリジンに対しても
	// AllowedOriginsの先頭を返す。既存クライアント互換のための設定。
	FallbackToFirstOrigin bool
}

// CORS は指定されたオリジンからのクロスオリジンリクエストを許可するGinミドルウェアを返す。
// すべてのレスポンス（エラーや404を含む）にCORSヘッダーを付与し、
// OPTIONSリクエストはパスに関係なく本文なしの204で応答する。
func CORS(cfg CORSConfig) gin.HandlerFunc {
	originsSet := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		originsSet[strings.TrimRight(o, "/")] = struct{}{}
	}
	maxAge := strconv.Itoa(corsMaxAge)

	return func(c *gin.Context) {
		if origin := allowOrigin(c.GetHeader("Origin"), originsSet, cfg); origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
		}
		c.Header("Access-Control-Allow-Methods", corsAllowMethods)
		c.Header("Access-Control-Allow-Headers", corsAllowHeaders)
		c.Header("Access-Control-Max-Age", maxAge)
		c.Header("Vary", "Origin")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// allowOrigin はレスポンスに設定するオリジンを決める。空文字列の場合はヘッダーを設定しない。
func allowOrigin(origin string, allowed map[string]struct{}, cfg CORSConfig) string {
	if origin != "" {
		if _, ok := allowed[origin]; ok {
			return origin
		}
	}
	if cfg.FallbackToFirstOrigin && len(cfg.AllowedOrigins) > 0 {
		return cfg.AllowedOrigins[0]
	}
	return ""
}
