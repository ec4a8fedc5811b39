package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/edgegate/pkg/apperror"
)

// BodyLimit はリクエストボディの上限を強制するGinミドルウェアを返す。
// Content-Lengthが上限を超える場合はルーティング前に413で応答する。
// Content-Lengthが無い場合もhttp.MaxBytesReaderで読み取り量を制限する。
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes <= 0 {
			c.Next()
			return
		}
		if c.Request.ContentLength > maxBytes {
			AbortWithError(c, apperror.PayloadTooLarge(maxBytes))
			return
		}
		if c.Request.Body != nil && c.Request.Body != http.NoBody {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}
