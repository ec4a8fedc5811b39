package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nao1215/edgegate/pkg/httpclient"
)

const (
	// contextKeyRequestID はGinコンテキストにリクエストIDを格納するためのキー。
	contextKeyRequestID = "request_id"
	// maxRequestIDLength はクライアント指定のリクエストIDとして受け入れる最大長。
	maxRequestIDLength = 128
)

// RequestID はリクエストごとにIDを割り当てるGinミドルウェアを返す。
// クライアントがX-Request-IDを指定した場合はそれを使い、無ければUUIDを生成する。
// IDはレスポンスヘッダーとリクエストコンテキストに設定され、ベンダー呼び出しにも伝播される。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(httpclient.HeaderRequestID)
		if id == "" || len(id) > maxRequestIDLength {
			id = uuid.NewString()
		}

		c.Set(contextKeyRequestID, id)
		c.Header(httpclient.HeaderRequestID, id)
		c.Request = c.Request.WithContext(httpclient.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// GetRequestID はGinコンテキストからリクエストIDを取得する。
// RequestIDミドルウェアが適用されていない場合は空文字列を返す。
func GetRequestID(c *gin.Context) string {
	return c.GetString(contextKeyRequestID)
}
