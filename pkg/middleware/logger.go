package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RequestObserver はリクエストの処理結果を受け取るインターフェース。
// pkg/metricsのCollectorが実装する。
type RequestObserver interface {
	ObserveRequest(method, route string, status int, d time.Duration)
}

// RequestLogger はリクエストごとにアクセスログを出力するGinミドルウェアを返す。
// observerがnilでなければ処理結果をメトリクスとして記録する。
func RequestLogger(observer RequestObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)

		status := c.Writer.Status()
		route := c.FullPath()
		if observer != nil {
			observer.ObserveRequest(c.Request.Method, route, status, latency)
		}

		entry := logrus.WithFields(logrus.Fields{
			"component":  "access",
			"request_id": GetRequestID(c),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"route":      route,
			"status":     status,
			"latency":    latency,
			"client_ip":  c.ClientIP(),
		})
		switch {
		case status >= 500:
			entry.Error("request")
		case status >= 400:
			entry.Warn("request")
		default:
			entry.Info("request")
		}
	}
}
