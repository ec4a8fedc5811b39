package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/edgegate/pkg/apperror"
	"github.com/sirupsen/logrus"
)

// AbortWithError はerrをapperrorの分類に従ってJSONで応答し、後続のハンドラを中断する。
// 応答は {"error": "..."} 形式で、ベンダーが2xx以外を返した場合は "upstream" に詳細を含める。
func AbortWithError(c *gin.Context, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		err = apperror.PayloadTooLarge(maxErr.Limit)
	}

	appErr := apperror.From(err)
	status := appErr.HTTPStatus()

	entry := logrus.WithFields(logrus.Fields{
		"component":  "gateway",
		"request_id": GetRequestID(c),
		"method":     c.Request.Method,
		"path":       c.Request.URL.Path,
		"kind":       appErr.Kind,
		"status":     status,
	})
	if appErr.Err != nil {
		entry = entry.WithError(appErr.Err)
	}
	if status >= http.StatusInternalServerError {
		entry.Error(appErr.Message)
	} else {
		entry.Info(appErr.Message)
	}

	body := gin.H{"error": appErr.Message}
	if appErr.Kind == apperror.KindUpstream && len(appErr.Body) > 0 {
		if json.Valid(appErr.Body) {
			body["upstream"] = json.RawMessage(appErr.Body)
		} else {
			body["upstream"] = string(appErr.Body)
		}
	}
	c.AbortWithStatusJSON(status, body)
}
