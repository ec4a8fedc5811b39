package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/edgegate/pkg/apperror"
)

// bindJSON はリクエストボディをdstにデシリアライズする。
// 空のボディは許容し、dstはゼロ値のままになる。上限超過はそのまま返す。
func bindJSON(c *gin.Context, dst any) error {
	if err := json.NewDecoder(c.Request.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case errors.As(err, &maxErr):
			return err
		default:
			return apperror.Validation("invalid JSON body")
		}
	}
	return nil
}
