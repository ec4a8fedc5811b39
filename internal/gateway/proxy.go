package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/edgegate/pkg/apperror"
	"github.com/nao1215/edgegate/pkg/httpclient"
	"github.com/nao1215/edgegate/pkg/middleware"
)

// handleGeminiProxy は /api/gemini/*path をGemini APIに転送するハンドラを返す。
// クライアントのAuthorizationヘッダーは転送せず、サーバー側のAPIキーを付与する。
func (s *Server) handleGeminiProxy() gin.HandlerFunc {
	return func(c *gin.Context) {
		gemini := s.generation.Gemini()
		if gemini.APIKey() == "" {
			middleware.AbortWithError(c, apperror.Internal("Gemini APIキーが設定されていません", nil))
			return
		}
		s.doProxy(c, gemini.ProxyURL(c.Param("path"), c.Request.URL.RawQuery), gemini.APIKey())
	}
}

// doProxy はリクエストをGemini APIに転送し、レスポンスをそのまま返す共通処理。
// ボディは1度だけ読み込み、GETのみ設定されたリトライを行う。
func (s *Server) doProxy(c *gin.Context, url, apiKey string) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	method := c.Request.Method
	contentType := c.GetHeader("Content-Type")
	fn := func(ctx context.Context) (*http.Request, error) {
		var reader io.Reader
		if len(body) > 0 {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, fmt.Errorf("プロキシリクエストの作成に失敗: %w", err)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		req.Header.Set("x-goog-api-key", apiKey)
		return req, nil
	}

	opts := httpclient.Options{Timeout: s.retry.Timeout, Label: "gemini.proxy"}
	if method == http.MethodGet {
		opts.MaxRetries = s.retry.MaxRetries
	}
	resp, err := s.client.Execute(c.Request.Context(), fn, opts)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		middleware.AbortWithError(c, apperror.Transport(opts.Label, err))
		return
	}

	// ベンダーのステータスとContent-Typeをそのまま転送する
	respType := resp.Header.Get("Content-Type")
	if respType == "" {
		respType = "application/json"
	}
	c.Data(resp.StatusCode, respType, respBody)
}
