package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/edgegate/internal/docpipeline"
	"github.com/nao1215/edgegate/pkg/middleware"
)

// convertRequest は /api/convert/pdf-to-docx のリクエスト。
type convertRequest struct {
	FileName string `json:"fileName"`
	FileData string `json:"fileData"`
}

// handleConvertPDFToDOCX はPDFをDOCXに変換するハンドラを返す。
func (s *Server) handleConvertPDFToDOCX() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req convertRequest
		if err := bindJSON(c, &req); err != nil {
			middleware.AbortWithError(c, err)
			return
		}

		raw, err := s.pipeline.ConvertPDFToDOCX(c.Request.Context(), req.FileName, req.FileData)
		if err != nil {
			middleware.AbortWithError(c, err)
			return
		}
		c.Data(http.StatusOK, "application/json", raw)
	}
}

// handleILovePDFAuth はiLovePDFのトークンを取得するハンドラを返す。
func (s *Server) handleILovePDFAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := s.pipeline.Authenticate(c.Request.Context())
		if err != nil {
			middleware.AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	}
}

// handleILovePDFStart はツールのタスクを開始するハンドラを返す。
func (s *Server) handleILovePDFStart() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Token string `json:"token"`
		}
		if err := bindJSON(c, &req); err != nil {
			middleware.AbortWithError(c, err)
			return
		}

		task, err := s.pipeline.StartTask(c.Request.Context(), req.Token, c.Param("tool"))
		if err != nil {
			middleware.AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, task)
	}
}

// handleILovePDFUpload はファイルをワーカーにアップロードするハンドラを返す。
func (s *Server) handleILovePDFUpload() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req docpipeline.UploadInput
		if err := bindJSON(c, &req); err != nil {
			middleware.AbortWithError(c, err)
			return
		}

		raw, err := s.pipeline.Upload(c.Request.Context(), req)
		if err != nil {
			middleware.AbortWithError(c, err)
			return
		}
		c.Data(http.StatusOK, "application/json", raw)
	}
}

// handleILovePDFProcess はツールの処理を実行するハンドラを返す。
// serverとtoken以外のフィールドはツールのパラメータとしてそのまま渡す。
func (s *Server) handleILovePDFProcess() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body map[string]any
		if err := bindJSON(c, &body); err != nil {
			middleware.AbortWithError(c, err)
			return
		}
		if body == nil {
			body = map[string]any{}
		}

		server, _ := body["server"].(string)
		token, _ := body["token"].(string)
		delete(body, "server")
		delete(body, "token")

		raw, err := s.pipeline.Process(c.Request.Context(), docpipeline.ProcessInput{Server: server, Token: token, Params: body})
		if err != nil {
			middleware.AbortWithError(c, err)
			return
		}
		c.Data(http.StatusOK, "application/json", raw)
	}
}

// handleILovePDFDownload は処理結果のファイルをストリームで返すハンドラを返す。
func (s *Server) handleILovePDFDownload() gin.HandlerFunc {
	return func(c *gin.Context) {
		dl, err := s.pipeline.Download(c.Request.Context(), c.Query("server"), c.Query("token"), c.Param("id"))
		if err != nil {
			middleware.AbortWithError(c, err)
			return
		}
		defer dl.Body.Close()

		contentType := dl.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		extra := map[string]string{}
		if dl.ContentDisposition != "" {
			extra["Content-Disposition"] = dl.ContentDisposition
		}
		c.DataFromReader(http.StatusOK, dl.ContentLength, contentType, dl.Body, extra)
	}
}
