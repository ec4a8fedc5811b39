package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/edgegate/internal/generation"
	"github.com/nao1215/edgegate/internal/videotask"
	"github.com/nao1215/edgegate/pkg/middleware"
)

// handleVeoGenerate は動画生成を開始してクイックポーリングするハンドラを返す。
func (s *Server) handleVeoGenerate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req generation.Request
		if err := bindJSON(c, &req); err != nil {
			middleware.AbortWithError(c, err)
			return
		}

		env, err := s.tracker.CreateAndQuickPoll(c.Request.Context(), req)
		if err != nil {
			middleware.AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, env)
	}
}

// handleVeoStatus はオペレーションの状態を1回確認するハンドラを返す。
func (s *Server) handleVeoStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		backend, err := generation.ParseBackend(c.Query("backend"))
		if err != nil {
			middleware.AbortWithError(c, err)
			return
		}

		env, err := s.tracker.CheckStatus(c.Request.Context(), c.Query("operation"), backend)
		if err != nil {
			middleware.AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, env)
	}
}

// handleVideoTaskGenerate は動画タスク系ベンダーでタスクを作成するハンドラを返す。
func (s *Server) handleVideoTaskGenerate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req videotask.Request
		if err := bindJSON(c, &req); err != nil {
			middleware.AbortWithError(c, err)
			return
		}

		result, err := s.videoTasks.Generate(c.Request.Context(), req)
		if err != nil {
			middleware.AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// handleVideoTaskStatus はタスクの状態をベンダーのレスポンスのまま返すハンドラを返す。
func (s *Server) handleVideoTaskStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := s.videoTasks.Status(c.Request.Context(), c.Query("provider"), c.Query("taskId"), c.Query("mode"))
		if err != nil {
			middleware.AbortWithError(c, err)
			return
		}
		c.Data(http.StatusOK, "application/json", raw)
	}
}
