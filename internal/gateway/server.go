package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/edgegate/internal/config"
	"github.com/nao1215/edgegate/internal/docpipeline"
	"github.com/nao1215/edgegate/internal/generation"
	"github.com/nao1215/edgegate/internal/identity"
	"github.com/nao1215/edgegate/internal/jobtracker"
	"github.com/nao1215/edgegate/internal/videotask"
	"github.com/nao1215/edgegate/pkg/apperror"
	"github.com/nao1215/edgegate/pkg/httpclient"
	"github.com/nao1215/edgegate/pkg/metrics"
	"github.com/nao1215/edgegate/pkg/middleware"
	"github.com/sirupsen/logrus"
)

// Server はエッジゲートウェイのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg はゲートウェイの設定。
	cfg *config.Config
	// metrics はPrometheusメトリクスの集約先。
	metrics *metrics.Collector
	// verifier はIDトークンの検証器。
	verifier *identity.Verifier
	// generation は動画生成のアダプター集合。
	generation *generation.Set
	// tracker は動画生成オペレーションの追跡器。
	tracker *jobtracker.Tracker
	// videoTasks は動画タスク系ベンダーのレジストリ。
	videoTasks *videotask.Registry
	// pipeline はドキュメント処理の中継。
	pipeline *docpipeline.Pipeline
	// client はGeminiへの転送に使うHTTPクライアント。
	client *httpclient.Client
	// retry は冪等な呼び出しに使うリトライ設定。
	retry httpclient.Options
	// now は現在時刻を返す関数。
	now func() time.Time
}

// NewServer は設定から新しいゲートウェイサーバーを生成する。
// collectorがnilの場合は専用のレジストリを持つCollectorを生成する。
func NewServer(cfg *config.Config, collector *metrics.Collector) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("設定がnilです")
	}
	if collector == nil {
		collector = metrics.New(nil)
	}

	client := httpclient.New(
		httpclient.WithObserver(collector),
		httpclient.WithTimeout(cfg.Retry.Timeout),
		httpclient.WithMaxResponseBytes(cfg.Retry.MaxResponseBytes),
	)
	retry := httpclient.Options{MaxRetries: cfg.Retry.Retries(), Timeout: cfg.Retry.Timeout}

	keys := identity.NewKeyCache(cfg.Auth.JWKSURL, client,
		identity.WithKeyTTL(cfg.Auth.KeyTTL),
		identity.WithRefreshObserver(collector),
		identity.WithFetchRetry(cfg.Retry.Retries(), cfg.Retry.Timeout),
	)
	verifier := identity.NewVerifier(keys, identity.Config{
		Audience: cfg.Auth.ClientID,
		Domain:   cfg.Auth.AllowedDomain,
		Issuers:  cfg.Auth.Issuers,
	})

	set := generation.NewSet(client, retry,
		generation.GeminiConfig{APIKey: cfg.Gemini.APIKey, BaseURL: cfg.Gemini.BaseURL, Model: cfg.Gemini.Model},
		generation.VertexConfig{
			ProjectID:   cfg.Vertex.ProjectID,
			Location:    cfg.Vertex.Location,
			AccessToken: cfg.Vertex.AccessToken,
			BaseURL:     cfg.Vertex.BaseURL,
			Model:       cfg.Vertex.Model,
		},
	)

	s := &Server{
		cfg:        cfg,
		metrics:    collector,
		verifier:   verifier,
		generation: set,
		tracker:    jobtracker.New(set, jobtracker.WithQuickPoll(cfg.Poll.AttemptCount(), cfg.Poll.Interval)),
		videoTasks: videotask.NewRegistry(client, retry, videotask.Config{
			Kling:    videotask.KlingConfig{AccessKey: cfg.Kling.AccessKey, SecretKey: cfg.Kling.SecretKey, BaseURL: cfg.Kling.BaseURL},
			Luma:     videotask.LumaConfig{APIKey: cfg.Luma.APIKey, BaseURL: cfg.Luma.BaseURL},
			PixVerse: videotask.PixVerseConfig{APIKey: cfg.PixVerse.APIKey, BaseURL: cfg.PixVerse.BaseURL},
		}),
		pipeline: docpipeline.New(client, retry,
			docpipeline.Config{
				PublicKey:        cfg.ILovePDF.PublicKey,
				BaseURL:          cfg.ILovePDF.BaseURL,
				WorkerScheme:     cfg.ILovePDF.WorkerScheme,
				WorkerHostSuffix: cfg.ILovePDF.WorkerHostSuffix,
			},
			docpipeline.ConvertConfig{Secret: cfg.ConvertAPI.Secret, BaseURL: cfg.ConvertAPI.BaseURL},
		),
		client: client,
		retry:  retry,
		now:    time.Now,
	}

	router := gin.New()
	// /api/gemini/*path のような末尾スラッシュ付きのパスをリダイレクトしない
	router.RedirectTrailingSlash = false
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger(collector))
	router.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:        cfg.CORS.AllowedOrigins,
		FallbackToFirstOrigin: cfg.CORS.FallbackToFirstOrigin,
	}))
	router.Use(middleware.BodyLimit(cfg.Server.MaxBodyBytes))
	s.router = router
	s.setupRoutes()

	return s, nil
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるとグレースフルシャットダウンする。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", s.cfg.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.Server.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.WithFields(logrus.Fields{"component": "gateway", "addr": srv.Addr}).Info("ゲートウェイを起動します")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logrus.WithField("component", "gateway").Info("ゲートウェイを停止します")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
	}
	return nil
}

// setupRoutes はルーティングを設定する。
func (s *Server) setupRoutes() {
	// 認証不要のエンドポイント
	s.router.POST("/auth/verify", s.handleVerify())
	s.router.GET("/health", s.handleHealth())
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	// セッショントークン必須のエンドポイント
	api := s.router.Group("/api")
	api.Use(middleware.SessionAuth(s.cfg.Auth.SessionSecret, nil))
	{
		api.Any("/gemini/*path", s.handleGeminiProxy())

		api.POST("/veo/generate", s.handleVeoGenerate())
		api.GET("/veo/status", s.handleVeoStatus())

		api.POST("/kling/generate", s.handleVideoTaskGenerate())
		api.GET("/kling/status", s.handleVideoTaskStatus())

		api.POST("/convert/pdf-to-docx", s.handleConvertPDFToDOCX())

		api.POST("/ilovepdf/auth", s.handleILovePDFAuth())
		api.POST("/ilovepdf/start/:tool", s.handleILovePDFStart())
		api.POST("/ilovepdf/upload", s.handleILovePDFUpload())
		api.POST("/ilovepdf/process", s.handleILovePDFProcess())
		api.GET("/ilovepdf/download/:id", s.handleILovePDFDownload())
	}

	s.router.NoRoute(func(c *gin.Context) {
		middleware.AbortWithError(c, apperror.NotFound("not found"))
	})
}

// handleHealth はヘルスチェックのハンドラを返す。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": s.now().UTC().Format(time.RFC3339),
		})
	}
}
