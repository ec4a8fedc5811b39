package gateway

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/edgegate/pkg/apperror"
	"github.com/nao1215/edgegate/pkg/middleware"
)

// verifyRequest は /auth/verify のリクエスト。
type verifyRequest struct {
	// IDToken はIDプロバイダーが発行したIDトークン。
	IDToken string `json:"idToken"`
}

// verifyUser は /auth/verify のレスポンスに含めるユーザー情報。
type verifyUser struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
	Domain  string `json:"domain"`
}

// verifyResponse は /auth/verify のレスポンス。
type verifyResponse struct {
	Token     string     `json:"token"`
	ExpiresIn int        `json:"expiresIn"`
	User      verifyUser `json:"user"`
}

// handleVerify はIDトークンを検証してセッショントークンを発行するハンドラを返す。
func (s *Server) handleVerify() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req verifyRequest
		if err := bindJSON(c, &req); err != nil {
			middleware.AbortWithError(c, err)
			return
		}
		if req.IDToken == "" {
			middleware.AbortWithError(c, apperror.MissingField("idToken"))
			return
		}

		claims, err := s.verifier.Verify(c.Request.Context(), req.IDToken)
		if err != nil {
			// 公開鍵セットの取得失敗はその分類のまま返し、検証の失敗は理由を伏せて401にする
			var appErr *apperror.Error
			if errors.As(err, &appErr) {
				middleware.AbortWithError(c, err)
				return
			}
			middleware.AbortWithError(c, apperror.Authentication(err))
			return
		}

		user := middleware.SessionUser{
			Subject: claims.Subject,
			Email:   claims.Email,
			Name:    claims.Name,
			Picture: claims.Picture,
			Domain:  claims.Domain(),
		}
		token, _, err := middleware.IssueSessionToken(s.cfg.Auth.SessionSecret, user, s.now())
		if err != nil {
			middleware.AbortWithError(c, apperror.Internal("セッショントークンの発行に失敗しました", err))
			return
		}

		c.JSON(http.StatusOK, verifyResponse{
			Token:     token,
			ExpiresIn: int(middleware.SessionTTL.Seconds()),
			User: verifyUser{
				Email:   user.Email,
				Name:    user.Name,
				Picture: user.Picture,
				Domain:  user.Domain,
			},
		})
	}
}
