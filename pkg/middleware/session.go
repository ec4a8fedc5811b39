package middleware

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/nao1215/edgegate/pkg/apperror"
)

const (
	// SessionTTL はセッショントークンの有効期間。
	SessionTTL = 2 * time.Hour
	// SessionIssuer はセッショントークンのiss。
	SessionIssuer = "edgegate"
	// contextKeySession はGinコンテキストにセッションクレームを格納するためのキー。
	contextKeySession = "session"
)

var (
	// ErrSessionMalformed はトークンがJWTとして解釈できないことを表す。
	ErrSessionMalformed = errors.New("session token is malformed")
	// ErrSessionSignatureInvalid は署名またはアルゴリズムが一致しないことを表す。
	ErrSessionSignatureInvalid = errors.New("session token signature is invalid")
	// ErrSessionExpired は有効期限切れを表す。
	ErrSessionExpired = errors.New("session token is expired")
	// ErrSessionMissing はAuthorizationヘッダーが無い、またはBearer形式でないことを表す。
	ErrSessionMissing = errors.New("session token is missing")
)

// SessionUser はセッショントークンに埋め込むユーザー情報。
type SessionUser struct {
	// Subject はIDプロバイダー上のユーザー識別子。
	Subject string
	// Email はユーザーのメールアドレス。
	Email string
	// Name は表示名。
	Name string
	// Picture はプロフィール画像のURL。
	Picture string
	// Domain は所属ドメイン。
	Domain string
}

// SessionClaims はセッショントークンのクレーム（ペイロード）を表す。
type SessionClaims struct {
	jwt.RegisteredClaims
	// Email はユーザーのメールアドレス。
	Email string `json:"email"`
	// Name は表示名。
	Name string `json:"name,omitempty"`
	// Picture はプロフィール画像のURL。
	Picture string `json:"picture,omitempty"`
	// Domain は所属ドメイン。
	Domain string `json:"domain,omitempty"`
}

// IssueSessionToken はユーザー情報からHS256のセッショントークンを生成する。
// iatはnow、expはnow+SessionTTLになる。
func IssueSessionToken(secret string, user SessionUser, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(SessionTTL)
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Subject,
			Issuer:    SessionIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email:   user.Email,
		Name:    user.Name,
		Picture: user.Picture,
		Domain:  user.Domain,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("セッショントークンの署名に失敗: %w", err)
	}
	return signed, expiresAt, nil
}

// VerifySessionToken はセッショントークンを検証し、クレームを返す。
// 署名を先に検証し、その後nowを基準に有効期限を確認する。
func VerifySessionToken(secret, tokenString string, now time.Time) (*SessionClaims, error) {
	claims := &SessionClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		// 有効期限は注入された時刻で判定する
		jwt.WithoutClaimsValidation(),
	)
	_, err := parser.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return nil, fmt.Errorf("%w: %v", ErrSessionMalformed, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrSessionSignatureInvalid, err)
	}

	if claims.ExpiresAt == nil || !now.Before(claims.ExpiresAt.Time) {
		return nil, ErrSessionExpired
	}
	return claims, nil
}

// SessionAuth はセッショントークンを検証するGinミドルウェアを返す。
// 失敗理由はログにのみ出力し、クライアントには区別のない401を返す。
// 検証に成功した場合、コンテキストにクレームを設定する。
func SessionAuth(secret string, clock func() time.Time) gin.HandlerFunc {
	if clock == nil {
		clock = time.Now
	}

	return func(c *gin.Context) {
		tokenString, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !found || strings.TrimSpace(tokenString) == "" {
			rejectSession(c, ErrSessionMissing)
			return
		}

		claims, err := VerifySessionToken(secret, strings.TrimSpace(tokenString), clock())
		if err != nil {
			rejectSession(c, err)
			return
		}

		c.Set(contextKeySession, claims)
		c.Next()
	}
}

// rejectSession は401で応答する。失敗理由はAbortWithErrorがログにのみ出力する。
func rejectSession(c *gin.Context, reason error) {
	AbortWithError(c, apperror.Authentication(reason))
}

// GetSession はGinコンテキストからセッションクレームを取得する。
// SessionAuthミドルウェアが事前に適用されている必要がある。
func GetSession(c *gin.Context) *SessionClaims {
	v, ok := c.Get(contextKeySession)
	if !ok {
		return nil
	}
	claims, _ := v.(*SessionClaims)
	return claims
}
