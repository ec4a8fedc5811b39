package identity

import (
	"context"
	"crypto"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrBadFormat はトークンがJWTのコンパクト形式でないことを表す。
	ErrBadFormat = errors.New("identity token has bad format")
	// ErrKeyNotFound はkidに対応する公開鍵が見つからないことを表す。
	ErrKeyNotFound = errors.New("identity token key not found")
	// ErrSignatureInvalid は署名またはアルゴリズムが不正であることを表す。
	ErrSignatureInvalid = errors.New("identity token signature is invalid")
	// ErrExpired は有効期限切れを表す。
	ErrExpired = errors.New("identity token is expired")
	// ErrAudienceMismatch はaudが期待値を含まないことを表す。
	ErrAudienceMismatch = errors.New("identity token audience mismatch")
	// ErrIssuerMismatch はissが許可されていないことを表す。
	ErrIssuerMismatch = errors.New("identity token issuer mismatch")
	// ErrDomainMismatch はhdが許可ドメインと一致しないことを表す。
	ErrDomainMismatch = errors.New("identity token domain mismatch")
	// ErrEmailNotVerified はメールアドレスが未確認であることを表す。
	ErrEmailNotVerified = errors.New("identity token email is not verified")
)

// defaultIssuers はGoogleが発行するIDトークンのiss。
var defaultIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

// Claims はIDトークンのクレーム。
type Claims struct {
	jwt.RegisteredClaims
	// Email はユーザーのメールアドレス。
	Email string `json:"email"`
	// EmailVerified はメールアドレスが確認済みかどうか。
	EmailVerified FlexibleBool `json:"email_verified"`
	// Name は表示名。
	Name string `json:"name"`
	// Picture はプロフィール画像のURL。
	Picture string `json:"picture"`
	// HostedDomain は所属するWorkspaceドメイン（hd）。
	HostedDomain string `json:"hd"`
}

// Domain はユーザーの所属ドメインを返す。hdが無い場合はメールアドレスのドメイン部分を返す。
func (c *Claims) Domain() string {
	if c.HostedDomain != "" {
		return c.HostedDomain
	}
	if _, domain, ok := strings.Cut(c.Email, "@"); ok {
		return domain
	}
	return ""
}

// FlexibleBool はJSONの真偽値と文字列 "true" / "false" の両方を受け付ける真偽値。
type FlexibleBool bool

// UnmarshalJSON はjson.Unmarshalerを実装する。
func (b *FlexibleBool) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case bool:
		*b = FlexibleBool(t)
	case string:
		*b = FlexibleBool(strings.EqualFold(t, "true"))
	case nil:
		*b = false
	default:
		return fmt.Errorf("email_verified に想定外の型: %T", v)
	}
	return nil
}

// KeySource はkidから公開鍵を引く。KeyCacheが実装する。
type KeySource interface {
	Lookup(ctx context.Context, kid string) (crypto.PublicKey, error)
}

// Config はVerifierの検証条件。
type Config struct {
	// Audience はaudに含まれるべきクライアントID。
	Audience string
	// Domain はhdとして期待するドメイン。空の場合は検証しない。
	Domain string
	// Issuers は許可するiss。空の場合はGoogleのissを使う。
	Issuers []string
}

// Verifier はIDトークンを検証する。
type Verifier struct {
	// keys は公開鍵の取得元。
	keys KeySource
	// cfg は検証条件。
	cfg Config
	// now は現在時刻を返す関数。
	now func() time.Time
}

// VerifierOption はVerifierの設定を変更する関数。
type VerifierOption func(*Verifier)

// WithClock は現在時刻を返す関数を差し替える。
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier は新しいVerifierを生成する。
func NewVerifier(keys KeySource, cfg Config, opts ...VerifierOption) *Verifier {
	if len(cfg.Issuers) == 0 {
		cfg.Issuers = defaultIssuers
	}
	v := &Verifier{keys: keys, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify はIDトークンを検証し、クレームを返す。
// 検証は 形式 → 公開鍵 → 署名 → 有効期限 → aud → iss → hd → email_verified の順に行い、
// 最初に失敗した条件に対応するエラーを返す。
// 公開鍵セットの取得自体に失敗した場合は取得時のエラーをそのまま返す。
func (v *Verifier) Verify(ctx context.Context, token string) (*Claims, error) {
	if !isCompact(token) {
		return nil, ErrBadFormat
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		// 時刻に関する検証は注入された時計で行う
		jwt.WithoutClaimsValidation(),
	)

	unverified, _, err := parser.ParseUnverified(token, &Claims{})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return nil, fmt.Errorf("%w: %v", ErrBadFormat, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("%w: kid header is missing", ErrKeyNotFound)
	}

	key, err := v.keys.Lookup(ctx, kid)
	if err != nil {
		return nil, err
	}

	claims := &Claims{}
	if _, err := parser.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
		return key, nil
	}); err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return nil, fmt.Errorf("%w: %v", ErrBadFormat, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	if err := v.validate(claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// validate は署名検証済みのクレームを検証する。
func (v *Verifier) validate(claims *Claims) error {
	if claims.ExpiresAt == nil || !v.now().Before(claims.ExpiresAt.Time) {
		return ErrExpired
	}
	if !slices.Contains(claims.Audience, v.cfg.Audience) {
		return ErrAudienceMismatch
	}
	if !slices.Contains(v.cfg.Issuers, claims.Issuer) {
		return ErrIssuerMismatch
	}
	if v.cfg.Domain != "" && claims.HostedDomain != v.cfg.Domain {
		return ErrDomainMismatch
	}
	if !claims.EmailVerified {
		return ErrEmailNotVerified
	}
	return nil
}

// isCompact はトークンが空でない3つのセグメントからなるかどうかを返す。
func isCompact(token string) bool {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}
