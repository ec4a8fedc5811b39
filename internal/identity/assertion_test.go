package identity

import (
	"context"
	"crypto"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nao1215/edgegate/pkg/httpclient"
)

// testClientID はテスト用のOAuthクライアントID。
const testClientID = "client-1.apps.googleusercontent.com"

// testNow はテストで使う固定時刻。
var testNow = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

// staticKeys は固定の公開鍵を返すKeySource。
type staticKeys map[string]crypto.PublicKey

func (s staticKeys) Lookup(_ context.Context, kid string) (crypto.PublicKey, error) {
	if key, ok := s[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: kid=%q", ErrKeyNotFound, kid)
}

// validClaims はすべての検証を通過するクレームを返す。
func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":            "1234567890",
		"iss":            "https://accounts.google.com",
		"aud":            testClientID,
		"exp":            testNow.Add(time.Hour).Unix(),
		"iat":            testNow.Add(-time.Minute).Unix(),
		"email":          "alice@example.com",
		"email_verified": true,
		"name":           "Alice",
		"picture":        "https://example.com/alice.png",
		"hd":             "example.com",
	}
}

// newTestVerifier はstaticKeysを使うVerifierを生成する。
func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()

	signer, _ := testKeys(t)
	return NewVerifier(
		staticKeys{"k1": &signer.PublicKey},
		Config{Audience: testClientID, Domain: "example.com"},
		WithClock(fixedClock(testNow)),
	)
}

// TestVerify はVerifyの成功と、条件を1つだけ崩した場合の失敗理由を検証する。
func TestVerify(t *testing.T) {
	t.Parallel()

	signer, other := testKeys(t)

	t.Run("すべての条件を満たす場合クレームが返ること", func(t *testing.T) {
		t.Parallel()

		v := newTestVerifier(t)
		claims, err := v.Verify(context.Background(), signToken(t, signer, "k1", validClaims()))
		if err != nil {
			t.Fatalf("Verify()でエラーが発生: %v", err)
		}
		if claims.Email != "alice@example.com" {
			t.Errorf("Email = %q, want %q", claims.Email, "alice@example.com")
		}
		if claims.Subject != "1234567890" {
			t.Errorf("Subject = %q, want %q", claims.Subject, "1234567890")
		}
		if claims.Domain() != "example.com" {
			t.Errorf("Domain() = %q, want %q", claims.Domain(), "example.com")
		}
	})

	tests := []struct {
		name    string
		mutate  func(jwt.MapClaims)
		key     *rsa.PrivateKey
		kid     string
		wantErr error
	}{
		{
			name:    "有効期限が過去の場合ErrExpiredになること",
			mutate:  func(c jwt.MapClaims) { c["exp"] = testNow.Add(-time.Second).Unix() },
			wantErr: ErrExpired,
		},
		{
			name:    "有効期限が現在時刻ちょうどの場合ErrExpiredになること",
			mutate:  func(c jwt.MapClaims) { c["exp"] = testNow.Unix() },
			wantErr: ErrExpired,
		},
		{
			name:    "audが一致しない場合ErrAudienceMismatchになること",
			mutate:  func(c jwt.MapClaims) { c["aud"] = "other-client" },
			wantErr: ErrAudienceMismatch,
		},
		{
			name:    "issが許可されていない場合ErrIssuerMismatchになること",
			mutate:  func(c jwt.MapClaims) { c["iss"] = "https://evil.example.com" },
			wantErr: ErrIssuerMismatch,
		},
		{
			name:    "hdが一致しない場合ErrDomainMismatchになること",
			mutate:  func(c jwt.MapClaims) { c["hd"] = "other.com" },
			wantErr: ErrDomainMismatch,
		},
		{
			name:    "hdが無い場合ErrDomainMismatchになること",
			mutate:  func(c jwt.MapClaims) { delete(c, "hd") },
			wantErr: ErrDomainMismatch,
		},
		{
			name:    "email_verifiedがfalseの場合ErrEmailNotVerifiedになること",
			mutate:  func(c jwt.MapClaims) { c["email_verified"] = false },
			wantErr: ErrEmailNotVerified,
		},
		{
			name:    "email_verifiedが文字列falseの場合ErrEmailNotVerifiedになること",
			mutate:  func(c jwt.MapClaims) { c["email_verified"] = "false" },
			wantErr: ErrEmailNotVerified,
		},
		{
			name:    "別の鍵で署名された場合ErrSignatureInvalidになること",
			key:     other,
			wantErr: ErrSignatureInvalid,
		},
		{
			name:    "未知のkidの場合ErrKeyNotFoundになること",
			kid:     "unknown",
			wantErr: ErrKeyNotFound,
		},
		{
			name:    "署名不正は有効期限切れより先に判定されること",
			mutate:  func(c jwt.MapClaims) { c["exp"] = testNow.Add(-time.Hour).Unix() },
			key:     other,
			wantErr: ErrSignatureInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			claims := validClaims()
			if tt.mutate != nil {
				tt.mutate(claims)
			}
			key := signer
			if tt.key != nil {
				key = tt.key
			}
			kid := "k1"
			if tt.kid != "" {
				kid = tt.kid
			}

			_, err := newTestVerifier(t).Verify(context.Background(), signToken(t, key, kid, claims))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	t.Run("email_verifiedが文字列trueでも成功すること", func(t *testing.T) {
		t.Parallel()

		claims := validClaims()
		claims["email_verified"] = "true"
		if _, err := newTestVerifier(t).Verify(context.Background(), signToken(t, signer, "k1", claims)); err != nil {
			t.Errorf("Verify()でエラーが発生: %v", err)
		}
	})

	t.Run("audが配列でも期待値を含めば成功すること", func(t *testing.T) {
		t.Parallel()

		claims := validClaims()
		claims["aud"] = []string{"other-client", testClientID}
		if _, err := newTestVerifier(t).Verify(context.Background(), signToken(t, signer, "k1", claims)); err != nil {
			t.Errorf("Verify()でエラーが発生: %v", err)
		}
	})

	t.Run("ドメイン未設定の場合hdを検証しないこと", func(t *testing.T) {
		t.Parallel()

		v := NewVerifier(staticKeys{"k1": &signer.PublicKey}, Config{Audience: testClientID}, WithClock(fixedClock(testNow)))
		claims := validClaims()
		delete(claims, "hd")
		if _, err := v.Verify(context.Background(), signToken(t, signer, "k1", claims)); err != nil {
			t.Errorf("Verify()でエラーが発生: %v", err)
		}
	})

	t.Run("形式が不正なトークンはErrBadFormatになること", func(t *testing.T) {
		t.Parallel()

		v := newTestVerifier(t)
		for _, token := range []string{"", "abc", "a.b", "a..c", "a.b.c.d", "!!!.###.$$$"} {
			if _, err := v.Verify(context.Background(), token); !errors.Is(err, ErrBadFormat) {
				t.Errorf("Verify(%q) err = %v, want ErrBadFormat", token, err)
			}
		}
	})

	t.Run("kidが無い場合ErrKeyNotFoundになること", func(t *testing.T) {
		t.Parallel()

		_, err := newTestVerifier(t).Verify(context.Background(), signToken(t, signer, "", validClaims()))
		if !errors.Is(err, ErrKeyNotFound) {
			t.Errorf("err = %v, want ErrKeyNotFound", err)
		}
	})

	t.Run("RS256以外のアルゴリズムはErrSignatureInvalidになること", func(t *testing.T) {
		t.Parallel()

		token := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims())
		token.Header["kid"] = "k1"
		signed, err := token.SignedString([]byte("shared-secret"))
		if err != nil {
			t.Fatalf("トークンの署名に失敗: %v", err)
		}
		if _, err := newTestVerifier(t).Verify(context.Background(), signed); !errors.Is(err, ErrSignatureInvalid) {
			t.Errorf("err = %v, want ErrSignatureInvalid", err)
		}
	})

	t.Run("JWKSサーバーから取得した鍵で検証できること", func(t *testing.T) {
		t.Parallel()

		srv := newJWKSServer(t, map[string]*rsa.PublicKey{"k1": &signer.PublicKey})
		cache := NewKeyCache(srv.URL, httpclient.New())
		v := NewVerifier(cache, Config{Audience: testClientID, Domain: "example.com"}, WithClock(fixedClock(testNow)))

		if _, err := v.Verify(context.Background(), signToken(t, signer, "k1", validClaims())); err != nil {
			t.Errorf("Verify()でエラーが発生: %v", err)
		}
	})
}

// TestFlexibleBool はFlexibleBoolのデシリアライズを検証する。
func TestFlexibleBool(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  bool
	}{
		{input: `true`, want: true},
		{input: `false`, want: false},
		{input: `"true"`, want: true},
		{input: `"TRUE"`, want: true},
		{input: `"false"`, want: false},
		{input: `null`, want: false},
	}
	for _, tt := range tests {
		var b FlexibleBool
		if err := json.Unmarshal([]byte(tt.input), &b); err != nil {
			t.Errorf("Unmarshal(%s)でエラーが発生: %v", tt.input, err)
			continue
		}
		if bool(b) != tt.want {
			t.Errorf("Unmarshal(%s) = %v, want %v", tt.input, b, tt.want)
		}
	}

	var b FlexibleBool
	if err := json.Unmarshal([]byte(`1`), &b); err == nil {
		t.Error("数値はエラーになるべき")
	}
}

// TestClaimsDomain はhdが無い場合にメールアドレスからドメインを補うことを検証する。
func TestClaimsDomain(t *testing.T) {
	t.Parallel()

	c := &Claims{Email: "bob@gmail.com"}
	if got := c.Domain(); got != "gmail.com" {
		t.Errorf("Domain() = %q, want %q", got, "gmail.com")
	}
	if got := (&Claims{Email: "invalid"}).Domain(); got != "" {
		t.Errorf("Domain() = %q, want empty", got)
	}
}
