package identity

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

var (
	keyOnce   sync.Once
	signerKey *rsa.PrivateKey
	otherKey  *rsa.PrivateKey
)

// testKeys はテスト全体で共有するRSA鍵を返す。鍵生成は1度だけ行う。
func testKeys(t *testing.T) (*rsa.PrivateKey, *rsa.PrivateKey) {
	t.Helper()

	keyOnce.Do(func() {
		var err error
		if signerKey, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			panic(err)
		}
		if otherKey, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			panic(err)
		}
	})
	return signerKey, otherKey
}

// signToken はクレームをRS256で署名したIDトークンを返す。
func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("トークンの署名に失敗: %v", err)
	}
	return signed
}

// jwksServer は公開鍵セットを返すテスト用サーバー。
type jwksServer struct {
	*httptest.Server
	// hits はJWKSが取得された回数。
	hits atomic.Int32
	mu   sync.Mutex
	keys map[string]*rsa.PublicKey
}

// newJWKSServer はkidと公開鍵の組を返すテスト用JWKSサーバーを起動する。
func newJWKSServer(t *testing.T, keys map[string]*rsa.PublicKey) *jwksServer {
	t.Helper()

	s := &jwksServer{keys: keys}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.hits.Add(1)
		s.mu.Lock()
		var set jose.JSONWebKeySet
		for kid, pub := range s.keys {
			set.Keys = append(set.Keys, jose.JSONWebKey{Key: pub, KeyID: kid, Algorithm: "RS256", Use: "sig"})
		}
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(s.Close)
	return s
}

// setKeys は返す公開鍵を差し替える。鍵のローテーションを再現するために使う。
func (s *jwksServer) setKeys(keys map[string]*rsa.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = keys
}

// fixedClock は固定時刻を返す時計を生成する。
func fixedClock(now time.Time) func() time.Time {
	return func() time.Time { return now }
}
