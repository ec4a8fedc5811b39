package gateway

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/nao1215/edgegate/internal/config"
	"github.com/nao1215/edgegate/pkg/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	// testSessionSecret はテスト用のセッション署名鍵。
	testSessionSecret = "gateway-test-secret-0123456789abcdef"
	// testClientID はテスト用のOAuthクライアントID。
	testClientID = "client-123.apps.googleusercontent.com"
	// testOrigin はテスト用の許可オリジン。
	testOrigin = "https://app.example.com"
	// testKID はテスト用の鍵ID。
	testKID = "kid-1"
)

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

// signingKey はテスト全体で共有するRSA鍵を返す。
func signingKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()

	keyOnce.Do(func() {
		var err error
		if testKey, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			panic(err)
		}
	})
	return testKey
}

// geminiRequest はGemini APIのテスト用サーバーが受け取ったリクエスト。
type geminiRequest struct {
	apiKey   string
	auth     string
	path     string
	rawQuery string
	body     string
}

// fakeGemini は最後に受け取ったリクエストを記録する。
type fakeGemini struct {
	mu   sync.Mutex
	last geminiRequest
}

func (f *fakeGemini) record(r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = geminiRequest{
		apiKey:   r.Header.Get("x-goog-api-key"),
		auth:     r.Header.Get("Authorization"),
		path:     r.URL.Path,
		rawQuery: r.URL.RawQuery,
		body:     string(body),
	}
}

func (f *fakeGemini) snapshot() geminiRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// testEnv はテスト用のゲートウェイと偽のベンダー群。
type testEnv struct {
	server *Server
	gemini *fakeGemini
}

// newTestEnv は偽のJWKSサーバーとGemini APIに向けたゲートウェイを生成する。
func newTestEnv(t *testing.T, modify func(cfg *config.Config)) *testEnv {
	t.Helper()

	key := signingKey(t)
	jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{Key: &key.PublicKey, KeyID: testKID, Algorithm: "RS256", Use: "sig"}}}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(jwks.Close)

	gemini := &fakeGemini{}
	vendor := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gemini.record(r)
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, ":predictLongRunning"):
			io.WriteString(w, `{"name":"operations/op-123"}`)
		case r.URL.Path == "/v1beta/operations/op-done":
			io.WriteString(w, `{"name":"operations/op-done","done":true,"response":{"generateVideoResponse":{"generatedSamples":[{"video":{"uri":"https://cdn.example.com/v.mp4"}}]}}}`)
		case strings.HasPrefix(r.URL.Path, "/v1beta/operations/"):
			io.WriteString(w, `{"name":"operations/op-123","done":false}`)
		case r.URL.Path == "/v1beta/models/missing":
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"error":{"code":404}}`)
		default:
			io.WriteString(w, `{"ok":true}`)
		}
	}))
	t.Cleanup(vendor.Close)

	cfg := &config.Config{}
	cfg.Server.MaxBodyBytes = 1 << 20
	cfg.CORS.AllowedOrigins = []string{testOrigin}
	cfg.Auth.SessionSecret = testSessionSecret
	cfg.Auth.ClientID = testClientID
	cfg.Auth.AllowedDomain = "example.com"
	cfg.Auth.JWKSURL = jwks.URL
	cfg.Retry.Timeout = 5 * time.Second
	cfg.Poll.Interval = time.Millisecond
	cfg.Gemini.APIKey = "gemini-server-key"
	cfg.Gemini.BaseURL = vendor.URL
	config.ApplyDefaults(cfg)
	if modify != nil {
		modify(cfg)
	}

	s, err := NewServer(cfg, nil)
	if err != nil {
		t.Fatalf("NewServer()でエラーが発生: %v", err)
	}
	return &testEnv{server: s, gemini: gemini}
}

// do はゲートウェイにリクエストを送る。
func (e *testEnv) do(method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

// sessionHeader は有効なセッショントークンのAuthorizationヘッダーを返す。
func sessionHeader(t *testing.T) map[string]string {
	t.Helper()

	token, _, err := middleware.IssueSessionToken(testSessionSecret, middleware.SessionUser{Subject: "sub-1", Email: "alice@example.com"}, time.Now())
	if err != nil {
		t.Fatalf("IssueSessionToken()でエラーが発生: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

// idToken はテスト用のIDトークンを署名する。overridesで標準のクレームを上書きする。
func idToken(t *testing.T, overrides jwt.MapClaims) string {
	t.Helper()

	claims := jwt.MapClaims{
		"sub":            "google-sub-1",
		"email":          "alice@example.com",
		"email_verified": true,
		"name":           "Alice",
		"picture":        "https://example.com/alice.png",
		"hd":             "example.com",
		"iss":            "https://accounts.google.com",
		"aud":            testClientID,
		"exp":            time.Now().Add(time.Hour).Unix(),
		"iat":            time.Now().Unix(),
	}
	for k, v := range overrides {
		claims[k] = v
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKID
	signed, err := token.SignedString(signingKey(t))
	if err != nil {
		t.Fatalf("IDトークンの署名に失敗: %v", err)
	}
	return signed
}

// decode はレスポンスのJSONをmapに変換する。
func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("レスポンスのデシリアライズに失敗: %v, body=%s", err, w.Body.String())
	}
	return body
}

// TestCORSAndFallbacks は全レスポンスに共通する動作を検証する。
func TestCORSAndFallbacks(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, func(cfg *config.Config) { cfg.Server.MaxBodyBytes = 16 })

	t.Run("任意のパスへのOPTIONSは本文なしの204を返すこと", func(t *testing.T) {
		t.Parallel()

		for _, path := range []string{"/auth/verify", "/api/veo/generate", "/no/such/path"} {
			w := env.do(http.MethodOptions, path, "", map[string]string{"Origin": testOrigin})
			if w.Code != http.StatusNoContent {
				t.Errorf("%s: status = %d, want %d", path, w.Code, http.StatusNoContent)
			}
			if w.Body.Len() != 0 {
				t.Errorf("%s: body = %q, want empty", path, w.Body.String())
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != testOrigin {
				t.Errorf("%s: Access-Control-Allow-Origin = %q, want %q", path, got, testOrigin)
			}
		}
	})

	t.Run("未知のパスはCORSヘッダー付きの404 JSONを返すこと", func(t *testing.T) {
		t.Parallel()

		w := env.do(http.MethodGet, "/no/such/path", "", map[string]string{"Origin": testOrigin})
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
		}
		if w.Header().Get("Access-Control-Allow-Methods") == "" {
			t.Error("Access-Control-Allow-Methodsが設定されていない")
		}
		if _, ok := decode(t, w)["error"]; !ok {
			t.Error("errorフィールドが含まれていない")
		}
	})

	t.Run("未知のオリジンにはAllow-Originを返さないこと", func(t *testing.T) {
		t.Parallel()

		w := env.do(http.MethodGet, "/health", "", map[string]string{"Origin": "https://evil.example.com"})
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Access-Control-Allow-Origin = %q, want empty", got)
		}
		if got := w.Header().Get("Vary"); got != "Origin" {
			t.Errorf("Vary = %q, want Origin", got)
		}
	})

	t.Run("上限を超えるボディは経路に関係なく413を返すこと", func(t *testing.T) {
		t.Parallel()

		big := strings.Repeat("x", 64)
		for _, path := range []string{"/auth/verify", "/no/such/path"} {
			w := env.do(http.MethodPost, path, big, nil)
			if w.Code != http.StatusRequestEntityTooLarge {
				t.Errorf("%s: status = %d, want %d", path, w.Code, http.StatusRequestEntityTooLarge)
			}
		}
	})

	t.Run("ヘルスチェックはstatusとtimestampを返すこと", func(t *testing.T) {
		t.Parallel()

		w := env.do(http.MethodGet, "/health", "", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
		body := decode(t, w)
		if body["status"] != "ok" {
			t.Errorf("status = %v, want ok", body["status"])
		}
		if _, err := time.Parse(time.RFC3339, body["timestamp"].(string)); err != nil {
			t.Errorf("timestamp = %v はRFC3339ではない", body["timestamp"])
		}
	})
}

// TestVerify は /auth/verify のエンドツーエンドの動作を検証する。
func TestVerify(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)

	t.Run("正しいIDトークンでセッショントークンが発行され保護された経路を使えること", func(t *testing.T) {
		t.Parallel()

		w := env.do(http.MethodPost, "/auth/verify", `{"idToken":"`+idToken(t, nil)+`"}`, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}
		body := decode(t, w)
		if body["expiresIn"] != float64(7200) {
			t.Errorf("expiresIn = %v, want 7200", body["expiresIn"])
		}
		user := body["user"].(map[string]any)
		if user["email"] != "alice@example.com" || user["domain"] != "example.com" || user["name"] != "Alice" {
			t.Errorf("user = %v", user)
		}

		token := body["token"].(string)
		claims, err := middleware.VerifySessionToken(testSessionSecret, token, time.Now())
		if err != nil {
			t.Fatalf("VerifySessionToken()でエラーが発生: %v", err)
		}
		if claims.Subject != "google-sub-1" {
			t.Errorf("Subject = %q, want google-sub-1", claims.Subject)
		}

		status := env.do(http.MethodGet, "/api/veo/status?operation=operations/op-done", "", map[string]string{"Authorization": "Bearer " + token})
		if status.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d, body=%s", status.Code, http.StatusOK, status.Body.String())
		}
		if got := decode(t, status)["status"]; got != "complete" {
			t.Errorf("envelope status = %v, want complete", got)
		}
	})

	tests := []struct {
		name      string
		overrides jwt.MapClaims
	}{
		{name: "audが異なる", overrides: jwt.MapClaims{"aud": "other-client"}},
		{name: "期限切れ", overrides: jwt.MapClaims{"exp": time.Now().Add(-time.Minute).Unix()}},
		{name: "ドメインが異なる", overrides: jwt.MapClaims{"hd": "other.com"}},
		{name: "メール未確認", overrides: jwt.MapClaims{"email_verified": "false"}},
		{name: "issが異なる", overrides: jwt.MapClaims{"iss": "https://evil.example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name+"IDトークンは理由を伏せた401になること", func(t *testing.T) {
			t.Parallel()

			w := env.do(http.MethodPost, "/auth/verify", `{"idToken":"`+idToken(t, tt.overrides)+`"}`, nil)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
			if got := decode(t, w)["error"]; got != "認証に失敗しました" {
				t.Errorf("error = %v", got)
			}
		})
	}

	t.Run("idTokenが無い場合は400になること", func(t *testing.T) {
		t.Parallel()

		w := env.do(http.MethodPost, "/auth/verify", `{}`, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
		}
		if got := decode(t, w)["error"]; got != "idToken is required" {
			t.Errorf("error = %v", got)
		}
	})

	t.Run("JSONでないボディは400になること", func(t *testing.T) {
		t.Parallel()

		w := env.do(http.MethodPost, "/auth/verify", `not-json`, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})
}

// TestProtectedRoutes はセッショントークン必須の経路を検証する。
func TestProtectedRoutes(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)

	t.Run("セッショントークンが無い場合は401になること", func(t *testing.T) {
		t.Parallel()

		for _, path := range []string{"/api/veo/status", "/api/kling/status", "/api/gemini/v1beta/models"} {
			w := env.do(http.MethodGet, path, "", nil)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("%s: status = %d, want %d", path, w.Code, http.StatusUnauthorized)
			}
		}
	})

	t.Run("改ざんされたセッショントークンは401になること", func(t *testing.T) {
		t.Parallel()

		header := sessionHeader(t)
		header["Authorization"] += "x"
		w := env.do(http.MethodGet, "/api/veo/status?operation=operations/op-done", "", header)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("クイックポーリング中に終わらない生成は処理中とオペレーション名を返すこと", func(t *testing.T) {
		t.Parallel()

		w := env.do(http.MethodPost, "/api/veo/generate", `{"prompt":"a cat surfing"}`, sessionHeader(t))
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}
		body := decode(t, w)
		if body["status"] != "processing" || body["operationName"] != "operations/op-123" || body["backend"] != "gemini" {
			t.Errorf("envelope = %v", body)
		}
	})

	t.Run("プロンプトの無い生成は400になること", func(t *testing.T) {
		t.Parallel()

		w := env.do(http.MethodPost, "/api/veo/generate", `{}`, sessionHeader(t))
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("未知のバックエンドは404になること", func(t *testing.T) {
		t.Parallel()

		w := env.do(http.MethodGet, "/api/veo/status?operation=op&backend=sora", "", sessionHeader(t))
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
		}
	})

	t.Run("未知の動画タスクベンダーは404になること", func(t *testing.T) {
		t.Parallel()

		w := env.do(http.MethodPost, "/api/kling/generate", `{"provider":"runway","prompt":"x"}`, sessionHeader(t))
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
		}
	})

	t.Run("タスク開始前のアップロードはserver不足の400になること", func(t *testing.T) {
		t.Parallel()

		w := env.do(http.MethodPost, "/api/ilovepdf/upload", `{"token":"t","fileName":"a.pdf","fileData":"QQ=="}`, sessionHeader(t))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
		}
		if got := decode(t, w)["error"]; got != "server is required" {
			t.Errorf("error = %v", got)
		}
	})
}

// TestGeminiProxy はGemini APIへの転送を検証する。
func TestGeminiProxy(t *testing.T) {
	t.Parallel()

	t.Run("サーバーのAPIキーを付与しクライアントの認証情報は転送しないこと", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t, nil)
		w := env.do(http.MethodPost, "/api/gemini/v1beta/models/gemini-pro:generateContent?alt=json",
			`{"contents":[]}`, map[string]string{"Authorization": sessionHeader(t)["Authorization"], "Content-Type": "application/json"})
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}

		got := env.gemini.snapshot()
		if got.apiKey != "gemini-server-key" {
			t.Errorf("x-goog-api-key = %q", got.apiKey)
		}
		if got.auth != "" {
			t.Errorf("Authorization = %q, want empty", got.auth)
		}
		if got.path != "/v1beta/models/gemini-pro:generateContent" || got.rawQuery != "alt=json" {
			t.Errorf("path = %q query = %q", got.path, got.rawQuery)
		}
		if got.body != `{"contents":[]}` {
			t.Errorf("body = %q", got.body)
		}
	})

	t.Run("ベンダーのステータスをそのまま返すこと", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t, nil)
		w := env.do(http.MethodGet, "/api/gemini/v1beta/models/missing", "", sessionHeader(t))
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}

// TestMetricsEndpoint は /metrics がリクエスト数を公開することを検証する。
func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.do(http.MethodGet, "/health", "", nil)

	w := env.do(http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `edgegate_http_requests_total{method="GET",route="/health",status="200"} 1`) {
		t.Errorf("メトリクス出力にリクエスト数が含まれていない: %s", w.Body.String())
	}
}
