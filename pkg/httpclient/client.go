package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nao1215/edgegate/pkg/apperror"
	"github.com/sirupsen/logrus"
)

const (
	// defaultTimeout は1試行あたりのデフォルトタイムアウト。
	defaultTimeout = 30 * time.Second
	// defaultBackoffBase はリトライ待機時間の基準値。
	defaultBackoffBase = time.Second
	// defaultBackoffMax はリトライ待機時間の上限。
	defaultBackoffMax = 8 * time.Second
	// defaultMaxResponseBytes はレスポンスボディとして読み込む上限のデフォルト値。
	defaultMaxResponseBytes = 64 << 20
	// HeaderRequestID はリクエストIDを伝播するHTTPヘッダー。
	HeaderRequestID = "X-Request-ID"
)

// ErrResponseTooLarge はレスポンスボディが上限を超えたことを表す。
var ErrResponseTooLarge = errors.New("レスポンスボディが上限を超えています")

// RequestFunc は1試行分のHTTPリクエストを生成する関数。
// 試行ごとに新しいコンテキストで呼び出されるため、ボディは毎回作り直す必要がある。
type RequestFunc func(ctx context.Context) (*http.Request, error)

// Options はExecuteの呼び出しごとの設定。
type Options struct {
	// MaxRetries は初回に加えて行うリトライの最大回数。
	MaxRetries int
	// Timeout は1試行あたりのタイムアウト。0の場合はクライアントのデフォルト値を使う。
	Timeout time.Duration
	// Label はログとメトリクスに使う呼び出し名（例: "veo.dispatch"）。
	Label string
}

// Observer は試行結果を受け取るインターフェース。pkg/metricsのCollectorが実装する。
type Observer interface {
	ObserveAttempt(label, outcome string, d time.Duration)
	ObserveRetry(label string)
}

// Client はベンダー呼び出し用のHTTPクライアント。
// 試行ごとのタイムアウトと、上限付き指数バックオフによるリトライを持つ。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
	// observer は試行結果の記録先。nilの場合は記録しない。
	observer Observer
	// timeout はOptions.Timeoutが0の場合に使うタイムアウト。
	timeout time.Duration
	// backoffBase は1回目のリトライ前の待機時間。
	backoffBase time.Duration
	// backoffMax は待機時間の上限。
	backoffMax time.Duration
	// maxResponseBytes はレスポンスボディとして読み込む上限バイト数。
	maxResponseBytes int64
}

// Option はClientの設定を変更する関数。
type Option func(*Client)

// WithObserver は試行結果の記録先を設定する。
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithHTTPClient は内部で使用するHTTPクライアントを差し替える。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout はデフォルトの試行タイムアウトを設定する。
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithBackoff はリトライ待機時間の基準値と上限を設定する。テストで短縮するために使う。
func WithBackoff(base, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.backoffBase = base
		c.backoffMax = maxDelay
	}
}

// WithMaxResponseBytes はレスポンスボディとして読み込む上限バイト数を設定する。
// 0以下の場合はデフォルト値を使う。
func WithMaxResponseBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxResponseBytes = n
		}
	}
}

// New は新しいベンダー呼び出し用HTTPクライアントを生成する。
func New(opts ...Option) *Client {
	c := &Client{
		// タイムアウトは試行ごとのコンテキストで制御するため、http.Client側には設定しない
		httpClient:  &http.Client{},
		timeout:     defaultTimeout,
		backoffBase: defaultBackoffBase,
		backoffMax:  defaultBackoffMax,

		maxResponseBytes: defaultMaxResponseBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// buildError はリクエスト生成の失敗を表す。リトライしても結果が変わらないため即座に返す。
type buildError struct {
	err error
}

func (e *buildError) Error() string { return e.err.Error() }
func (e *buildError) Unwrap() error { return e.err }

// Execute はfnで生成したリクエストを送信する。
// 送信エラー（ネットワーク障害、タイムアウト）の場合はバックオフ後にリトライし、
// MaxRetries回のリトライ後も失敗した場合は最後のエラーをKindTransportとして返す。
// 2xx以外のレスポンスはリトライせずそのまま返す。
// 返却したレスポンスのBodyは呼び出し側で必ずCloseすること。
func (c *Client) Execute(ctx context.Context, fn RequestFunc, opts Options) (*http.Response, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}

	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt - 1)
			if c.observer != nil {
				c.observer.ObserveRetry(opts.Label)
			}
			logrus.WithFields(logrus.Fields{
				"component": "httpclient",
				"label":     opts.Label,
				"attempt":   attempt,
				"delay":     delay,
				"error":     lastErr,
			}).Warn("ベンダー呼び出しをリトライします")

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, apperror.Transport(opts.Label, ctx.Err())
			case <-timer.C:
			}
		}

		resp, err := c.attempt(ctx, fn, timeout, opts.Label)
		if err == nil {
			return resp, nil
		}

		var be *buildError
		if errors.As(err, &be) {
			return nil, apperror.Internal("リクエストの作成に失敗しました", be.err)
		}
		lastErr = err

		// 呼び出し元のキャンセルはリトライしない
		if ctx.Err() != nil {
			break
		}
	}

	return nil, apperror.Transport(opts.Label, lastErr)
}

// attempt は1回分の送信を行う。
func (c *Client) attempt(ctx context.Context, fn RequestFunc, timeout time.Duration, label string) (*http.Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)

	req, err := fn(attemptCtx)
	if err != nil {
		cancel()
		return nil, &buildError{err: err}
	}

	// コンテキストからリクエストIDを伝播する
	if id, ok := ctx.Value(contextKeyRequestID).(string); ok && id != "" && req.Header.Get(HeaderRequestID) == "" {
		req.Header.Set(HeaderRequestID, id)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		cancel()
		c.observe(label, "error", elapsed)
		return nil, fmt.Errorf("HTTPリクエストの送信に失敗: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.observe(label, "http_error", elapsed)
	} else {
		c.observe(label, "success", elapsed)
	}

	// ボディを読み終えるまで試行コンテキストを生かしておく
	resp.Body = &cancelOnClose{
		ReadCloser: &limitedBody{ReadCloser: resp.Body, remaining: c.maxResponseBytes},
		cancel:     cancel,
	}
	return resp, nil
}

func (c *Client) observe(label, outcome string, d time.Duration) {
	if c.observer != nil {
		c.observer.ObserveAttempt(label, outcome, d)
	}
}

// backoff はattempt回目（0始まり）の失敗後の待機時間を返す。
// min(base * 2^attempt, max)
func (c *Client) backoff(attempt int) time.Duration {
	delay := c.backoffBase
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= c.backoffMax {
			return c.backoffMax
		}
	}
	if delay > c.backoffMax {
		return c.backoffMax
	}
	return delay
}

// cancelOnClose はClose時に試行コンテキストをキャンセルするReadCloser。
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// limitedBody は上限を超えて読み込もうとした時点でErrResponseTooLargeを返すReadCloser。
type limitedBody struct {
	io.ReadCloser
	remaining int64
	exceeded  bool
}

func (b *limitedBody) Read(p []byte) (int, error) {
	if b.exceeded {
		return 0, ErrResponseTooLarge
	}
	n, err := b.ReadCloser.Read(p)
	if int64(n) > b.remaining {
		n = int(b.remaining)
		b.remaining = 0
		b.exceeded = true
		return n, ErrResponseTooLarge
	}
	b.remaining -= int64(n)
	return n, err
}

// JSONRequest はJSONボディを1度だけシリアライズし、試行ごとに同じボディを送るRequestFuncを返す。
// bodyがnilの場合はボディなしのリクエストになる。
func JSONRequest(method, url string, body any, header http.Header) (RequestFunc, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("リクエストボディのシリアライズに失敗: %w", err)
		}
	}

	return func(ctx context.Context) (*http.Request, error) {
		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		if payload != nil && req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, nil
}

// ReadBody はレスポンスボディを読み込んでCloseする。
// 2xx以外の場合はKindUpstreamのエラーを返す。
func ReadBody(label string, resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperror.Transport(label, fmt.Errorf("レスポンスの読み取りに失敗: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return body, apperror.Upstream(label, resp.StatusCode, body)
	}
	return body, nil
}

// DecodeJSON はレスポンスボディをresultにデシリアライズする。
// 2xx以外の場合、またはJSONとして解釈できない場合はKindUpstreamのエラーを返す。
func DecodeJSON(label string, resp *http.Response, result any) error {
	body, err := ReadBody(label, resp)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		upstream := apperror.Upstream(label, http.StatusBadGateway, body)
		upstream.Err = fmt.Errorf("レスポンスボディのデシリアライズに失敗: %w", err)
		return upstream
	}
	return nil
}

// contextKey はコンテキストキーの型。
type contextKey string

// contextKeyRequestID はコンテキストにリクエストIDを格納するためのキー。
const contextKeyRequestID contextKey = "request_id"

// WithRequestID はコンテキストにリクエストIDを設定する。
// ベンダー呼び出し時に X-Request-ID ヘッダーとして伝播される。
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, requestID)
}
