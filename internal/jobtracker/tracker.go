// Package jobtracker は長時間実行される動画生成オペレーションの状態を管理する。
//
// CreateAndQuickPollは生成を開始した後、短い間隔で数回だけ状態を確認し、
// その間に終わらなければオペレーション名を返して以降のポーリングを呼び出し側に任せる。
// 状態はゲートウェイに保存せず、オペレーション名とバックエンド名だけで追跡する。
package jobtracker

import (
	"context"
	"time"

	"github.com/nao1215/edgegate/internal/generation"
	"github.com/nao1215/edgegate/pkg/apperror"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultAttempts はクイックポーリングの確認回数。
	DefaultAttempts = 3
	// DefaultInterval はクイックポーリングの確認間隔。
	DefaultInterval = 2 * time.Second
	// ResultTTL は完了した動画URLの有効期間。
	ResultTTL = 48 * time.Hour
	// noResultMessage は完了したのに動画URLが見つからない場合のメッセージ。
	noResultMessage = "no result in completed response"
)

// Status はエンベロープの状態。
type Status string

const (
	// StatusProcessing は処理中。
	StatusProcessing Status = "processing"
	// StatusComplete は完了。
	StatusComplete Status = "complete"
	// StatusError は失敗。
	StatusError Status = "error"
)

// Envelope はクライアントに返すオペレーションの状態。
type Envelope struct {
	// Status は状態。
	Status Status `json:"status"`
	// OperationName は処理中の場合に以降のポーリングで使うオペレーション名。
	OperationName string `json:"operationName,omitempty"`
	// Backend はオペレーションを作成したバックエンド。
	Backend generation.Backend `json:"backend"`
	// VideoURL は完了時の動画URL。
	VideoURL string `json:"videoUrl,omitempty"`
	// ExpiresAt は動画URLの有効期限。
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	// Error は失敗時のメッセージ。
	Error string `json:"error,omitempty"`
}

// Terminal は完了または失敗かどうかを返す。
func (e *Envelope) Terminal() bool {
	return e.Status == StatusComplete || e.Status == StatusError
}

// Adapters はバックエンドを選ぶためのインターフェース。generation.Setが実装する。
type Adapters interface {
	Select(useVertex bool) generation.Adapter
	Adapter(b generation.Backend) (generation.Adapter, error)
}

// Tracker は動画生成オペレーションを追跡する。
type Tracker struct {
	adapters Adapters
	attempts int
	interval time.Duration
	now      func() time.Time
}

// Option はTrackerの設定を変更する関数。
type Option func(*Tracker)

// WithQuickPoll はクイックポーリングの回数と間隔を設定する。
func WithQuickPoll(attempts int, interval time.Duration) Option {
	return func(t *Tracker) {
		if attempts >= 0 {
			t.attempts = attempts
		}
		if interval >= 0 {
			t.interval = interval
		}
	}
}

// WithClock は現在時刻を返す関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New は新しいTrackerを生成する。
func New(adapters Adapters, opts ...Option) *Tracker {
	t := &Tracker{
		adapters: adapters,
		attempts: DefaultAttempts,
		interval: DefaultInterval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// CreateAndQuickPoll は生成を開始し、interval待ってから状態を確認することをattempts回まで繰り返す。
// 途中で完了または失敗した場合はその結果を、最後まで処理中の場合はオペレーション名を含む
// 処理中のエンベロープを返す。クイックポーリング中の状態確認の失敗は処理中として扱う。
func (t *Tracker) CreateAndQuickPoll(ctx context.Context, req generation.Request) (*Envelope, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	adapter := t.adapters.Select(req.UseVertex)
	name, err := adapter.Dispatch(ctx, req)
	if err != nil {
		return nil, err
	}

	log := logrus.WithFields(logrus.Fields{
		"component": "jobtracker",
		"backend":   adapter.Backend(),
		"operation": name,
	})
	log.Info("動画生成を開始しました")

	for attempt := 1; attempt <= t.attempts; attempt++ {
		if err := sleep(ctx, t.interval); err != nil {
			return nil, apperror.Transport("quick poll", err)
		}

		status, err := adapter.Poll(ctx, name)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			log.WithError(err).WithField("attempt", attempt).Warn("クイックポーリング中の状態確認に失敗しました")
			continue
		}

		env := t.envelope(adapter.Backend(), name, status)
		if env.Terminal() {
			return env, nil
		}
	}

	return &Envelope{Status: StatusProcessing, OperationName: name, Backend: adapter.Backend()}, nil
}

// CheckStatus はオペレーションの状態を1回だけ確認する。トラッカーとしてはリトライしない。
func (t *Tracker) CheckStatus(ctx context.Context, operationName string, backend generation.Backend) (*Envelope, error) {
	if operationName == "" {
		return nil, apperror.MissingField("operation")
	}
	adapter, err := t.adapters.Adapter(backend)
	if err != nil {
		return nil, err
	}

	status, err := adapter.Poll(ctx, operationName)
	if err != nil {
		return nil, err
	}
	return t.envelope(adapter.Backend(), operationName, status), nil
}

// envelope はオペレーションの状態をエンベロープに変換する。
func (t *Tracker) envelope(backend generation.Backend, name string, status *generation.OperationStatus) *Envelope {
	switch {
	case !status.Done:
		return &Envelope{Status: StatusProcessing, OperationName: name, Backend: backend}
	case status.ErrorMessage != "":
		return &Envelope{Status: StatusError, Backend: backend, Error: status.ErrorMessage}
	case status.VideoURL == "":
		return &Envelope{Status: StatusError, Backend: backend, Error: noResultMessage}
	default:
		expiresAt := t.now().Add(ResultTTL)
		return &Envelope{Status: StatusComplete, Backend: backend, VideoURL: status.VideoURL, ExpiresAt: &expiresAt}
	}
}

// sleep はdだけ待つ。コンテキストがキャンセルされた場合はその時点で戻る。
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
