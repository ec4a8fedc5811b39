package identity

import (
	"context"
	"crypto"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/nao1215/edgegate/pkg/httpclient"
	"github.com/sirupsen/logrus"
)

// defaultKeyTTL は公開鍵セットのデフォルトのキャッシュ期間。
const defaultKeyTTL = time.Hour

// KeySet はある時点で取得した公開鍵セット。取得後に変更されることはない。
type KeySet struct {
	// Keys はkidをキーとした公開鍵。
	Keys map[string]crypto.PublicKey
	// FetchedAt は取得時刻。
	FetchedAt time.Time
}

// RefreshObserver は公開鍵セット取得の結果を受け取るインターフェース。
type RefreshObserver interface {
	ObserveKeyRefresh(ok bool)
}

// KeyCache はIDプロバイダーの公開鍵セットをキャッシュする。
//
// 現在の鍵セットはatomic.Pointerで保持し、更新時は新しいセットに丸ごと差し替える。
// 期限切れの間に並行して呼び出された場合はそれぞれが取得を行うことがあるが、
// 取得は冪等で結果は同じになるためロックは取らない。
type KeyCache struct {
	// url はJWKSの取得先。
	url string
	// ttl はキャッシュ期間。
	ttl time.Duration
	// client はJWKS取得に使うHTTPクライアント。
	client *httpclient.Client
	// retry はJWKS取得時のリトライ設定。
	retry httpclient.Options
	// observer は取得結果の記録先。
	observer RefreshObserver
	// now は現在時刻を返す関数。
	now func() time.Time
	// current は現在の鍵セット。未取得の場合はnil。
	current atomic.Pointer[KeySet]
}

// KeyCacheOption はKeyCacheの設定を変更する関数。
type KeyCacheOption func(*KeyCache)

// WithKeyTTL はキャッシュ期間を設定する。
func WithKeyTTL(ttl time.Duration) KeyCacheOption {
	return func(k *KeyCache) {
		if ttl > 0 {
			k.ttl = ttl
		}
	}
}

// WithRefreshObserver は取得結果の記録先を設定する。
func WithRefreshObserver(o RefreshObserver) KeyCacheOption {
	return func(k *KeyCache) { k.observer = o }
}

// WithKeyClock は現在時刻を返す関数を差し替える。
func WithKeyClock(now func() time.Time) KeyCacheOption {
	return func(k *KeyCache) { k.now = now }
}

// WithFetchRetry はJWKS取得時のリトライ回数と試行タイムアウトを設定する。
func WithFetchRetry(maxRetries int, timeout time.Duration) KeyCacheOption {
	return func(k *KeyCache) {
		k.retry.MaxRetries = maxRetries
		k.retry.Timeout = timeout
	}
}

// NewKeyCache は新しいKeyCacheを生成する。
func NewKeyCache(url string, client *httpclient.Client, opts ...KeyCacheOption) *KeyCache {
	k := &KeyCache{
		url:    url,
		ttl:    defaultKeyTTL,
		client: client,
		retry:  httpclient.Options{MaxRetries: 2, Label: "identity.jwks"},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Keys はキャッシュ期間内であればキャッシュ済みの鍵セットを返し、
// 期限切れまたは未取得の場合は取得し直して返す。
func (k *KeyCache) Keys(ctx context.Context) (*KeySet, error) {
	if set := k.current.Load(); set != nil && k.now().Sub(set.FetchedAt) < k.ttl {
		return set, nil
	}
	return k.Refresh(ctx)
}

// Refresh はキャッシュ期間に関係なく鍵セットを取得し、キャッシュを差し替える。
// 取得に失敗した場合、既存のキャッシュはそのまま残る。
func (k *KeyCache) Refresh(ctx context.Context) (*KeySet, error) {
	set, err := k.fetch(ctx)
	if k.observer != nil {
		k.observer.ObserveKeyRefresh(err == nil)
	}
	if err != nil {
		return nil, err
	}

	k.current.Store(set)
	logrus.WithFields(logrus.Fields{
		"component": "identity",
		"keys":      len(set.Keys),
	}).Debug("公開鍵セットを更新しました")
	return set, nil
}

// Lookup はkidに対応する公開鍵を返す。
// キャッシュに無い場合は鍵のローテーションを想定して1度だけ強制的に取得し直す。
func (k *KeyCache) Lookup(ctx context.Context, kid string) (crypto.PublicKey, error) {
	set, err := k.Keys(ctx)
	if err != nil {
		return nil, err
	}
	if key, ok := set.Keys[kid]; ok {
		return key, nil
	}

	set, err = k.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	if key, ok := set.Keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: kid=%q", ErrKeyNotFound, kid)
}

// fetch はJWKSを取得して鍵セットに変換する。
func (k *KeyCache) fetch(ctx context.Context) (*KeySet, error) {
	fn, err := httpclient.JSONRequest(http.MethodGet, k.url, nil, nil)
	if err != nil {
		return nil, err
	}
	resp, err := k.client.Execute(ctx, fn, k.retry)
	if err != nil {
		return nil, err
	}
	body, err := httpclient.ReadBody(k.retry.Label, resp)
	if err != nil {
		return nil, err
	}

	var jwks jose.JSONWebKeySet
	if err := json.Unmarshal(body, &jwks); err != nil {
		return nil, fmt.Errorf("公開鍵セットのデシリアライズに失敗: %w", err)
	}

	set := &KeySet{Keys: make(map[string]crypto.PublicKey, len(jwks.Keys)), FetchedAt: k.now()}
	for _, jwk := range jwks.Keys {
		if jwk.KeyID == "" || (jwk.Use != "" && jwk.Use != "sig") || !jwk.IsPublic() {
			continue
		}
		set.Keys[jwk.KeyID] = jwk.Key
	}
	return set, nil
}
