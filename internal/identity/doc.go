// Package identity はIDプロバイダーが発行したIDトークン（OIDCのIDアサーション）を検証する。
//
// KeyCacheはIDプロバイダーの公開鍵セット（JWKS）をTTL付きでキャッシュし、
// VerifierはRS256署名、有効期限、aud、iss、hd、email_verifiedを順に検証する。
// 検証失敗は失敗理由ごとに異なるエラー値を返すため、呼び出し側はerrors.Isで区別できる。
package identity
