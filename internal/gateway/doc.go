// Package gateway はブラウザクライアントとベンダーAPIの間に立つエッジゲートウェイを提供する。
//
// IDトークンを検証して独自のセッショントークンを発行し、セッショントークンを持つリクエストだけを
// 動画生成やドキュメント処理のベンダーに中継する。すべてのレスポンスにCORSヘッダーを付与し、
// リクエストボディのサイズを制限する。ジョブやセッションの状態はサーバー側に保存しない。
package gateway
