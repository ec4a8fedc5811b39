// Package generation は動画生成ベンダー（Gemini API と Vertex AI）のアダプターを提供する。
//
// どちらのベンダーも長時間実行オペレーションを返すが、エンドポイントの形、認証方式、
// パラメータ名、状態確認のHTTPメソッドが異なる。Backendで実装を選び、
// Adapterインターフェースを通して同じ形で扱う。
package generation
