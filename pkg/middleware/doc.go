// Package middleware はゲートウェイのGinミドルウェアを提供する。
//
// セッショントークンの発行と検証、リクエストID、アクセスログ、パニックリカバリ、
// CORS設定、ボディサイズ制限、apperrorに基づくエラー応答を含む。
package middleware
