// Package apperror はゲートウェイ全体で共通のエラー分類を提供する。
//
// ハンドラは境界で必ずこのパッケージのエラーに変換し、Kindに対応する
// HTTPステータスと {"error": "..."} 形式のJSONで応答する。
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind はエラーの種類を表す。
type Kind string

const (
	// KindValidation はリクエストの入力不備を表す（400）。
	KindValidation Kind = "validation"
	// KindAuthentication はセッショントークンまたはIDトークンの検証失敗を表す（401）。
	KindAuthentication Kind = "authentication"
	// KindPayloadTooLarge はリクエストボディが上限を超えたことを表す（413）。
	KindPayloadTooLarge Kind = "payload_too_large"
	// KindNotFound は未知のルートやベンダーキーを表す（404）。
	KindNotFound Kind = "not_found"
	// KindUpstream はベンダーが2xx以外を返したことを表す。ステータスはそのまま転送する。
	KindUpstream Kind = "upstream"
	// KindTransport はタイムアウトやネットワーク障害を表す（502）。
	KindTransport Kind = "transport"
	// KindInternal はゲートウェイ内部の予期しない失敗を表す（500）。
	KindInternal Kind = "internal"
)

// Error はKind付きのエラー。
type Error struct {
	// Kind はエラーの種類。
	Kind Kind
	// Message はクライアントに返すメッセージ。
	Message string
	// Status はKindUpstreamの場合にベンダーが返したHTTPステータス。
	Status int
	// Body はKindUpstreamの場合にベンダーが返したレスポンスボディ。
	Body []byte
	// Err は原因となったエラー。
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap は原因となったエラーを返す。
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// HTTPStatus はエラーに対応するHTTPステータスコードを返す。
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindNotFound:
		return http.StatusNotFound
	case KindUpstream:
		if e.Status >= 400 && e.Status <= 599 {
			return e.Status
		}
		return http.StatusBadGateway
	case KindTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Validation は入力不備のエラーを生成する。
func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// MissingField は必須フィールドが欠けていることを示すエラーを生成する。
func MissingField(field string) *Error {
	return &Error{Kind: KindValidation, Message: field + " is required"}
}

// Authentication は認証失敗のエラーを生成する。
// クライアントには理由を区別しないメッセージを返し、理由はerrに保持する。
func Authentication(err error) *Error {
	return &Error{Kind: KindAuthentication, Message: "認証に失敗しました", Err: err}
}

// PayloadTooLarge はボディサイズ超過のエラーを生成する。
func PayloadTooLarge(limit int64) *Error {
	return &Error{Kind: KindPayloadTooLarge, Message: fmt.Sprintf("リクエストボディが上限（%dバイト）を超えています", limit)}
}

// NotFound はリソース未検出のエラーを生成する。
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// Upstream はベンダーの非2xx応答を表すエラーを生成する。
func Upstream(label string, status int, body []byte) *Error {
	return &Error{
		Kind:    KindUpstream,
		Message: fmt.Sprintf("%s がステータス %d を返しました", label, status),
		Status:  status,
		Body:    body,
	}
}

// Transport は通信障害のエラーを生成する。
func Transport(label string, err error) *Error {
	return &Error{Kind: KindTransport, Message: label + " との通信に失敗しました", Err: err}
}

// Internal は内部エラーを生成する。
func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// KindOf はerrに含まれるKindを返す。apperror.Errorでない場合はKindInternal。
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindInternal
}

// Is はerrが指定したKindのエラーかどうかを返す。
func Is(err error, kind Kind) bool {
	var typed *Error
	if !errors.As(err, &typed) {
		return false
	}
	return typed.Kind == kind
}

// From はerrを*Errorに変換する。既に*Errorを含む場合はそれを返す。
func From(err error) *Error {
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	return Internal("内部サーバーエラーが発生しました", err)
}
