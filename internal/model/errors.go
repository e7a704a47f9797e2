// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, api_key, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeInternal         = "INTERNAL_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeAPIKeyNotFound   = "API_KEY_NOT_FOUND"
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeCSRFTokenInvalid = "CSRF_TOKEN_INVALID"
)

// 認証・認可の失敗分類。
// HTTP境界ではErrInternalFailureを含むものが500、それ以外はすべて401に集約される。
var (
	ErrCsrfMismatch         = errors.New("csrf state mismatch")
	ErrMissingCredential    = errors.New("missing credential")
	ErrTokenExchangeFailed  = errors.New("token exchange failed")
	ErrInvalidIDToken       = errors.New("invalid id token")
	ErrUserResolutionFailed = errors.New("user resolution failed")
	ErrAPIKeyInvalid        = errors.New("api key invalid")
	ErrSessionInvalid       = errors.New("session invalid")
	ErrKeySetUnavailable    = errors.New("signing key set unavailable")
	ErrInternalFailure      = errors.New("internal failure")
)

// Internal はインフラ起因のエラーをErrInternalFailureとして扱えるようにラップする。
// kindには認証フロー上の分類（ErrUserResolutionFailed等）を渡す。nilの場合は分類なし。
func Internal(kind error, err error) error {
	if kind == nil {
		return fmt.Errorf("%w: %w", ErrInternalFailure, err)
	}
	return fmt.Errorf("%w: %w: %w", kind, ErrInternalFailure, err)
}

// NewUnauthorizedError は認証失敗エラーを生成する。
// 失敗の具体的な原因は含めない。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインし直すか、APIキーを確認してください。",
	}
}

// NewNotFoundError は存在しないエンドポイントへのリクエストのエラーを生成する。
func NewNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  "指定されたリソースが見つかりません。",
		Category: "system",
		Action:   "URLを確認してください。",
	}
}

// NewAPIKeyNotFoundError はAPIキーが見つからない場合のエラーを生成する。
func NewAPIKeyNotFoundError(id int64) *APIError {
	return &APIError{
		Code:     ErrCodeAPIKeyNotFound,
		Message:  fmt.Sprintf("指定されたAPIキーが見つかりません: %d", id),
		Category: "api_key",
		Action:   "APIキーIDを確認してください。",
	}
}

// NewValidationError は入力値検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力値が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}
