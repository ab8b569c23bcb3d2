// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, oauth, validation, system
	Action   string // ユーザー向け対処方法

	// UpstreamStatus はOAuthプロバイダーが返したHTTPステータス。
	// 通信自体に失敗した場合は0。
	UpstreamStatus int
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated    = "UNAUTHENTICATED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeProviderNotFound   = "PROVIDER_NOT_FOUND"
	ErrCodeOAuthProviderError = "OAUTH_PROVIDER_ERROR"
	ErrCodeOAuthExchangeError = "OAUTH_EXCHANGE_ERROR"
	ErrCodeOAuthProfileError  = "OAUTH_PROFILE_ERROR"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// NewUnauthenticatedError は認証失敗エラーを生成する。
// トークンの期限切れと不正は区別しない。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "認証に失敗しました。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInvalidCredentialsError はメールアドレスまたはパスワードの誤りを表す認証失敗エラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認してください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "管理者アカウントでログインしてください。",
	}
}

// NewBadRequestError は不正なリクエストエラーを生成する。
func NewBadRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeBadRequest,
		Message:  fmt.Sprintf("不正なリクエストです: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}

// NewProviderNotFoundError は未設定のOAuthプロバイダーが指定された場合のエラーを生成する。
func NewProviderNotFoundError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeProviderNotFound,
		Message:  fmt.Sprintf("指定されたプロバイダーは利用できません: %s", provider),
		Category: "oauth",
		Action:   "google または kakao を指定してください。",
	}
}

// NewOAuthProviderError はプロバイダーが認可を拒否した場合のエラーを生成する。
func NewOAuthProviderError(detail string) *APIError {
	return &APIError{
		Code:     ErrCodeOAuthProviderError,
		Message:  fmt.Sprintf("OAuth認証エラー: %s", detail),
		Category: "oauth",
		Action:   "もう一度ログインをお試しください。",
	}
}

// NewOAuthExchangeError は認可コードの交換失敗エラーを生成する。
// statusが0の場合は通信自体に失敗したことを示す。
func NewOAuthExchangeError(status int, body string) *APIError {
	return &APIError{
		Code:           ErrCodeOAuthExchangeError,
		Message:        fmt.Sprintf("トークン交換に失敗しました: %s", body),
		Category:       "oauth",
		Action:         "もう一度ログインをお試しください。",
		UpstreamStatus: status,
	}
}

// NewOAuthProfileError はプロフィール取得失敗エラーを生成する。
func NewOAuthProfileError(status int, body string) *APIError {
	return &APIError{
		Code:           ErrCodeOAuthProfileError,
		Message:        fmt.Sprintf("ユーザー情報の取得に失敗しました: %s", body),
		Category:       "oauth",
		Action:         "もう一度ログインをお試しください。",
		UpstreamStatus: status,
	}
}

// NewConflictError は一意制約違反エラーを生成する。
func NewConflictError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeConflict,
		Message:  reason,
		Category: "validation",
		Action:   "別のメールアドレスでお試しください。",
	}
}

// NewInternalError は内部エラーを生成する。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
