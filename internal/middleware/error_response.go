package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/mathviz/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code           string `json:"code"`
	Message        string `json:"message"`
	Category       string `json:"category"`
	Action         string `json:"action"`
	UpstreamStatus int    `json:"upstream_status,omitempty"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// 401の場合はWWW-Authenticateヘッダーを付与する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	if statusCode == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:           apiErr.Code,
		Message:        apiErr.Message,
		Category:       apiErr.Category,
		Action:         apiErr.Action,
		UpstreamStatus: apiErr.UpstreamStatus,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}

// WriteError はエラーをHTTPステータスに変換して書き込む。
// APIError以外のエラーは原因をログに記録し、内部エラーとして扱う。
func WriteError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		WriteErrorResponse(w, HTTPStatus(apiErr), apiErr)
		return
	}

	slog.Error("internal server error", slog.String("error", err.Error()))
	WriteInternalServerError(w)
}

// HTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
// OAuthの上流エラーは上流が4xxを返した場合のみ400とし、それ以外は502とする。
func HTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthenticated:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeBadRequest, model.ErrCodeOAuthProviderError:
		return http.StatusBadRequest
	case model.ErrCodeProviderNotFound:
		return http.StatusNotFound
	case model.ErrCodeOAuthExchangeError, model.ErrCodeOAuthProfileError:
		if apiErr.UpstreamStatus >= 400 && apiErr.UpstreamStatus < 500 {
			return http.StatusBadRequest
		}
		return http.StatusBadGateway
	case model.ErrCodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
