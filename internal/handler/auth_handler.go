// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/mathviz/internal/auth"
	"github.com/hitoshi/mathviz/internal/middleware"
	"github.com/hitoshi/mathviz/internal/model"
	"github.com/hitoshi/mathviz/internal/oauth"
	"github.com/hitoshi/mathviz/internal/token"
)

// AccountServiceInterface はパスワード認証系ハンドラーが必要とするサービスインターフェース。
type AccountServiceInterface interface {
	SignUp(ctx context.Context, in auth.SignUpInput) (*auth.AuthResult, error)
	SignIn(ctx context.Context, email, password string) (*auth.AuthResult, error)
	PasswordToken(ctx context.Context, username, password string) (*auth.AuthResult, error)
	ValidateToken(raw string) *token.Claims
}

// OAuthCoordinatorInterface はOAuthハンドラーが必要とするコーディネーターインターフェース。
type OAuthCoordinatorInterface interface {
	Start(ctx context.Context, provider string) (string, error)
	Callback(ctx context.Context, req oauth.CallbackRequest) (*oauth.CallbackResult, error)
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	accounts AccountServiceInterface
	oauth    OAuthCoordinatorInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(accounts AccountServiceInterface, coordinator OAuthCoordinatorInterface) *AuthHandler {
	return &AuthHandler{
		accounts: accounts,
		oauth:    coordinator,
	}
}

// signUpRequest はサインアップリクエストのボディ。
type signUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// signInRequest はサインインリクエストのボディ。
type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// validateTokenRequest はトークン検証リクエストのボディ。
type validateTokenRequest struct {
	Token string `json:"token"`
}

// userResponse は識別済みユーザーのAPIレスポンス。
type userResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Role      string `json:"role"`
	Provider  string `json:"provider"`
}

// authResponse はトークン発行のAPIレスポンス。
type authResponse struct {
	AccessToken string        `json:"access_token"`
	TokenType   string        `json:"token_type"`
	User        *userResponse `json:"user,omitempty"`
}

// validateTokenResponse はトークン検証のAPIレスポンス。
type validateTokenResponse struct {
	Valid   bool          `json:"valid"`
	Payload *token.Claims `json:"payload"`
}

// Authorize はプロバイダーの認可URLを返す。
// GET /auth/{provider}/authorize
func (h *AuthHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	authURL, err := h.oauth.Start(r.Context(), chi.URLParam(r, "provider"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"auth_url": authURL})
}

// Callback はOAuthコールバックを処理し、アクセストークンを返す。
// GET /auth/{provider}/callback?code=xxx&error=yyy&state=zzz
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := h.oauth.Callback(r.Context(), oauth.CallbackRequest{
		Provider: chi.URLParam(r, "provider"),
		Code:     q.Get("code"),
		Error:    q.Get("error"),
		State:    q.Get("state"),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, authResponse{
		AccessToken: result.AccessToken,
		TokenType:   result.TokenType,
		User:        toUserResponse(result.User),
	})
}

// Token はフォーム形式のユーザー名・パスワードでトークンを発行する。
// POST /auth/token
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		handleServiceError(w, model.NewBadRequestError("フォームの解析に失敗しました"))
		return
	}
	username := r.PostForm.Get("username")
	password := r.PostForm.Get("password")
	if username == "" || password == "" {
		handleServiceError(w, model.NewBadRequestError("usernameとpasswordは必須です"))
		return
	}

	result, err := h.accounts.PasswordToken(r.Context(), username, password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, authResponse{
		AccessToken: result.AccessToken,
		TokenType:   result.TokenType,
	})
}

// SignUp はローカルアカウントを作成し、トークンを発行する。
// POST /auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.accounts.SignUp(r.Context(), auth.SignUpInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAuthResponse(result))
}

// SignIn はメールアドレスとパスワードで認証し、トークンを発行する。
// POST /auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		handleServiceError(w, model.NewBadRequestError("emailとpasswordは必須です"))
		return
	}

	result, err := h.accounts.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAuthResponse(result))
}

// ValidateToken はトークンを検証し、有効ならペイロードを返す。
// 無効なトークンもエラーではなく valid=false として200で返す。
// POST /auth/validate-token
func (h *AuthHandler) ValidateToken(w http.ResponseWriter, r *http.Request) {
	var req validateTokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	claims := h.accounts.ValidateToken(req.Token)
	writeJSON(w, http.StatusOK, validateTokenResponse{
		Valid:   claims != nil,
		Payload: claims,
	})
}

// Logout はログアウトを確認する。
// サーバー側に状態はなく、クライアントがトークンを破棄する。
// 資格情報は任意で、識別できた場合のみログに残す。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if identity, ok := middleware.IdentityFromContext(r.Context()); ok {
		slog.Info("user logged out",
			slog.String("user_id", identity.ID),
			slog.String("provider", string(identity.Provider)),
		)
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// Me は現在の識別済みユーザーを返す。
// NewAuthMiddlewareの後に配置する。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		handleServiceError(w, model.NewUnauthenticatedError())
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(identity))
}

func toAuthResponse(result *auth.AuthResult) authResponse {
	return authResponse{
		AccessToken: result.AccessToken,
		TokenType:   result.TokenType,
		User:        toUserResponse(result.User),
	}
}

func toUserResponse(identity *model.UserIdentity) *userResponse {
	if identity == nil {
		return nil
	}
	return &userResponse{
		ID:        identity.ID,
		Email:     identity.Email,
		Name:      identity.Name,
		AvatarURL: identity.AvatarURL,
		Role:      string(identity.Role),
		Provider:  string(identity.Provider),
	}
}

// decodeJSON はリクエストボディをデコードする。
// 失敗時は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		handleServiceError(w, model.NewBadRequestError("リクエストボディの解析に失敗しました"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// handleServiceError はサービス層から返されたエラーを統一エラーフォーマットで書き込む。
func handleServiceError(w http.ResponseWriter, err error) {
	middleware.WriteError(w, err)
}
