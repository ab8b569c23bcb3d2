// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/hitoshi/mathviz/internal/auth"
	"github.com/hitoshi/mathviz/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// identityContextKey はリクエストコンテキストに識別済みユーザーを格納するためのキー。
var identityContextKey = contextKey("identity")

// IdentityResolver はBearer資格情報から呼び出し元を識別する。
// auth.Resolverの部分集合として定義する。
type IdentityResolver interface {
	Resolve(ctx context.Context, credential string) (*model.UserIdentity, error)
	ResolveOptional(ctx context.Context, credential string) (*model.UserIdentity, error)
}

// BearerCredential はAuthorizationヘッダーからBearer資格情報を取り出す。
// ヘッダーがない、またはスキームがBearerでない場合は空文字を返す。
func BearerCredential(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, credential, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(credential)
}

// NewAuthMiddleware はBearer資格情報を必須とするミドルウェアを返す。
// 識別済みユーザーをリクエストコンテキストに注入する。
// 識別できないリクエストには401を返す。
func NewAuthMiddleware(resolver IdentityResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := resolver.Resolve(r.Context(), BearerCredential(r))
			if err != nil {
				WriteError(w, err)
				return
			}

			setLoggedUserID(r.Context(), identity.ID)
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
		})
	}
}

// NewOptionalAuthMiddleware は資格情報があれば識別し、なければそのまま通すミドルウェアを返す。
func NewOptionalAuthMiddleware(resolver IdentityResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := resolver.ResolveOptional(r.Context(), BearerCredential(r))
			if err != nil {
				WriteError(w, err)
				return
			}
			if identity == nil {
				next.ServeHTTP(w, r)
				return
			}

			setLoggedUserID(r.Context(), identity.ID)
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
		})
	}
}

// NewAdminMiddleware は管理者のみを通すミドルウェアを返す。
// NewAuthMiddlewareの後に適用する。
func NewAdminMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, _ := IdentityFromContext(r.Context())
			if err := auth.Admit(identity); err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IdentityFromContext はリクエストコンテキストから識別済みユーザーを取得する。
func IdentityFromContext(ctx context.Context) (*model.UserIdentity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*model.UserIdentity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

// ContextWithIdentity はコンテキストに識別済みユーザーを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithIdentity(ctx context.Context, identity *model.UserIdentity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}
