package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/mathviz/internal/metrics"
	"github.com/hitoshi/mathviz/internal/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	Resolver          middleware.IdentityResolver
	HTTPMetrics       middleware.HTTPMetricsRecorder // nilの場合は記録しない
	Gatherer          prometheus.Gatherer            // nilの場合は/metricsを公開しない

	// 認証
	Accounts AccountServiceInterface
	OAuth    OAuthCoordinatorInterface

	// ヘルスチェック
	Health HealthChecker
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → Metrics
//
// /auth/me は Auth、/admin/* は Auth → Admin を追加で通る。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.HTTPMetrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.HTTPMetrics))
	}

	authHandler := NewAuthHandler(deps.Accounts, deps.OAuth)
	adminHandler := NewAdminHandler()
	healthHandler := NewHealthHandler(deps.Health)

	r.Get("/health", healthHandler.Health)
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	// --- 認証不要のルート ---
	r.Route("/auth", func(r chi.Router) {
		r.Post("/token", authHandler.Token)
		r.Post("/signup", authHandler.SignUp)
		r.Post("/signin", authHandler.SignIn)
		r.Post("/validate-token", authHandler.ValidateToken)
		r.With(middleware.NewOptionalAuthMiddleware(deps.Resolver)).Post("/logout", authHandler.Logout)

		// OAuthフロー
		r.Get("/{provider}/authorize", authHandler.Authorize)
		r.Get("/{provider}/callback", authHandler.Callback)

		// --- 認証が必要なルート ---
		r.With(middleware.NewAuthMiddleware(deps.Resolver)).Get("/me", authHandler.Me)
	})

	// --- 管理者のみのルート ---
	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.Resolver))
		r.Use(middleware.NewAdminMiddleware())
		r.Get("/identity", adminHandler.Identity)
	})

	return r
}
