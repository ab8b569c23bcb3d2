package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/mathviz/internal/auth"
	"github.com/hitoshi/mathviz/internal/config"
	"github.com/hitoshi/mathviz/internal/database"
	"github.com/hitoshi/mathviz/internal/handler"
	"github.com/hitoshi/mathviz/internal/logger"
	"github.com/hitoshi/mathviz/internal/metrics"
	"github.com/hitoshi/mathviz/internal/oauth"
	"github.com/hitoshi/mathviz/internal/repository"
	"github.com/hitoshi/mathviz/internal/token"
	"github.com/hitoshi/mathviz/internal/worker/cleanup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

// 依存先への疎通確認のタイムアウト
const connectTimeout = 5 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再構成する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// application はワイヤリング済みの依存関係を保持する。
type application struct {
	router  http.Handler
	jobs    []*cleanup.CleanupJob
	closers []func() error
}

// Close は開いた接続を逆順に閉じる。
func (a *application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// newApplication は設定から全依存関係をワイヤリングする。
// DATABASE_URLが空の場合はインメモリのディレクトリを使う。
func newApplication(ctx context.Context, cfg *config.Config) (*application, error) {
	a := &application{}

	// 1. ディレクトリ
	var (
		directory repository.DirectoryRepository
		health    handler.HealthChecker
	)
	if cfg.DatabaseURL != "" {
		db, err := openDirectoryDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		directory = repository.NewPostgresDirectoryRepo(db)
		health = db
	} else {
		slog.Warn("DATABASE_URL is not set; using in-memory directory")
		directory = repository.NewMemoryDirectoryRepo()
	}

	hasher := auth.NewBcryptHasher(bcrypt.DefaultCost)
	if cfg.SeedDemoAccounts {
		if err := auth.SeedDemoAccounts(ctx, directory, hasher); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to seed demo accounts: %w", err)
		}
	}

	// 2. トークン
	tokens, err := token.NewService(token.Config{
		Secret:    cfg.JWTSecret,
		Algorithm: cfg.JWTAlgorithm,
		Issuer:    cfg.JWTIssuer,
		TTL:       cfg.AccessTokenTTL,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create token service: %w", err)
	}

	// 3. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 4. 識別解決とアカウント
	steps := []auth.Step{auth.NewLocalTokenStep(tokens)}
	var external auth.ExternalAccounts
	if cfg.ExternalIdentityEnabled() {
		idp := auth.NewIDPClient(auth.IDPConfig{
			BaseURL: cfg.IDPURL,
			APIKey:  cfg.IDPAPIKey,
			Timeout: cfg.ExternalTimeout,
		})
		steps = append(steps, auth.NewExternalIDPStep(idp))
		external = idp
	}
	resolver := auth.NewResolver(collector, steps...)
	accounts := auth.NewAccountService(directory, hasher, tokens, external)

	// 5. OAuth
	registry, err := newProviderRegistry(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	states, err := newStateStore(ctx, cfg, a)
	if err != nil {
		a.Close()
		return nil, err
	}
	coordinator := oauth.NewCoordinator(oauth.CoordinatorConfig{
		Registry:   registry,
		Directory:  directory,
		Tokens:     tokens,
		BaseURL:    cfg.BaseURL,
		HTTPClient: &http.Client{Timeout: cfg.ExternalTimeout},
		Timeout:    cfg.ExternalTimeout,
		States:     states,
		Recorder:   collector,
	})

	slog.Info("authentication configured",
		slog.Any("oauth_providers", registry.Names()),
		slog.Bool("external_identity", cfg.ExternalIdentityEnabled()),
		slog.Bool("oauth_state_check", states != nil),
	)

	// 6. ルーター
	a.router = handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		Resolver:          resolver,
		HTTPMetrics:       collector,
		Gatherer:          reg,
		Accounts:          accounts,
		OAuth:             coordinator,
		Health:            health,
	})

	return a, nil
}

// openDirectoryDB はDBに接続し、未適用のマイグレーションを適用する。
func openDirectoryDB(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := database.Connect(ctx, databaseURL, connectTimeout)
	if err != nil {
		return nil, err
	}
	slog.Info("database connection established")

	version, err := database.RunMigrations(databaseURL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	slog.Info("database schema ready", slog.Uint64("version", uint64(version)))

	return db, nil
}

// newProviderRegistry はクライアントIDが設定されたプロバイダーだけを登録する。
func newProviderRegistry(cfg *config.Config) (*oauth.Registry, error) {
	var providers []*oauth.Provider
	if cfg.GoogleEnabled() {
		providers = append(providers, oauth.GoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret))
	}
	if cfg.KakaoEnabled() {
		providers = append(providers, oauth.KakaoProvider(cfg.KakaoClientID, cfg.KakaoClientSecret))
	}
	registry, err := oauth.NewRegistry(providers...)
	if err != nil {
		return nil, fmt.Errorf("failed to register oauth providers: %w", err)
	}
	return registry, nil
}

// newStateStore はOAUTH_STATE_CHECKが有効な場合にstateストアを返す。
// REDIS_URLが設定されていればRedis、なければプロセス内メモリに保存する。
func newStateStore(ctx context.Context, cfg *config.Config, a *application) (oauth.StateStore, error) {
	if !cfg.OAuthStateCheck {
		return nil, nil
	}
	if cfg.RedisURL == "" {
		store := oauth.NewMemoryStateStore(cfg.OAuthStateTTL)
		a.jobs = append(a.jobs, cleanup.NewCleanupJob("oauth_state", store, slog.Default()))
		return store, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.closers = append(a.closers, rdb.Close)
	slog.Info("redis connection established")

	return oauth.NewRedisStateStore(rdb, cfg.OAuthStateTTL), nil
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	a, err := newApplication(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      a.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()
	for _, job := range a.jobs {
		go job.Start(jobCtx)
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	case <-stop:
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("migrate requires DATABASE_URL")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
