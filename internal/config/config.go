package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Token
	JWTSecret      string        `env:"JWT_SECRET"`
	JWTAlgorithm   string        `env:"JWT_ALGORITHM" envDefault:"HS256"`
	JWTIssuer      string        `env:"JWT_ISSUER" envDefault:"mathviz"`
	AccessTokenTTL time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"60m"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL" envDefault:"http://localhost:8080"`

	// Database（空の場合はインメモリのディレクトリを使う）
	DatabaseURL string `env:"DATABASE_URL"`

	// OAuth
	GoogleClientID     string        `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string        `env:"GOOGLE_CLIENT_SECRET"`
	KakaoClientID      string        `env:"KAKAO_CLIENT_ID"`
	KakaoClientSecret  string        `env:"KAKAO_CLIENT_SECRET"`
	OAuthStateCheck    bool          `env:"OAUTH_STATE_CHECK" envDefault:"false"`
	OAuthStateTTL      time.Duration `env:"OAUTH_STATE_TTL" envDefault:"10m"`
	RedisURL           string        `env:"REDIS_URL"`

	// External identity service
	IDPURL          string        `env:"IDP_URL"`
	IDPAPIKey       string        `env:"IDP_API_KEY"`
	ExternalTimeout time.Duration `env:"EXTERNAL_TIMEOUT" envDefault:"10s"`

	// Accounts
	SeedDemoAccounts bool `env:"SEED_DEMO_ACCOUNTS" envDefault:"true"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:3000"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

var supportedAlgorithms = map[string]bool{
	"HS256": true,
	"HS384": true,
	"HS512": true,
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	var missing []string
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}
	if cfg.GoogleClientID != "" && cfg.GoogleClientSecret == "" {
		missing = append(missing, "GOOGLE_CLIENT_SECRET")
	}
	if cfg.IDPURL != "" && cfg.IDPAPIKey == "" {
		missing = append(missing, "IDP_API_KEY")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if !supportedAlgorithms[cfg.JWTAlgorithm] {
		return nil, fmt.Errorf("unsupported JWT_ALGORITHM: %s", cfg.JWTAlgorithm)
	}
	if cfg.AccessTokenTTL <= 0 {
		return nil, fmt.Errorf("ACCESS_TOKEN_TTL must be positive: %s", cfg.AccessTokenTTL)
	}
	if cfg.ExternalTimeout <= 0 {
		return nil, fmt.Errorf("EXTERNAL_TIMEOUT must be positive: %s", cfg.ExternalTimeout)
	}
	if cfg.OAuthStateTTL <= 0 {
		return nil, fmt.Errorf("OAUTH_STATE_TTL must be positive: %s", cfg.OAuthStateTTL)
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	return cfg, nil
}

// GoogleEnabled はGoogleプロバイダーを登録するかどうかを返す。
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != ""
}

// KakaoEnabled はKakaoプロバイダーを登録するかどうかを返す。
// Kakaoはクライアントシークレットを任意とする。
func (c *Config) KakaoEnabled() bool {
	return c.KakaoClientID != ""
}

// ExternalIdentityEnabled は外部識別サービスを利用するかどうかを返す。
func (c *Config) ExternalIdentityEnabled() bool {
	return c.IDPURL != ""
}
