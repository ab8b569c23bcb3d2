// Package token は自己署名アクセストークンの発行と検証を提供する。
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken はトークン検証失敗を表す。
	// 署名不正・形式不正・期限切れを区別しない。
	ErrInvalidToken = errors.New("invalid token")

	// ErrNotIssuedHere はこのサービスが発行したものではないトークンを表す。
	// ErrInvalidToken と併せてラップされ、識別解決のフォールバック判定にのみ使う。
	ErrNotIssuedHere = errors.New("token not issued by this service")
)

// Claims はアクセストークンのペイロード。
type Claims struct {
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	Role     string `json:"role,omitempty"`
	Provider string `json:"provider,omitempty"`
	Picture  string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// Config はトークンサービスの設定。
type Config struct {
	Secret    string
	Algorithm string // HS256, HS384, HS512
	Issuer    string
	TTL       time.Duration // Issueでttlを省略した場合の有効期間
}

// Option はServiceのオプション設定。
type Option func(*Service)

// WithClock は現在時刻の取得関数を差し替える。テスト用。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service はHMAC署名のJWTを発行・検証する。
// 起動後は読み取り専用で、並行利用できる。
type Service struct {
	secret []byte
	method jwt.SigningMethod
	issuer string
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// NewService はServiceを生成する。
// HMAC以外のアルゴリズムや空のシークレットはエラーとする。
func NewService(cfg Config, opts ...Option) (*Service, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("token secret must not be empty")
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = jwt.SigningMethodHS256.Alg()
	}
	method, ok := jwt.GetSigningMethod(cfg.Algorithm).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported signing algorithm: %s", cfg.Algorithm)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 60 * time.Minute
	}

	s := &Service{
		secret: []byte(cfg.Secret),
		method: method,
		issuer: cfg.Issuer,
		ttl:    cfg.TTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	return s, nil
}

// Issue はsubjectとclaimsを埋め込んだトークンを署名して返す。
// ttlが0以下の場合は設定の既定値を使う。
func (s *Service) Issue(subject string, ttl time.Duration, claims Claims) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("token subject must not be empty")
	}
	if ttl <= 0 {
		ttl = s.ttl
	}

	now := s.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	signed, err := jwt.NewWithClaims(s.method, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify はトークンを検証し、クレームを返す。
// 失敗時は必ずErrInvalidTokenをラップしたエラーを返す。
// 他サービスが発行したと判断できる場合はErrNotIssuedHereも併せてラップする。
func (s *Service) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := s.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		if s.isForeign(err, claims) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidToken, ErrNotIssuedHere)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

// isForeign は検証エラーが他発行元のトークンによるものかを判定する。
// 署名が一致しても期限切れ等の場合は自サービス発行として扱う。
func (s *Service) isForeign(err error, claims *Claims) bool {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return true
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return claims.Issuer != s.issuer
	default:
		return false
	}
}
