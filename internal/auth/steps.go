package auth

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/mathviz/internal/model"
	"github.com/hitoshi/mathviz/internal/token"
)

// 識別情報のクレームが欠けている場合の既定値
const (
	defaultDisplayName = "User"
	defaultEmailDomain = "@example.com"
)

// TokenVerifier はアクセストークンを検証する。
type TokenVerifier interface {
	Verify(raw string) (*token.Claims, error)
}

// TokenIssuer はアクセストークンを発行する。
type TokenIssuer interface {
	Issue(subject string, ttl time.Duration, claims token.Claims) (string, error)
}

// TokenService はトークンの発行と検証の両方を行う。
type TokenService interface {
	TokenVerifier
	TokenIssuer
}

// LocalTokenStep は自サービス発行トークンを署名検証のみで解決する。
// ネットワーク呼び出しは行わない。
type LocalTokenStep struct {
	verifier TokenVerifier
}

// NewLocalTokenStep はLocalTokenStepを生成する。
func NewLocalTokenStep(verifier TokenVerifier) *LocalTokenStep {
	return &LocalTokenStep{verifier: verifier}
}

// Name はステップ名を返す。
func (s *LocalTokenStep) Name() string { return "local" }

// Resolve はトークンを検証する。
// 他発行元のトークンはNotApplicable、期限切れ等の自発行トークンはRejectedとなる。
func (s *LocalTokenStep) Resolve(_ context.Context, credential string) StepResult {
	claims, err := s.verifier.Verify(credential)
	if err != nil {
		if errors.Is(err, token.ErrNotIssuedHere) {
			return StepResult{Verdict: VerdictNotApplicable}
		}
		return StepResult{Verdict: VerdictRejected, Err: err}
	}
	return StepResult{Verdict: VerdictValid, Identity: identityFromClaims(claims)}
}

// identityFromClaims はクレームからUserIdentityを組み立てる。
// OAuthで発行したトークンはproviderクレームを引き継ぎ、それ以外はlocalとする。
func identityFromClaims(c *token.Claims) *model.UserIdentity {
	identity := &model.UserIdentity{
		ID:        c.Subject,
		Email:     c.Email,
		Name:      c.Name,
		AvatarURL: c.Picture,
		Role:      model.Role(c.Role),
		Provider:  model.ProviderLocal,
	}

	switch p := model.Provider(c.Provider); p {
	case model.ProviderGoogle, model.ProviderKakao:
		identity.Provider = p
	}
	if identity.Email == "" {
		identity.Email = identity.ID + defaultEmailDomain
	}
	if identity.Name == "" {
		identity.Name = defaultDisplayName
	}
	if identity.Role != model.RoleAdmin {
		identity.Role = model.RoleUser
	}
	return identity
}

// UserFetcher は外部IdPからアクセストークンの持ち主を取得する。
type UserFetcher interface {
	FetchUser(ctx context.Context, accessToken string) (*IDPUser, error)
}

// ExternalIDPStep は資格情報を外部IdPのユーザー情報エンドポイントに委譲して解決する。
type ExternalIDPStep struct {
	fetcher UserFetcher
}

// NewExternalIDPStep はExternalIDPStepを生成する。
func NewExternalIDPStep(fetcher UserFetcher) *ExternalIDPStep {
	return &ExternalIDPStep{fetcher: fetcher}
}

// Name はステップ名を返す。
func (s *ExternalIDPStep) Name() string { return "external" }

// Resolve は外部IdPに問い合わせる。200以外の応答と通信失敗はRejectedとなる。
func (s *ExternalIDPStep) Resolve(ctx context.Context, credential string) StepResult {
	user, err := s.fetcher.FetchUser(ctx, credential)
	if err != nil {
		return StepResult{Verdict: VerdictRejected, Err: err}
	}
	return StepResult{Verdict: VerdictValid, Identity: user.Identity()}
}

// compile-time interface check
var (
	_ Step = (*LocalTokenStep)(nil)
	_ Step = (*ExternalIDPStep)(nil)
)
