package oauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/mathviz/internal/auth"
	"github.com/hitoshi/mathviz/internal/model"
	"github.com/hitoshi/mathviz/internal/repository"
	"github.com/hitoshi/mathviz/internal/token"
	"golang.org/x/oauth2"
)

const (
	defaultTimeout     = 10 * time.Second
	maxProfileBodySize = 1 << 20
)

// DirectoryUpserter はOAuthユーザーをディレクトリに登録する。
type DirectoryUpserter interface {
	Upsert(ctx context.Context, entry *model.DirectoryEntry) (*model.DirectoryEntry, bool, error)
}

// CallbackRecorder はコールバックの結果を記録する。
type CallbackRecorder interface {
	RecordOAuthCallback(provider, outcome string)
}

// CoordinatorConfig はCoordinatorの設定。
type CoordinatorConfig struct {
	Registry  *Registry
	Directory DirectoryUpserter
	Tokens    auth.TokenIssuer
	BaseURL   string // リダイレクトURIの生成に使う

	HTTPClient *http.Client
	Timeout    time.Duration

	// nilの場合はstateの検証を行わない
	States StateStore

	Recorder CallbackRecorder
}

// CallbackRequest はプロバイダーからのコールバックパラメータ。
type CallbackRequest struct {
	Provider string
	Code     string
	Error    string
	State    string
}

// CallbackResult はコールバック処理の結果。
type CallbackResult struct {
	AccessToken string
	TokenType   string
	User        *model.UserIdentity
	Created     bool // ディレクトリに新規登録した場合true
}

// Coordinator はOAuth認可コードフローを処理する。
type Coordinator struct {
	registry  *Registry
	directory DirectoryUpserter
	tokens    auth.TokenIssuer
	baseURL   string
	client    *http.Client
	timeout   time.Duration
	states    StateStore
	recorder  CallbackRecorder
	now       func() time.Time
}

// NewCoordinator はCoordinatorを生成する。
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Coordinator{
		registry:  cfg.Registry,
		directory: cfg.Directory,
		tokens:    cfg.Tokens,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		client:    client,
		timeout:   timeout,
		states:    cfg.States,
		recorder:  cfg.Recorder,
		now:       time.Now,
	}
}

// RedirectURL はプロバイダーのコールバックURLを返す。
func (c *Coordinator) RedirectURL(provider string) string {
	return c.baseURL + "/auth/" + provider + "/callback"
}

// Start は認可URLを返す。
// stateの検証が有効な場合はstateを発行して保存する。
func (c *Coordinator) Start(ctx context.Context, provider string) (string, error) {
	p, err := c.registry.Lookup(provider)
	if err != nil {
		return "", model.NewProviderNotFoundError(provider)
	}

	var state string
	if c.states != nil {
		state, err = NewState()
		if err != nil {
			return "", err
		}
		if err := c.states.Save(ctx, state, provider); err != nil {
			return "", fmt.Errorf("failed to save state: %w", err)
		}
	}

	return p.oauth2Config(c.RedirectURL(provider)).AuthCodeURL(state, p.AuthOptions...), nil
}

// Callback は認可コードを交換し、ユーザーをディレクトリに登録してアクセストークンを発行する。
// ディレクトリへの書き込みはプロフィールの取得と正規化が成功した後にのみ行う。
func (c *Coordinator) Callback(ctx context.Context, req CallbackRequest) (*CallbackResult, error) {
	res, err := c.callback(ctx, req)
	c.record(req.Provider, err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Coordinator) callback(ctx context.Context, req CallbackRequest) (*CallbackResult, error) {
	p, err := c.registry.Lookup(req.Provider)
	if err != nil {
		return nil, model.NewProviderNotFoundError(req.Provider)
	}

	if req.Error != "" {
		return nil, model.NewOAuthProviderError(req.Error)
	}
	if req.Code == "" {
		return nil, model.NewBadRequestError("認可コードが指定されていません")
	}
	if err := c.checkState(ctx, req); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	accessToken, err := c.exchange(ctx, p, req.Code)
	if err != nil {
		return nil, err
	}

	profile, err := c.fetchProfile(ctx, p, accessToken)
	if err != nil {
		return nil, err
	}

	entryID := p.Name + "_" + profile.ProviderUserID
	email := strings.ToLower(profile.Email)
	if email == "" {
		return nil, model.NewOAuthProfileError(http.StatusOK, "メールアドレスを取得できませんでした")
	}

	digest, err := auth.UnusablePasswordDigest()
	if err != nil {
		return nil, err
	}
	stored, created, err := c.directory.Upsert(ctx, &model.DirectoryEntry{
		ID:             entryID,
		Email:          email,
		Name:           profile.Name,
		PasswordDigest: digest,
		Role:           model.RoleUser,
		CreatedAt:      c.now(),
	})
	if err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return nil, model.NewConflictError("このメールアドレスは別のアカウントで登録されています。")
		}
		return nil, fmt.Errorf("failed to upsert directory entry: %w", err)
	}
	if created {
		slog.Info("oauth user registered",
			slog.String("provider", p.Name),
			slog.String("user_id", stored.ID),
		)
	}

	// email・nameは保存済みエントリの値を使う
	signed, err := c.tokens.Issue(stored.ID, 0, token.Claims{
		Email:    stored.Email,
		Name:     stored.Name,
		Picture:  profile.AvatarURL,
		Provider: p.Name,
		Role:     string(stored.Role),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	return &CallbackResult{
		AccessToken: signed,
		TokenType:   auth.TokenTypeBearer,
		User: &model.UserIdentity{
			ID:        stored.ID,
			Email:     stored.Email,
			Name:      stored.Name,
			AvatarURL: profile.AvatarURL,
			Role:      stored.Role,
			Provider:  model.Provider(p.Name),
		},
		Created: created,
	}, nil
}

// checkState はstateを一度だけ消費し、発行時のプロバイダーと一致することを確認する。
func (c *Coordinator) checkState(ctx context.Context, req CallbackRequest) error {
	if c.states == nil {
		return nil
	}
	if req.State == "" {
		return model.NewBadRequestError("stateが指定されていません")
	}
	provider, ok, err := c.states.Consume(ctx, req.State)
	if err != nil {
		return fmt.Errorf("failed to consume state: %w", err)
	}
	if !ok || provider != req.Provider {
		return model.NewBadRequestError("stateが不正または期限切れです")
	}
	return nil
}

// exchange は認可コードをアクセストークンに交換する。
func (c *Coordinator) exchange(ctx context.Context, p *Provider, code string) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.client)

	tok, err := p.oauth2Config(c.RedirectURL(p.Name)).Exchange(ctx, code)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil {
			return "", model.NewOAuthExchangeError(rerr.Response.StatusCode, string(rerr.Body))
		}
		slog.Warn("oauth token exchange failed",
			slog.String("provider", p.Name),
			slog.String("error", err.Error()),
		)
		return "", model.NewOAuthExchangeError(0, "プロバイダーに接続できませんでした")
	}
	return tok.AccessToken, nil
}

// fetchProfile はアクセストークンでプロフィールを取得し、正規化する。
func (c *Coordinator) fetchProfile(ctx context.Context, p *Provider, accessToken string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.ProfileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		slog.Warn("oauth profile request failed",
			slog.String("provider", p.Name),
			slog.String("error", err.Error()),
		)
		return nil, model.NewOAuthProfileError(0, "プロバイダーに接続できませんでした")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBodySize))
	if err != nil {
		return nil, model.NewOAuthProfileError(0, "応答を読み込めませんでした")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, model.NewOAuthProfileError(resp.StatusCode, string(body))
	}

	profile, err := p.Normalize(body)
	if err != nil {
		slog.Warn("oauth profile normalization failed",
			slog.String("provider", p.Name),
			slog.String("error", err.Error()),
		)
		return nil, model.NewOAuthProfileError(resp.StatusCode, "ユーザーIDを取得できませんでした")
	}
	return profile, nil
}

func (c *Coordinator) record(provider string, err error) {
	if c.recorder == nil {
		return
	}
	if _, err := c.registry.Lookup(provider); err != nil {
		provider = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = model.ErrCodeInternal
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			outcome = apiErr.Code
		}
		outcome = strings.ToLower(outcome)
	}
	c.recorder.RecordOAuthCallback(provider, outcome)
}
