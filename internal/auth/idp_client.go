package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/mathviz/internal/model"
)

// maxIDPBodySize はIdP応答として読み込む最大バイト数。
const maxIDPBodySize = 1 << 20

// ErrIDPRejected はIdPが200以外のステータスを返したことを表す。
var ErrIDPRejected = errors.New("identity provider rejected request")

// IDPStatusError はIdPが返した非成功レスポンス。
type IDPStatusError struct {
	StatusCode int
	Body       string
}

// Error はerrorインターフェースを実装する。
func (e *IDPStatusError) Error() string {
	return fmt.Sprintf("identity provider returned status %d: %s", e.StatusCode, e.Body)
}

// Unwrap はErrIDPRejectedを返す。
func (e *IDPStatusError) Unwrap() error {
	return ErrIDPRejected
}

// IDPConfig は外部IdPクライアントの設定。
type IDPConfig struct {
	BaseURL string // 例: https://xxxx.supabase.co
	APIKey  string
	Timeout time.Duration

	// テスト用に差し替え可能なHTTPクライアント
	HTTPClient *http.Client
}

// IDPClient は外部IdP（/auth/v1 API）のクライアント。
type IDPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewIDPClient はIDPClientを生成する。
func NewIDPClient(cfg IDPConfig) *IDPClient {
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &IDPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  client,
	}
}

// IDPUser はIdPのユーザー情報エンドポイントの応答。
type IDPUser struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	IsAdmin      bool   `json:"is_admin"`
	UserMetadata struct {
		Name      string `json:"name"`
		FullName  string `json:"full_name"`
		AvatarURL string `json:"avatar_url"`
	} `json:"user_metadata"`
	AppMetadata struct {
		IsAdmin bool   `json:"is_admin"`
		Role    string `json:"role"`
	} `json:"app_metadata"`
}

// Identity はIdPユーザーをexternal-delegatedのUserIdentityに変換する。
// ロールは常にuserとし、管理者権限はAdminFlagでのみ表す。
func (u *IDPUser) Identity() *model.UserIdentity {
	name := u.UserMetadata.Name
	if name == "" {
		name = u.UserMetadata.FullName
	}
	if name == "" {
		name = defaultDisplayName
	}
	return &model.UserIdentity{
		ID:        u.ID,
		Email:     u.Email,
		Name:      name,
		AvatarURL: u.UserMetadata.AvatarURL,
		Role:      model.RoleUser,
		Provider:  model.ProviderExternal,
		AdminFlag: u.IsAdmin || u.AppMetadata.IsAdmin || u.AppMetadata.Role == string(model.RoleAdmin),
	}
}

// IDPSession はIdPのパスワードグラントの応答。
type IDPSession struct {
	AccessToken  string  `json:"access_token"`
	TokenType    string  `json:"token_type"`
	ExpiresIn    int     `json:"expires_in"`
	RefreshToken string  `json:"refresh_token"`
	User         IDPUser `json:"user"`
}

// FetchUser はアクセストークンの持ち主をIdPに問い合わせる。
// GET {base}/auth/v1/user
func (c *IDPClient) FetchUser(ctx context.Context, accessToken string) (*IDPUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var user IDPUser
	if err := c.do(req, &user); err != nil {
		return nil, err
	}
	if user.ID == "" {
		return nil, fmt.Errorf("empty id in identity provider user response")
	}
	return &user, nil
}

// PasswordGrant はメールアドレスとパスワードでIdPにログインする。
// POST {base}/auth/v1/token?grant_type=password
func (c *IDPClient) PasswordGrant(ctx context.Context, email, password string) (*IDPSession, error) {
	endpoint := c.baseURL + "/auth/v1/token?" + url.Values{"grant_type": {"password"}}.Encode()
	req, err := c.newJSONRequest(ctx, endpoint, map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}

	var session IDPSession
	if err := c.do(req, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// SignUp はIdPにアカウントを作成する。
// POST {base}/auth/v1/signup
func (c *IDPClient) SignUp(ctx context.Context, email, password, name string) error {
	req, err := c.newJSONRequest(ctx, c.baseURL+"/auth/v1/signup", map[string]any{
		"email":    email,
		"password": password,
		"data":     map[string]string{"name": name},
	})
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *IDPClient) newJSONRequest(ctx context.Context, endpoint string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// do はapikeyヘッダーを付与してリクエストを送り、200の応答をoutにデコードする。
func (c *IDPClient) do(req *http.Request, out any) error {
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("identity provider request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxIDPBodySize))
	if err != nil {
		return fmt.Errorf("failed to read identity provider response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &IDPStatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse identity provider response: %w", err)
	}
	return nil
}

// compile-time interface check
var (
	_ UserFetcher      = (*IDPClient)(nil)
	_ ExternalAccounts = (*IDPClient)(nil)
)
