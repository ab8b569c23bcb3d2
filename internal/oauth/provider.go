// Package oauth はGoogle・KakaoのOAuth 2.0認可コードフローを提供する。
package oauth

import (
	"encoding/json"
	"fmt"

	"golang.org/x/oauth2"
)

// 既定のエンドポイント
const (
	googleAuthURL    = "https://accounts.google.com/o/oauth2/v2/auth"
	googleTokenURL   = "https://oauth2.googleapis.com/token"
	googleProfileURL = "https://www.googleapis.com/oauth2/v2/userinfo"

	kakaoAuthURL    = "https://kauth.kakao.com/oauth/authorize"
	kakaoTokenURL   = "https://kauth.kakao.com/oauth/token"
	kakaoProfileURL = "https://kapi.kakao.com/v2/user/me"
)

// 名前が取得できない場合の表示名
const (
	defaultName      = "User"
	defaultKakaoName = "Kakao User"
)

// Profile はプロバイダーのユーザー情報を正規化したもの。
type Profile struct {
	ProviderUserID string
	Email          string // 空の場合はコーディネーターが合成する
	Name           string
	AvatarURL      string
}

// Normalizer はプロフィールエンドポイントの応答をProfileに変換する。
type Normalizer func(body []byte) (*Profile, error)

// Provider はOAuthプロバイダーの設定。
type Provider struct {
	Name         string
	ClientID     string
	ClientSecret string
	Scopes       []string

	AuthURL    string
	TokenURL   string
	ProfileURL string

	// 認可URLに追加するパラメータ
	AuthOptions []oauth2.AuthCodeOption

	Normalize Normalizer
}

// oauth2Config はredirectURLを設定したoauth2.Configを返す。
// クライアント認証情報はフォームパラメータで送る。
func (p *Provider) oauth2Config(redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		RedirectURL:  redirectURL,
		Scopes:       p.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   p.AuthURL,
			TokenURL:  p.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// GoogleProvider はGoogleのProviderを生成する。
// オフラインアクセスと同意画面の再表示を要求する。
func GoogleProvider(clientID, clientSecret string) *Provider {
	return &Provider{
		Name:         "google",
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       []string{"email", "profile"},
		AuthURL:      googleAuthURL,
		TokenURL:     googleTokenURL,
		ProfileURL:   googleProfileURL,
		AuthOptions:  []oauth2.AuthCodeOption{oauth2.AccessTypeOffline, oauth2.ApprovalForce},
		Normalize:    normalizeGoogle,
	}
}

// KakaoProvider はKakaoのProviderを生成する。スコープは指定しない。
func KakaoProvider(clientID, clientSecret string) *Provider {
	return &Provider{
		Name:         "kakao",
		ClientID:     clientID,
		ClientSecret: clientSecret,
		AuthURL:      kakaoAuthURL,
		TokenURL:     kakaoTokenURL,
		ProfileURL:   kakaoProfileURL,
		Normalize:    normalizeKakao,
	}
}

// googleUserInfo はGoogleのuserinfo v2エンドポイントの応答。
type googleUserInfo struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// normalizeGoogle はGoogleの応答を正規化する。
// メールアドレスがない場合は google_<id>@google.user を合成する。
func normalizeGoogle(body []byte) (*Profile, error) {
	var info googleUserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse google profile: %w", err)
	}
	if info.ID == "" {
		return nil, fmt.Errorf("empty id in google profile")
	}

	email := info.Email
	if email == "" {
		email = fmt.Sprintf("google_%s@google.user", info.ID)
	}
	name := info.Name
	if name == "" {
		name = defaultName
	}
	return &Profile{
		ProviderUserID: info.ID,
		Email:          email,
		Name:           name,
		AvatarURL:      info.Picture,
	}, nil
}

// kakaoUser はKakaoの/v2/user/meエンドポイントの応答。idは数値。
type kakaoUser struct {
	ID           json.Number `json:"id"`
	KakaoAccount struct {
		Email   string `json:"email"`
		Profile struct {
			Nickname        string `json:"nickname"`
			ProfileImageURL string `json:"profile_image_url"`
		} `json:"profile"`
	} `json:"kakao_account"`
}

// normalizeKakao はKakaoの応答を正規化する。
// メールアドレスがない場合は kakao_<id>@kakao.user を合成する。
func normalizeKakao(body []byte) (*Profile, error) {
	var user kakaoUser
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("failed to parse kakao profile: %w", err)
	}
	id := user.ID.String()
	if id == "" {
		return nil, fmt.Errorf("empty id in kakao profile")
	}

	email := user.KakaoAccount.Email
	if email == "" {
		email = fmt.Sprintf("kakao_%s@kakao.user", id)
	}
	name := user.KakaoAccount.Profile.Nickname
	if name == "" {
		name = defaultKakaoName
	}
	return &Profile{
		ProviderUserID: id,
		Email:          email,
		Name:           name,
		AvatarURL:      user.KakaoAccount.Profile.ProfileImageURL,
	}, nil
}
