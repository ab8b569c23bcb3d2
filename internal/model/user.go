// Package model はドメインモデルを定義する。
package model

import "time"

// Provider はユーザーを認証した経路を表す。
type Provider string

const (
	ProviderLocal    Provider = "local"
	ProviderGoogle   Provider = "google"
	ProviderKakao    Provider = "kakao"
	ProviderExternal Provider = "external-delegated"
)

// Role はユーザーの権限ロール。
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// UserIdentity はリクエストごとに再構築される認証済みユーザー。
// 永続化はしない。
type UserIdentity struct {
	ID        string
	Email     string
	Name      string
	AvatarURL string // 任意
	Role      Role
	Provider  Provider
	// AdminFlag は外部IdPが付与した管理者フラグ。
	// ProviderExternal の場合のみ意味を持つ。
	AdminFlag bool
}

// DirectoryEntry はユーザーディレクトリの1レコード。
// サインアップまたは初回OAuthログインで作成され、更新・削除はされない。
type DirectoryEntry struct {
	ID             string
	Email          string // ディレクトリ内で一意
	Name           string
	PasswordDigest string
	Role           Role
	CreatedAt      time.Time
}

// Identity はエントリからUserIdentityを組み立てる。
func (e *DirectoryEntry) Identity(provider Provider) *UserIdentity {
	return &UserIdentity{
		ID:       e.ID,
		Email:    e.Email,
		Name:     e.Name,
		Role:     e.Role,
		Provider: provider,
	}
}
