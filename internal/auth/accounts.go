package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/mathviz/internal/model"
	"github.com/hitoshi/mathviz/internal/repository"
	"github.com/hitoshi/mathviz/internal/token"
)

// TokenTypeBearer はレスポンスのtoken_typeに返す値。
const TokenTypeBearer = "bearer"

// ExternalAccounts は外部IdPのパスワードアカウント操作。
type ExternalAccounts interface {
	PasswordGrant(ctx context.Context, email, password string) (*IDPSession, error)
	SignUp(ctx context.Context, email, password, name string) error
}

// AuthResult はログイン・サインアップの結果。
type AuthResult struct {
	AccessToken string
	TokenType   string
	User        *model.UserIdentity
}

// SignUpInput はサインアップの入力。
type SignUpInput struct {
	Email    string
	Password string
	Name     string // 任意
}

// AccountService はパスワードによるローカルアカウントを扱う。
type AccountService struct {
	repo     repository.DirectoryRepository
	hasher   PasswordHasher
	tokens   TokenService
	external ExternalAccounts // nilの場合は外部IdPへのフォールバック・ミラーリングを行わない
	now      func() time.Time
}

// NewAccountService はAccountServiceを生成する。
func NewAccountService(
	repo repository.DirectoryRepository,
	hasher PasswordHasher,
	tokens TokenService,
	external ExternalAccounts,
) *AccountService {
	return &AccountService{
		repo:     repo,
		hasher:   hasher,
		tokens:   tokens,
		external: external,
		now:      time.Now,
	}
}

// SignUp はローカルアカウントを作成し、アクセストークンを発行する。
// 既に登録済みのメールアドレスはConflictとなる。
// 外部IdPが設定されている場合はアカウントをミラーするが、失敗してもローカルの結果を返す。
func (s *AccountService) SignUp(ctx context.Context, in SignUpInput) (*AuthResult, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = defaultDisplayName
	}

	existing, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find directory entry: %w", err)
	}
	if existing != nil {
		return nil, model.NewConflictError("このメールアドレスは既に登録されています。")
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	entry := &model.DirectoryEntry{
		ID:             newLocalUserID(),
		Email:          email,
		Name:           name,
		PasswordDigest: digest,
		Role:           model.RoleUser,
		CreatedAt:      s.now(),
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return nil, model.NewConflictError("このメールアドレスは既に登録されています。")
		}
		return nil, fmt.Errorf("failed to create directory entry: %w", err)
	}

	slog.Info("local account created",
		slog.String("user_id", entry.ID),
	)

	if s.external != nil {
		if err := s.external.SignUp(ctx, email, in.Password, name); err != nil {
			slog.Warn("failed to mirror account to identity provider",
				slog.String("user_id", entry.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	return s.issueFor(entry)
}

// SignIn はメールアドレスとパスワードでログインする。
// ローカルアカウントで照合できない場合は外部IdPのパスワードグラントにフォールバックする。
func (s *AccountService) SignIn(ctx context.Context, email, password string) (*AuthResult, error) {
	entry, err := s.matchLocal(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		return s.issueFor(entry)
	}

	if s.external == nil {
		return nil, model.NewInvalidCredentialsError()
	}

	session, err := s.external.PasswordGrant(ctx, strings.TrimSpace(email), password)
	if err != nil {
		if errors.Is(err, ErrIDPRejected) {
			return nil, model.NewInvalidCredentialsError()
		}
		return nil, fmt.Errorf("identity provider sign-in failed: %w", err)
	}

	tokenType := strings.ToLower(session.TokenType)
	if tokenType == "" {
		tokenType = TokenTypeBearer
	}
	return &AuthResult{
		AccessToken: session.AccessToken,
		TokenType:   tokenType,
		User:        session.User.Identity(),
	}, nil
}

// PasswordToken はフォーム認証によるローカルログインを行う。
// 外部IdPへのフォールバックは行わない。
func (s *AccountService) PasswordToken(ctx context.Context, username, password string) (*AuthResult, error) {
	entry, err := s.matchLocal(ctx, username, password)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, model.NewInvalidCredentialsError()
	}
	return s.issueFor(entry)
}

// ValidateToken はトークンを検証し、有効な場合はクレームを返す。無効な場合はnil。
func (s *AccountService) ValidateToken(raw string) *token.Claims {
	if raw == "" {
		return nil
	}
	claims, err := s.tokens.Verify(raw)
	if err != nil {
		return nil
	}
	return claims
}

// matchLocal はメールアドレスとパスワードが一致するローカルエントリを返す。
// 一致しない場合は(nil, nil)。
func (s *AccountService) matchLocal(ctx context.Context, email, password string) (*model.DirectoryEntry, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" || password == "" {
		return nil, nil
	}

	entry, err := s.repo.FindByEmail(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to find directory entry: %w", err)
	}
	if entry == nil || !s.hasher.Compare(entry.PasswordDigest, password) {
		return nil, nil
	}
	return entry, nil
}

func (s *AccountService) issueFor(entry *model.DirectoryEntry) (*AuthResult, error) {
	access, err := s.tokens.Issue(entry.ID, 0, token.Claims{
		Email: entry.Email,
		Name:  entry.Name,
		Role:  string(entry.Role),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}
	return &AuthResult{
		AccessToken: access,
		TokenType:   TokenTypeBearer,
		User:        entry.Identity(model.ProviderLocal),
	}, nil
}

// normalizeEmail はメールアドレスを検証し、小文字化して返す。
func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", model.NewBadRequestError("メールアドレスが指定されていません")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", model.NewBadRequestError("メールアドレスの形式が正しくありません")
	}
	return email, nil
}

func validatePassword(password string) error {
	if password == "" {
		return model.NewBadRequestError("パスワードが指定されていません")
	}
	if len(password) > maxPasswordBytes {
		return model.NewBadRequestError(fmt.Sprintf("パスワードは%dバイト以内で指定してください", maxPasswordBytes))
	}
	return nil
}

// newLocalUserID はローカルアカウントのIDを生成する。
func newLocalUserID() string {
	return "user_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
