package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// maxPasswordBytes はbcryptが扱えるパスワードの最大長。
const maxPasswordBytes = 72

// PasswordHasher はパスワードダイジェストの生成と照合を行う。
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(digest, password string) bool
}

// BcryptHasher はbcryptによるPasswordHasher。
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher はBcryptHasherを生成する。costが0以下の場合はbcrypt.DefaultCostを使う。
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

// Hash はパスワードのダイジェストを返す。
func (h *BcryptHasher) Hash(password string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(digest), nil
}

// Compare はダイジェストとパスワードが一致すればtrueを返す。
// 使用不能なダイジェストに対しては常にfalse。
func (h *BcryptHasher) Compare(digest, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
}

// UnusablePasswordDigest はどのパスワードとも一致しないランダムなダイジェストを返す。
// OAuthで自動登録したエントリに設定する。
func UnusablePasswordDigest() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate password placeholder: %w", err)
	}
	return "!" + hex.EncodeToString(b), nil
}

// compile-time interface check
var _ PasswordHasher = (*BcryptHasher)(nil)
