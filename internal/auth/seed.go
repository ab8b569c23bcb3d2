package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/mathviz/internal/model"
	"github.com/hitoshi/mathviz/internal/repository"
)

// demoAccount は起動時に投入するデモ用アカウント。
type demoAccount struct {
	id       string
	email    string
	name     string
	password string
	role     model.Role
}

var demoAccounts = []demoAccount{
	{id: "user_001", email: "test@example.com", name: "Test User", password: "password123", role: model.RoleUser},
	{id: "admin_001", email: "admin@example.com", name: "Admin User", password: "admin123", role: model.RoleAdmin},
}

// SeedDemoAccounts はデモ用アカウントをディレクトリに投入する。
// 既に存在する場合は何もしない。
func SeedDemoAccounts(ctx context.Context, repo repository.DirectoryRepository, hasher PasswordHasher) error {
	for _, acc := range demoAccounts {
		existing, err := repo.FindByID(ctx, acc.id)
		if err != nil {
			return fmt.Errorf("failed to look up demo account %s: %w", acc.id, err)
		}
		if existing != nil {
			continue
		}

		digest, err := hasher.Hash(acc.password)
		if err != nil {
			return err
		}

		_, created, err := repo.Upsert(ctx, &model.DirectoryEntry{
			ID:             acc.id,
			Email:          acc.email,
			Name:           acc.name,
			PasswordDigest: digest,
			Role:           acc.role,
			CreatedAt:      time.Now(),
		})
		if errors.Is(err, repository.ErrEmailTaken) {
			slog.Warn("demo account email already in use, skipped",
				slog.String("user_id", acc.id),
			)
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to seed demo account %s: %w", acc.id, err)
		}
		if created {
			slog.Info("demo account seeded", slog.String("user_id", acc.id))
		}
	}
	return nil
}
