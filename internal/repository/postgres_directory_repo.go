package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/mathviz/internal/model"
	"github.com/lib/pq"
)

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation = "23505"

// constraintPrimaryKey は主キー制約名。それ以外の一意制約はemailのみ。
const constraintPrimaryKey = "directory_entries_pkey"

// PostgresDirectoryRepo はPostgreSQLを使用したディレクトリリポジトリ。
type PostgresDirectoryRepo struct {
	db *sql.DB
}

// NewPostgresDirectoryRepo はPostgresDirectoryRepoを生成する。
func NewPostgresDirectoryRepo(db *sql.DB) *PostgresDirectoryRepo {
	return &PostgresDirectoryRepo{db: db}
}

// FindByEmail はメールアドレスでエントリを検索する。見つからない場合はnilを返す。
func (r *PostgresDirectoryRepo) FindByEmail(ctx context.Context, email string) (*model.DirectoryEntry, error) {
	entry, err := r.findOne(ctx,
		`SELECT id, email, name, password_digest, role, created_at
		 FROM directory_entries WHERE email = $1`,
		email,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find directory entry by email: %w", err)
	}
	return entry, nil
}

// FindByID は指定IDのエントリを取得する。見つからない場合はnilを返す。
func (r *PostgresDirectoryRepo) FindByID(ctx context.Context, id string) (*model.DirectoryEntry, error) {
	entry, err := r.findOne(ctx,
		`SELECT id, email, name, password_digest, role, created_at
		 FROM directory_entries WHERE id = $1`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find directory entry by ID: %w", err)
	}
	return entry, nil
}

// Create はエントリを作成する。
func (r *PostgresDirectoryRepo) Create(ctx context.Context, entry *model.DirectoryEntry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO directory_entries (id, email, name, password_digest, role, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.Email, entry.Name, entry.PasswordDigest, string(entry.Role), entry.CreatedAt,
	)
	if err != nil {
		if mapped := mapUniqueViolation(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("failed to insert directory entry: %w", err)
	}
	return nil
}

// Upsert はIDが未登録ならエントリを作成し、登録済みなら既存エントリを返す。
// ID衝突はON CONFLICTで吸収し、メールアドレス衝突はErrEmailTakenとして返す。
func (r *PostgresDirectoryRepo) Upsert(ctx context.Context, entry *model.DirectoryEntry) (*model.DirectoryEntry, bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO directory_entries (id, email, name, password_digest, role, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO NOTHING`,
		entry.ID, entry.Email, entry.Name, entry.PasswordDigest, string(entry.Role), entry.CreatedAt,
	)
	if err != nil {
		if mapped := mapUniqueViolation(err); mapped != nil {
			return nil, false, mapped
		}
		return nil, false, fmt.Errorf("failed to upsert directory entry: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 1 {
		stored := *entry
		return &stored, true, nil
	}

	existing, err := r.FindByID(ctx, entry.ID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("directory entry vanished after conflict: %s", entry.ID)
	}
	return existing, false, nil
}

func (r *PostgresDirectoryRepo) findOne(ctx context.Context, query string, arg string) (*model.DirectoryEntry, error) {
	entry := &model.DirectoryEntry{}
	var role string
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&entry.ID, &entry.Email, &entry.Name, &entry.PasswordDigest, &role, &entry.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	entry.Role = model.Role(role)
	return entry, nil
}

// mapUniqueViolation は一意制約違反をリポジトリのエラーに変換する。
// 一意制約違反でない場合はnilを返す。
func mapUniqueViolation(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return nil
	}
	if pqErr.Constraint == constraintPrimaryKey {
		return ErrIDTaken
	}
	return ErrEmailTaken
}

// compile-time interface check
var _ DirectoryRepository = (*PostgresDirectoryRepo)(nil)
