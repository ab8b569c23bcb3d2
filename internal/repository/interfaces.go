// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/mathviz/internal/model"
)

var (
	// ErrEmailTaken は別IDのエントリが同じメールアドレスを保持していることを表す。
	ErrEmailTaken = errors.New("email already registered")
	// ErrIDTaken は同じIDのエントリが既に存在することを表す。
	ErrIDTaken = errors.New("entry id already registered")
)

// DirectoryRepository はユーザーディレクトリの永続化インターフェース。
// エントリは作成のみ行い、更新・削除はしない。
type DirectoryRepository interface {
	// FindByEmail はメールアドレスでエントリを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.DirectoryEntry, error)

	// FindByID は指定IDのエントリを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.DirectoryEntry, error)

	// Create はエントリを作成する。
	// メールアドレス重複はErrEmailTaken、ID重複はErrIDTakenを返す。
	Create(ctx context.Context, entry *model.DirectoryEntry) error

	// Upsert はIDが未登録ならエントリを作成し、登録済みなら既存エントリをそのまま返す。
	// createdは新規作成した場合にtrue。
	// 別IDのエントリがメールアドレスを保持している場合はErrEmailTakenを返す。
	Upsert(ctx context.Context, entry *model.DirectoryEntry) (stored *model.DirectoryEntry, created bool, err error)
}
