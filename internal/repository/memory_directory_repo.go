package repository

import (
	"context"
	"sync"

	"github.com/hitoshi/mathviz/internal/model"
)

// MemoryDirectoryRepo はプロセス内メモリに保持するディレクトリリポジトリ。
// DATABASE_URL未設定時に使用する。全操作を単一のミューテックスで直列化する。
type MemoryDirectoryRepo struct {
	mu      sync.Mutex
	byID    map[string]*model.DirectoryEntry
	byEmail map[string]string // email -> id
}

// NewMemoryDirectoryRepo はMemoryDirectoryRepoを生成する。
func NewMemoryDirectoryRepo() *MemoryDirectoryRepo {
	return &MemoryDirectoryRepo{
		byID:    make(map[string]*model.DirectoryEntry),
		byEmail: make(map[string]string),
	}
}

// FindByEmail はメールアドレスでエントリを検索する。見つからない場合はnilを返す。
func (r *MemoryDirectoryRepo) FindByEmail(_ context.Context, email string) (*model.DirectoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byEmail[email]
	if !ok {
		return nil, nil
	}
	return copyEntry(r.byID[id]), nil
}

// FindByID は指定IDのエントリを取得する。見つからない場合はnilを返す。
func (r *MemoryDirectoryRepo) FindByID(_ context.Context, id string) (*model.DirectoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return copyEntry(r.byID[id]), nil
}

// Create はエントリを作成する。
func (r *MemoryDirectoryRepo) Create(_ context.Context, entry *model.DirectoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[entry.ID]; ok {
		return ErrIDTaken
	}
	if _, ok := r.byEmail[entry.Email]; ok {
		return ErrEmailTaken
	}
	r.insertLocked(entry)
	return nil
}

// Upsert はIDが未登録ならエントリを作成し、登録済みなら既存エントリを返す。
func (r *MemoryDirectoryRepo) Upsert(_ context.Context, entry *model.DirectoryEntry) (*model.DirectoryEntry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byID[entry.ID]; ok {
		return copyEntry(existing), false, nil
	}
	if _, ok := r.byEmail[entry.Email]; ok {
		return nil, false, ErrEmailTaken
	}
	r.insertLocked(entry)
	return copyEntry(entry), true, nil
}

func (r *MemoryDirectoryRepo) insertLocked(entry *model.DirectoryEntry) {
	stored := copyEntry(entry)
	r.byID[stored.ID] = stored
	r.byEmail[stored.Email] = stored.ID
}

func copyEntry(e *model.DirectoryEntry) *model.DirectoryEntry {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

// compile-time interface check
var _ DirectoryRepository = (*MemoryDirectoryRepo)(nil)
