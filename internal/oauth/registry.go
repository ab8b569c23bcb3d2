package oauth

import (
	"errors"
	"sort"
	"sync"
)

var (
	ErrProviderConflict = errors.New("provider already registered")
	ErrProviderNotFound = errors.New("provider not found")
)

// Registry は名前でProviderを引く。
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*Provider
}

// NewRegistry はRegistryを生成する。
func NewRegistry(providers ...*Provider) (*Registry, error) {
	r := &Registry{providers: make(map[string]*Provider)}
	for _, p := range providers {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register はProviderを登録する。同名の登録はErrProviderConflict。
func (r *Registry) Register(p *Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.providers[p.Name]; ok {
		return ErrProviderConflict
	}
	r.providers[p.Name] = p
	return nil
}

// Lookup は名前に対応するProviderを返す。
func (r *Registry) Lookup(name string) (*Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return p, nil
}

// Names は登録済みプロバイダー名を昇順で返す。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
