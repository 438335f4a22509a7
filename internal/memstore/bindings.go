package memstore

import (
	"context"
	"sync"

	"github.com/pilab-dev/shadow-auth/domain"
)

type identityKey struct{ provider, providerUserID string }

type userProviderKey struct{ userID, provider string }

// OAuthBindingRepository keeps bindings in memory, unique on
// (provider, providerUserID) and on (userID, provider).
type OAuthBindingRepository struct {
	mu           sync.RWMutex
	byID         map[string]*domain.OAuthBinding
	byIdentity   map[identityKey]string
	byUserAndIdP map[userProviderKey]string
}

var _ domain.OAuthBindingRepository = (*OAuthBindingRepository)(nil)

func NewOAuthBindingRepository() *OAuthBindingRepository {
	return &OAuthBindingRepository{
		byID:         map[string]*domain.OAuthBinding{},
		byIdentity:   map[identityKey]string{},
		byUserAndIdP: map[userProviderKey]string{},
	}
}

func (r *OAuthBindingRepository) Create(_ context.Context, binding *domain.OAuthBinding) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ik := identityKey{binding.Provider, binding.ProviderUserID}
	uk := userProviderKey{binding.UserID, binding.Provider}
	if _, ok := r.byIdentity[ik]; ok {
		return domain.ErrDuplicateKey
	}
	if _, ok := r.byUserAndIdP[uk]; ok {
		return domain.ErrDuplicateKey
	}
	if _, ok := r.byID[binding.ID]; ok {
		return domain.ErrDuplicateKey
	}

	c := *binding
	r.byID[binding.ID] = &c
	r.byIdentity[ik] = binding.ID
	r.byUserAndIdP[uk] = binding.ID
	return nil
}

func (r *OAuthBindingRepository) GetByProviderUserID(_ context.Context, provider, providerUserID string) (*domain.OAuthBinding, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byIdentity[identityKey{provider, providerUserID}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *r.byID[id]
	return &c, nil
}

func (r *OAuthBindingRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.byID[id]
	if !ok {
		return nil
	}
	delete(r.byID, id)
	delete(r.byIdentity, identityKey{b.Provider, b.ProviderUserID})
	delete(r.byUserAndIdP, userProviderKey{b.UserID, b.Provider})
	return nil
}

// Count returns the number of stored bindings.
func (r *OAuthBindingRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
