package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/pilab-dev/shadow-auth/domain"
)

// OAuthLoginRepository keeps OAuth transactions in memory.
type OAuthLoginRepository struct {
	mu     sync.RWMutex
	logins map[string]*domain.OAuthLogin
}

var _ domain.OAuthLoginRepository = (*OAuthLoginRepository)(nil)

func NewOAuthLoginRepository() *OAuthLoginRepository {
	return &OAuthLoginRepository{logins: map[string]*domain.OAuthLogin{}}
}

func (r *OAuthLoginRepository) Create(_ context.Context, login *domain.OAuthLogin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.logins[login.ID]; ok {
		return domain.ErrDuplicateKey
	}
	c := *login
	r.logins[login.ID] = &c
	return nil
}

func (r *OAuthLoginRepository) GetByID(_ context.Context, id string) (*domain.OAuthLogin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.logins[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *l
	return &c, nil
}

func (r *OAuthLoginRepository) UpdateOutcome(_ context.Context, id string, outcome domain.OAuthLoginOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.logins[id]
	if !ok {
		return domain.ErrNotFound
	}
	l.Status = outcome.Status
	if outcome.ProviderUserID != "" {
		l.ProviderUserID = outcome.ProviderUserID
	}
	if outcome.UserID != "" {
		l.UserID = outcome.UserID
	}
	l.ErrorMessage = outcome.ErrorMessage
	l.UpdatedAt = time.Now()
	return nil
}
