// Package memstore holds in-process implementations of the durable
// repositories. Unique constraints match the MongoDB indexes.
package memstore

import (
	"context"
	"sync"

	"github.com/pilab-dev/shadow-auth/domain"
)

// AccountRepository keeps accounts in memory, unique on username and email.
type AccountRepository struct {
	mu         sync.RWMutex
	byID       map[string]*domain.UserAccount
	byUsername map[string]string
	byEmail    map[string]string
}

var _ domain.AccountRepository = (*AccountRepository)(nil)

func NewAccountRepository() *AccountRepository {
	return &AccountRepository{
		byID:       map[string]*domain.UserAccount{},
		byUsername: map[string]string{},
		byEmail:    map[string]string{},
	}
}

func cloneAccount(a *domain.UserAccount) *domain.UserAccount {
	c := *a
	c.Groups = append([]string(nil), a.Groups...)
	c.Permissions = append([]string(nil), a.Permissions...)
	return &c
}

func (r *AccountRepository) Create(_ context.Context, account *domain.UserAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[account.ID]; ok {
		return domain.ErrDuplicateKey
	}
	if _, ok := r.byUsername[account.Username]; ok {
		return domain.ErrDuplicateKey
	}
	if account.Email != "" {
		if _, ok := r.byEmail[account.Email]; ok {
			return domain.ErrDuplicateKey
		}
		r.byEmail[account.Email] = account.ID
	}
	r.byUsername[account.Username] = account.ID
	r.byID[account.ID] = cloneAccount(account)
	return nil
}

func (r *AccountRepository) GetByID(_ context.Context, id string) (*domain.UserAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneAccount(a), nil
}

func (r *AccountRepository) GetByEmail(_ context.Context, email string) (*domain.UserAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[email]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneAccount(r.byID[id]), nil
}

func (r *AccountRepository) ExistsByUsername(_ context.Context, username string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.byUsername[username]
	return ok, nil
}

func (r *AccountRepository) Update(_ context.Context, account *domain.UserAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.byID[account.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if account.Username != old.Username {
		if _, taken := r.byUsername[account.Username]; taken {
			return domain.ErrDuplicateKey
		}
	}
	if account.Email != "" && account.Email != old.Email {
		if _, taken := r.byEmail[account.Email]; taken {
			return domain.ErrDuplicateKey
		}
	}

	delete(r.byUsername, old.Username)
	if old.Email != "" {
		delete(r.byEmail, old.Email)
	}
	r.byUsername[account.Username] = account.ID
	if account.Email != "" {
		r.byEmail[account.Email] = account.ID
	}
	r.byID[account.ID] = cloneAccount(account)
	return nil
}

// Count returns the number of stored accounts.
func (r *AccountRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
