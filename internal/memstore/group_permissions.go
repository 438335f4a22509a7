package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pilab-dev/shadow-auth/domain"
)

// GroupPermissionRepository maps upper-cased group codes to permission codes.
type GroupPermissionRepository struct {
	mu    sync.RWMutex
	perms map[string]map[string]struct{}
}

var _ domain.GroupPermissionRepository = (*GroupPermissionRepository)(nil)

func NewGroupPermissionRepository() *GroupPermissionRepository {
	return &GroupPermissionRepository{perms: map[string]map[string]struct{}{}}
}

// Grant adds permissions to group.
func (r *GroupPermissionRepository) Grant(group string, permissions ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToUpper(strings.TrimSpace(group))
	set, ok := r.perms[key]
	if !ok {
		set = map[string]struct{}{}
		r.perms[key] = set
	}
	for _, p := range permissions {
		set[p] = struct{}{}
	}
}

func (r *GroupPermissionRepository) ListPermissions(_ context.Context, groups []string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := map[string]struct{}{}
	for _, g := range groups {
		for p := range r.perms[strings.ToUpper(strings.TrimSpace(g))] {
			out[p] = struct{}{}
		}
	}
	list := make([]string, 0, len(out))
	for p := range out {
		list = append(list, p)
	}
	sort.Strings(list)
	return list, nil
}
