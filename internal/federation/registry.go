package federation

import (
	"fmt"
	"sort"
	"strings"

	serrors "github.com/pilab-dev/shadow-auth/errors"
)

// Registry resolves exchangers by provider code.
type Registry struct {
	exchangers map[string]IdentityExchanger
}

// NewRegistry fails when two exchangers share a code.
func NewRegistry(exchangers ...IdentityExchanger) (*Registry, error) {
	r := &Registry{exchangers: make(map[string]IdentityExchanger, len(exchangers))}
	for _, ex := range exchangers {
		code := NormalizeCode(ex.Code())
		if _, dup := r.exchangers[code]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateProvider, code)
		}
		r.exchangers[code] = ex
	}
	return r, nil
}

// Get returns the exchanger for code or an UnsupportedProvider error.
func (r *Registry) Get(code string) (IdentityExchanger, error) {
	ex, ok := r.exchangers[NormalizeCode(code)]
	if !ok {
		return nil, serrors.New(serrors.UnsupportedProvider)
	}
	return ex, nil
}

// Codes lists the registered provider codes in order.
func (r *Registry) Codes() []string {
	codes := make([]string, 0, len(r.exchangers))
	for code := range r.exchangers {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// NormalizeCode trims and lower-cases a provider code.
func NormalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
