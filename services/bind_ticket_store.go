package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pilab-dev/shadow-auth/cache"
	"github.com/pilab-dev/shadow-auth/domain"
	serrors "github.com/pilab-dev/shadow-auth/errors"
	"github.com/pilab-dev/shadow-auth/internal/metrics"
)

const (
	DefaultBindTicketTTL = 600 * time.Second
	MinBindTicketTTL     = 60 * time.Second
)

// BindTicketStore keeps one-time bind tickets issued on email collisions.
type BindTicketStore struct {
	store cache.Store
	ttl   time.Duration
}

// NewBindTicketStore creates a store whose tickets live for ttl, never less
// than MinBindTicketTTL.
func NewBindTicketStore(store cache.Store, ttl time.Duration) *BindTicketStore {
	if ttl < MinBindTicketTTL {
		ttl = MinBindTicketTTL
	}
	return &BindTicketStore{store: store, ttl: ttl}
}

// Issue stores the payload under a fresh ticket id and returns the id.
func (s *BindTicketStore) Issue(ctx context.Context, ticket domain.BindTicket) (string, error) {
	raw, err := json.Marshal(ticket)
	if err != nil {
		return "", fmt.Errorf("failed to encode bind ticket: %w", err)
	}
	id := uuid.NewString()
	if err := s.store.Set(ctx, bindTicketKey(id), string(raw), s.ttl); err != nil {
		return "", fmt.Errorf("failed to store bind ticket: %w", err)
	}
	metrics.BindTicketsIssuedTotal.Inc()
	return id, nil
}

// Consume atomically reads and deletes the ticket. A missing, expired or
// malformed ticket yields InvalidBindTicket with no further detail.
func (s *BindTicketStore) Consume(ctx context.Context, id string) (*domain.BindTicket, error) {
	raw, err := s.store.GetDel(ctx, bindTicketKey(id))
	if errors.Is(err, cache.ErrNotFound) {
		return nil, serrors.New(serrors.InvalidBindTicket)
	}
	if err != nil {
		return nil, serrors.Wrap(serrors.Internal, err)
	}

	var ticket domain.BindTicket
	if err := json.Unmarshal([]byte(raw), &ticket); err != nil {
		return nil, serrors.Wrap(serrors.InvalidBindTicket, err)
	}
	if isBlank(ticket.TargetUserID) || isBlank(ticket.ProviderUserID) || isBlank(ticket.OAuthLoginID) {
		return nil, serrors.New(serrors.InvalidBindTicket)
	}
	return &ticket, nil
}
