package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/pilab-dev/shadow-auth/domain"
	serrors "github.com/pilab-dev/shadow-auth/errors"
	"github.com/pilab-dev/shadow-auth/internal/audit"
)

// ConfirmConflictBinding redeems a bind ticket. The ticket is consumed before
// anything else is checked, so every ticket is single-use even when the
// credentials turn out wrong.
func (f *OAuthFlowService) ConfirmConflictBinding(ctx context.Context, bindTicket, email, password string) (*GrantResult, error) {
	if isBlank(bindTicket) {
		return nil, serrors.WithMessage(serrors.BadRequest, "bind_ticket is required")
	}

	ticket, err := f.tickets.Consume(ctx, bindTicket)
	if err != nil {
		return nil, err
	}
	target := ticket.Provider + ":" + ticket.ProviderUserID

	login, err := f.logins.GetByID(ctx, ticket.OAuthLoginID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, serrors.New(serrors.InvalidBindTicket)
	}
	if err != nil {
		return nil, serrors.Wrap(serrors.Internal, err)
	}
	if login.Scene != domain.OAuthSceneLogin {
		return nil, serrors.New(serrors.OAuthSceneMismatch)
	}
	provider, err := chooseProvider(ticket.Provider, login.Provider)
	if err != nil {
		return nil, err
	}

	account, err := f.accounts.GetByID(ctx, ticket.TargetUserID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, serrors.Wrap(serrors.Internal, err)
	}
	if account == nil || account.Email == "" || account.Email != normalizeEmail(email) {
		err := f.verifier.RejectPassword(password)
		audit.Log(audit.ActionConflictBind, ticket.TargetUserID, target, login.ID, false, err)
		return nil, err
	}
	if err := f.verifier.CheckPassword(account, password); err != nil {
		audit.Log(audit.ActionConflictBind, account.ID, target, login.ID, false, err)
		return nil, err
	}

	_, err = InsertBindingIdempotent(ctx, f.bindings, &domain.OAuthBinding{
		ID:             uuid.NewString(),
		Provider:       provider,
		ProviderUserID: ticket.ProviderUserID,
		UserID:         account.ID,
		ProviderLogin:  ticket.ProviderLogin,
		ProviderEmail:  ticket.ProviderEmail,
		CreatedAt:      f.now(),
	})
	if err != nil {
		audit.Log(audit.ActionConflictBind, account.ID, target, login.ID, false, err)
		return nil, err
	}

	f.markSuccess(ctx, login, ticket.ProviderUserID, account.ID)
	audit.Log(audit.ActionConflictBind, account.ID, target, login.ID, true, nil)
	return f.issuer.IssueTokenPair(ctx, account.ID)
}
