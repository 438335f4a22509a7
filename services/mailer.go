package services

import (
	"context"

	"github.com/rs/zerolog/log"
)

// LogMailer records verification requests in the log instead of sending mail.
// The code itself is only written, at debug level, when RevealCode is set.
// Intended for development deployments.
type LogMailer struct {
	RevealCode bool
}

func (m LogMailer) SendVerificationCode(_ context.Context, email string, purpose EmailPurpose, code string) error {
	if m.RevealCode {
		log.Debug().Str("email", email).Str("purpose", string(purpose)).Str("code", code).
			Msg("email verification code")
		return nil
	}
	log.Info().Str("email", email).Str("purpose", string(purpose)).
		Msg("email verification code issued, no mailer configured")
	return nil
}
