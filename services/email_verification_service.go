package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/pilab-dev/shadow-auth/cache"
	serrors "github.com/pilab-dev/shadow-auth/errors"
	"github.com/rs/zerolog/log"
)

// EmailPurpose scopes a verification code to one use.
type EmailPurpose string

const (
	PurposeRegister      EmailPurpose = "REGISTER"
	PurposeBind          EmailPurpose = "BIND"
	PurposeResetPassword EmailPurpose = "RESET_PASSWORD"
)

// ParseEmailPurpose accepts a purpose name in any case.
func ParseEmailPurpose(s string) (EmailPurpose, error) {
	switch p := EmailPurpose(strings.ToUpper(strings.TrimSpace(s))); p {
	case PurposeRegister, PurposeBind, PurposeResetPassword:
		return p, nil
	default:
		return "", serrors.WithMessage(serrors.BadRequest, "Unsupported email verification purpose")
	}
}

func (p EmailPurpose) keyPart() string { return strings.ToLower(string(p)) }

const (
	DefaultEmailCodeTTL     = 300 * time.Second
	DefaultEmailCooldown    = 60 * time.Second
	DefaultEmailMaxAttempts = 5
)

// EmailVerificationOptions tune code lifetime and abuse limits.
type EmailVerificationOptions struct {
	CodeTTL     time.Duration
	Cooldown    time.Duration
	MaxAttempts int
}

// SendCodeResult tells the caller when the next code may be requested.
type SendCodeResult struct {
	Status          string `json:"status"`
	CooldownSeconds int64  `json:"cooldown_seconds"`
}

// EmailVerificationService sends one-time email codes and validates them.
// Only a hash of the code is stored.
type EmailVerificationService struct {
	store  cache.Store
	mailer Mailer
	opts   EmailVerificationOptions
}

func NewEmailVerificationService(store cache.Store, mailer Mailer, opts EmailVerificationOptions) *EmailVerificationService {
	if opts.CodeTTL <= 0 {
		opts.CodeTTL = DefaultEmailCodeTTL
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultEmailCooldown
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultEmailMaxAttempts
	}
	return &EmailVerificationService{store: store, mailer: mailer, opts: opts}
}

// SendCode generates and delivers a code for email. A failed delivery leaves
// no code and no cooldown behind.
func (s *EmailVerificationService) SendCode(ctx context.Context, email string, purpose EmailPurpose) (*SendCodeResult, error) {
	normalized := normalizeEmail(email)
	if normalized == "" {
		return nil, serrors.WithMessage(serrors.BadRequest, "Email is required")
	}

	// The cooldown is claimed atomically before any code exists.
	cooldownKey := verifyCooldownKey(purpose, normalized)
	claimed, err := s.store.SetNX(ctx, cooldownKey, "1", s.opts.Cooldown)
	if err != nil {
		return nil, serrors.Wrap(serrors.Internal, err)
	}
	if !claimed {
		return nil, serrors.New(serrors.TooManyRequests)
	}

	codeKey := verifyCodeKey(purpose, normalized)
	code, err := s.storeCode(ctx, codeKey, verifyAttemptKey(purpose, normalized))
	if err != nil {
		s.rollback(ctx, purpose, cooldownKey)
		return nil, err
	}

	if err := s.mailer.SendVerificationCode(ctx, normalized, purpose, code); err != nil {
		s.rollback(ctx, purpose, codeKey, cooldownKey)
		return nil, serrors.Wrap(serrors.Internal, fmt.Errorf("send verification code: %w", err))
	}

	return &SendCodeResult{Status: "SENT", CooldownSeconds: int64(s.opts.Cooldown / time.Second)}, nil
}

func (s *EmailVerificationService) storeCode(ctx context.Context, codeKey, attemptKey string) (string, error) {
	code, err := newNumericCode(6)
	if err != nil {
		return "", serrors.Wrap(serrors.Internal, err)
	}
	if err := s.store.Set(ctx, codeKey, hashCode(code), s.opts.CodeTTL); err != nil {
		return "", serrors.Wrap(serrors.Internal, err)
	}
	if err := s.store.Delete(ctx, attemptKey); err != nil {
		return "", serrors.Wrap(serrors.Internal, err)
	}
	return code, nil
}

func (s *EmailVerificationService) rollback(ctx context.Context, purpose EmailPurpose, keys ...string) {
	if err := s.store.Delete(context.WithoutCancel(ctx), keys...); err != nil {
		log.Warn().Err(err).Str("purpose", string(purpose)).Msg("failed to roll back verification code")
	}
}

// ValidateAndConsume checks code and deletes it on success. After
// MaxAttempts failures the code is discarded.
func (s *EmailVerificationService) ValidateAndConsume(ctx context.Context, email string, purpose EmailPurpose, code string) error {
	normalized := normalizeEmail(email)
	if normalized == "" {
		return serrors.WithMessage(serrors.BadRequest, "Email is required")
	}
	if isBlank(code) {
		return serrors.WithMessage(serrors.BadRequest, "Email verification code is required")
	}

	codeKey := verifyCodeKey(purpose, normalized)
	attemptKey := verifyAttemptKey(purpose, normalized)
	stored, err := s.store.Get(ctx, codeKey)
	if errors.Is(err, cache.ErrNotFound) {
		return serrors.New(serrors.VerificationCodeExpired)
	}
	if err != nil {
		return serrors.Wrap(serrors.Internal, err)
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(hashCode(strings.TrimSpace(code)))) != 1 {
		attempts, err := s.store.Incr(ctx, attemptKey, s.opts.CodeTTL)
		if err != nil {
			return serrors.Wrap(serrors.Internal, err)
		}
		if attempts >= int64(s.opts.MaxAttempts) {
			if err := s.store.Delete(ctx, codeKey, attemptKey); err != nil {
				return serrors.Wrap(serrors.Internal, err)
			}
		}
		return serrors.New(serrors.VerificationCodeInvalid)
	}

	if err := s.store.Delete(ctx, codeKey, attemptKey); err != nil {
		return serrors.Wrap(serrors.Internal, err)
	}
	return nil
}

func newNumericCode(digits int) (string, error) {
	limit := big.NewInt(1)
	for range digits {
		limit.Mul(limit, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
