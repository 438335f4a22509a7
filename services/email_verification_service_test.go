package services

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pilab-dev/shadow-auth/cache"
	serrors "github.com/pilab-dev/shadow-auth/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newEmailService(t *testing.T, mailer Mailer, opts EmailVerificationOptions) (*EmailVerificationService, *cache.MemoryStore) {
	t.Helper()
	store := cache.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	return NewEmailVerificationService(store, mailer, opts), store
}

func TestEmailVerification_SendAndConsume(t *testing.T) {
	mailer := &captureMailer{}
	svc, store := newEmailService(t, mailer, EmailVerificationOptions{})
	ctx := context.Background()

	result, err := svc.SendCode(ctx, " Alice@Example.com ", PurposeRegister)
	require.NoError(t, err)
	assert.Equal(t, "SENT", result.Status)
	assert.Equal(t, int64(60), result.CooldownSeconds)

	code := mailer.last(PurposeRegister, "alice@example.com")
	assert.Regexp(t, regexp.MustCompile(`^\d{6}$`), code)

	stored, err := store.Get(ctx, "auth:verify:email:register:alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, hashCode(code), stored)

	_, err = svc.SendCode(ctx, "alice@example.com", PurposeRegister)
	assert.True(t, serrors.IsKind(err, serrors.TooManyRequests))

	// The cooldown is per purpose.
	_, err = svc.SendCode(ctx, "alice@example.com", PurposeBind)
	assert.NoError(t, err)

	assert.True(t, serrors.IsKind(svc.ValidateAndConsume(ctx, "alice@example.com", PurposeBind, code+"x"), serrors.VerificationCodeInvalid))
	require.NoError(t, svc.ValidateAndConsume(ctx, "ALICE@example.com", PurposeRegister, " "+code+" "))
	assert.True(t, serrors.IsKind(svc.ValidateAndConsume(ctx, "alice@example.com", PurposeRegister, code), serrors.VerificationCodeExpired))
}

func TestEmailVerification_MaxAttemptsDiscardsCode(t *testing.T) {
	mailer := &captureMailer{}
	svc, _ := newEmailService(t, mailer, EmailVerificationOptions{MaxAttempts: 3})
	ctx := context.Background()

	_, err := svc.SendCode(ctx, "bob@example.com", PurposeRegister)
	require.NoError(t, err)
	code := mailer.last(PurposeRegister, "bob@example.com")

	for range 3 {
		err := svc.ValidateAndConsume(ctx, "bob@example.com", PurposeRegister, "wrong")
		assert.True(t, serrors.IsKind(err, serrors.VerificationCodeInvalid))
	}
	err = svc.ValidateAndConsume(ctx, "bob@example.com", PurposeRegister, code)
	assert.True(t, serrors.IsKind(err, serrors.VerificationCodeExpired))
}

func TestEmailVerification_MailerFailureRollsBack(t *testing.T) {
	mailer := new(MockMailer)
	mailer.On("SendVerificationCode", mock.Anything, "carol@example.com", PurposeRegister, mock.AnythingOfType("string")).
		Return(errors.New("smtp down")).Once()
	mailer.On("SendVerificationCode", mock.Anything, "carol@example.com", PurposeRegister, mock.AnythingOfType("string")).
		Return(nil).Once()
	svc, store := newEmailService(t, mailer, EmailVerificationOptions{})
	ctx := context.Background()

	_, err := svc.SendCode(ctx, "carol@example.com", PurposeRegister)
	assert.True(t, serrors.IsKind(err, serrors.Internal))

	for _, key := range []string{
		"auth:verify:email:register:carol@example.com",
		"auth:verify:cooldown:register:carol@example.com",
	} {
		exists, err := store.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, exists, key)
	}

	_, err = svc.SendCode(ctx, "carol@example.com", PurposeRegister)
	assert.NoError(t, err)
	mailer.AssertExpectations(t)
}

func TestEmailVerification_InputValidation(t *testing.T) {
	svc, _ := newEmailService(t, &captureMailer{}, EmailVerificationOptions{})
	ctx := context.Background()

	_, err := svc.SendCode(ctx, "  ", PurposeRegister)
	assert.True(t, serrors.IsKind(err, serrors.BadRequest))
	assert.True(t, serrors.IsKind(svc.ValidateAndConsume(ctx, "a@example.com", PurposeRegister, ""), serrors.BadRequest))

	purpose, err := ParseEmailPurpose("reset_password")
	require.NoError(t, err)
	assert.Equal(t, PurposeResetPassword, purpose)
	_, err = ParseEmailPurpose("login")
	assert.True(t, serrors.IsKind(err, serrors.BadRequest))
}

func TestEmailVerification_ConcurrentSendsHonorCooldown(t *testing.T) {
	mailer := new(MockMailer)
	mailer.On("SendVerificationCode", mock.Anything, "carol@example.com", PurposeRegister, mock.AnythingOfType("string")).Return(nil)
	svc, _ := newEmailService(t, mailer, EmailVerificationOptions{})

	var sent, limited int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.SendCode(context.Background(), "carol@example.com", PurposeRegister)
			switch {
			case err == nil:
				atomic.AddInt32(&sent, 1)
			case serrors.IsKind(err, serrors.TooManyRequests):
				atomic.AddInt32(&limited, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), sent)
	assert.Equal(t, int32(15), limited)
	mailer.AssertNumberOfCalls(t, "SendVerificationCode", 1)
}
