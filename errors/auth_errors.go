package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an authentication failure. Every kind maps to one public
// message and one HTTP status.
type Kind string

const (
	InvalidCredentials      Kind = "invalid_credentials"
	InvalidOAuthState       Kind = "invalid_oauth_state"
	OAuthSceneMismatch      Kind = "oauth_scene_mismatch"
	BindInitiatorMismatch   Kind = "bind_initiator_mismatch"
	ProviderAlreadyBound    Kind = "provider_already_bound"
	AccountCreationConflict Kind = "account_creation_conflict"
	InvalidBindTicket       Kind = "invalid_bind_ticket"
	RefreshTokenExpired     Kind = "refresh_token_expired"
	RefreshTokenInvalid     Kind = "refresh_token_invalid"
	UnsupportedGrant        Kind = "unsupported_grant"
	ProviderTransientError  Kind = "provider_transient_error"
	ProviderRejected        Kind = "provider_rejected"

	BadRequest              Kind = "bad_request"
	Unauthorized            Kind = "unauthorized"
	UnsupportedProvider     Kind = "unsupported_provider"
	EmailAlreadyRegistered  Kind = "email_already_registered"
	EmailAlreadyBound       Kind = "email_already_bound"
	VerificationCodeExpired Kind = "verification_code_expired"
	VerificationCodeInvalid Kind = "verification_code_invalid"
	TooManyRequests         Kind = "too_many_requests"
	Internal                Kind = "internal"
)

var publicMessages = map[Kind]string{
	InvalidCredentials:      "Invalid email or password",
	InvalidOAuthState:       "Invalid oauth state",
	OAuthSceneMismatch:      "OAuth scene mismatch",
	BindInitiatorMismatch:   "OAuth bind initiator mismatch",
	ProviderAlreadyBound:    "Provider account already bound by another user",
	AccountCreationConflict: "Account creation conflict, please retry",
	InvalidBindTicket:       "Invalid or expired bind ticket",
	RefreshTokenExpired:     "Refresh token expired",
	RefreshTokenInvalid:     "Invalid refresh token",
	UnsupportedGrant:        "Unsupported grant type",
	ProviderTransientError:  "OAuth provider temporarily unavailable",
	ProviderRejected:        "OAuth exchange failed",
	BadRequest:              "Bad request",
	Unauthorized:            "Login required",
	UnsupportedProvider:     "Unsupported oauth provider",
	EmailAlreadyRegistered:  "Email already registered",
	EmailAlreadyBound:       "Email already bound by another account",
	VerificationCodeExpired: "Email verification code expired",
	VerificationCodeInvalid: "Email verification code invalid",
	TooManyRequests:         "Email verification send cooldown active",
	Internal:                "Internal error",
}

var httpStatuses = map[Kind]int{
	InvalidCredentials:      http.StatusUnauthorized,
	BindInitiatorMismatch:   http.StatusForbidden,
	RefreshTokenExpired:     http.StatusUnauthorized,
	RefreshTokenInvalid:     http.StatusUnauthorized,
	ProviderTransientError:  http.StatusBadGateway,
	Unauthorized:            http.StatusUnauthorized,
	TooManyRequests:         http.StatusTooManyRequests,
	AccountCreationConflict: http.StatusConflict,
	ProviderAlreadyBound:    http.StatusConflict,
	EmailAlreadyRegistered:  http.StatusConflict,
	EmailAlreadyBound:       http.StatusConflict,
	Internal:                http.StatusInternalServerError,
}

// AuthError is the error type returned across the service boundary. Message is
// safe to show to the caller; the wrapped cause is for logs and audit only.
type AuthError struct {
	Kind    Kind   `json:"error"`
	Message string `json:"error_description"`
	cause   error
}

func (e *AuthError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AuthError) Unwrap() error { return e.cause }

// Is matches any AuthError of the same kind.
func (e *AuthError) Is(target error) bool {
	var other *AuthError
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// HTTPStatus returns the status code used by the HTTP layer.
func (e *AuthError) HTTPStatus() int {
	if status, ok := httpStatuses[e.Kind]; ok {
		return status
	}
	return http.StatusBadRequest
}

// New creates an AuthError carrying the fixed public message for kind.
func New(kind Kind) *AuthError {
	return &AuthError{Kind: kind, Message: PublicMessage(kind)}
}

// Wrap creates an AuthError that keeps cause for internal inspection.
func Wrap(kind Kind, cause error) *AuthError {
	return &AuthError{Kind: kind, Message: PublicMessage(kind), cause: cause}
}

// WithMessage overrides the public message. Only used for request validation
// messages that reveal nothing about stored state.
func WithMessage(kind Kind, message string) *AuthError {
	return &AuthError{Kind: kind, Message: message}
}

// PublicMessage returns the non-enumerable message for kind.
func PublicMessage(kind Kind) string {
	if msg, ok := publicMessages[kind]; ok {
		return msg
	}
	return publicMessages[Internal]
}

// KindOf extracts the kind of err, or Internal for foreign errors.
func KindOf(err error) Kind {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	return Internal
}

// IsKind reports whether err is an AuthError of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Public converts any error into an AuthError safe to return to a caller.
// Foreign errors collapse to Internal with no detail.
func Public(err error) *AuthError {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return &AuthError{Kind: authErr.Kind, Message: authErr.Message}
	}
	return New(Internal)
}
