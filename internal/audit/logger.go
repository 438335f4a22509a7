package audit

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const service = "auth"

// Actions recorded by the auth engine.
const (
	ActionOAuthLogin    = "oauth_login"
	ActionOAuthBind     = "oauth_bind"
	ActionConflictBind  = "oauth_conflict_bind"
	ActionEmailBind     = "email_bind"
	ActionEmailRegister = "email_register"
	ActionLogout        = "logout"
	ActionLogoutAll     = "logout_all"
)

// Event represents an audit log event.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Action    string    `json:"action"`
	User      string    `json:"user,omitempty"`    // User ID
	Target    string    `json:"target,omitempty"`  // Target resource, e.g. provider:providerUserId
	Details   string    `json:"details,omitempty"` // Additional details
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"` // Error message if the action failed
}

var auditLogger = log.Output(os.Stdout).With().Logger()

// SetOutput replaces the audit destination.
func SetOutput(l zerolog.Logger) {
	auditLogger = l
}

// Log records an audit event.
func Log(action, user, target, details string, success bool, err error) {
	event := Event{
		Timestamp: time.Now().UTC(),
		Service:   service,
		Action:    action,
		User:      user,
		Target:    target,
		Details:   details,
		Success:   success,
	}
	if err != nil {
		event.Error = err.Error()
	}

	entry, marshalErr := json.Marshal(event)
	if marshalErr != nil {
		log.Error().Err(marshalErr).Msg("Failed to marshal audit event to JSON")
		auditLogger.Error().
			Str("action", action).
			Str("user", user).
			Str("target", target).
			Bool("success", success).
			Err(err).
			Msg("Audit Log (fallback)")
		return
	}
	auditLogger.Log().RawJSON("audit_event", entry).Msg("")
}
