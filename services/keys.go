package services

import "strings"

const (
	oauthStatePrefix     = "oauth:state:"
	bindTicketPrefix     = "auth:bind-ticket:"
	refreshSessionPrefix = "auth:refresh:"
	refreshUserPrefix    = "auth:refresh:user:"
	accessSessionPrefix  = "auth:access:"
	verifyCodePrefix     = "auth:verify:email:"
	verifyCooldownPrefix = "auth:verify:cooldown:"
	verifyAttemptPrefix  = "auth:verify:attempt:"
)

func oauthStateKey(oauthLoginID, state string) string {
	return oauthStatePrefix + oauthLoginID + ":" + state
}

func bindTicketKey(ticket string) string { return bindTicketPrefix + ticket }

func refreshSessionKey(sessionID string) string { return refreshSessionPrefix + sessionID }

func refreshUserKey(userID string) string { return refreshUserPrefix + userID }

func accessSessionKey(jti string) string { return accessSessionPrefix + jti }

func verifyCodeKey(purpose EmailPurpose, email string) string {
	return verifyCodePrefix + purpose.keyPart() + ":" + email
}

func verifyCooldownKey(purpose EmailPurpose, email string) string {
	return verifyCooldownPrefix + purpose.keyPart() + ":" + email
}

func verifyAttemptKey(purpose EmailPurpose, email string) string {
	return verifyAttemptPrefix + purpose.keyPart() + ":" + email
}

// normalizeEmail trims and lower-cases an address. Blank input stays blank.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isBlank(s string) bool { return strings.TrimSpace(s) == "" }
