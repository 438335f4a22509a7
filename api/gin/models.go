package authgin

// TokenRequest is the body of POST /auth/token. Which fields are read
// depends on grant_type.
type TokenRequest struct {
	GrantType    string `json:"grant_type"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	Provider     string `json:"provider"`
	OAuthLoginID string `json:"oauth_login_id"`
	Code         string `json:"code"`
	State        string `json:"state"`
	RefreshToken string `json:"refresh_token"`
}

type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Nickname  string `json:"nickname"`
	EmailCode string `json:"email_code"`
}

type SendEmailCodeRequest struct {
	Email   string `json:"email"`
	Purpose string `json:"purpose"`
}

type OAuthBindRequest struct {
	Provider     string `json:"provider"`
	OAuthLoginID string `json:"oauth_login_id"`
	Code         string `json:"code"`
	State        string `json:"state"`
}

// ConfirmBindingRequest redeems a bind ticket with the existing account's
// credentials.
type ConfirmBindingRequest struct {
	BindTicket string `json:"bind_ticket"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

type EmailBindRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	EmailCode string `json:"email_code"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
	LogoutAll    bool   `json:"logout_all"`
}

// StatusResponse acknowledges operations without a payload.
type StatusResponse struct {
	Status string `json:"status"`
}
