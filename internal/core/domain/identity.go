package domain

import "time"

// RoleAuthenticated is the role claim the provider puts on tokens issued to
// signed-in users.
const RoleAuthenticated = "authenticated"

// Identity is a registered account as the identity provider reports it. The
// password hash never leaves the provider.
type Identity struct {
	ID             string         `json:"id"`
	Email          string         `json:"email"`
	DisplayName    string         `json:"name,omitempty"`
	EmailConfirmed bool           `json:"email_confirmed"`
	Role           string         `json:"role,omitempty"`
	Metadata       map[string]any `json:"user_metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Session holds the tokens issued for an Identity. Tokens are opaque to this
// code base.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	Identity     *Identity `json:"user"`
}

// Expired reports whether the access token expires within margin of now.
func (s *Session) Expired(now time.Time, margin time.Duration) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(margin).Before(s.ExpiresAt)
}

// NewAccount is the input for privileged account creation.
type NewAccount struct {
	Email    string
	Password string
	Name     string
}
