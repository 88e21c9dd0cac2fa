package domain

// AuthEvent names a transition of the client session.
type AuthEvent string

const (
	EventInitialSession AuthEvent = "INITIAL_SESSION"
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
)

// AuthChange is published to subscribers after every session transition.
// Identity is nil when the client is anonymous.
type AuthChange struct {
	Event    AuthEvent
	Identity *Identity
}
