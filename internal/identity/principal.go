package identity

// Header names injected by the platform in front of the service. Gin treats
// header lookups case-insensitively.
const (
	HeaderCurrentUser      = "Sf-Context-Current-User"
	HeaderCurrentUserToken = "Sf-Context-Current-User-Token"
	HeaderCurrentRole      = "Sf-Context-Current-Role"
	HeaderAccountRole      = "Sf-Context-Current-Account-Role"
)

// DefaultRole is assumed when a caller presents no role header.
const DefaultRole = "PUBLIC"

// Principal is the effective identity for a single request. It is derived per
// call from the service credential and the request headers, passed explicitly
// into core functions, and never persisted.
type Principal struct {
	// Token is the credential handed to the downstream engine: the service
	// token alone, or service token and caller token joined for delegation.
	Token string

	ServiceToken string
	CallerToken  string
	User         string
	Role         string
}

// Delegated reports whether the request carries a caller credential.
func (p Principal) Delegated() bool {
	return p.CallerToken != ""
}

// EffectiveRole returns the request role, falling back to the public role.
func EffectiveRole(accountRole, role string) string {
	if accountRole != "" {
		return accountRole
	}
	if role != "" {
		return role
	}
	return DefaultRole
}
