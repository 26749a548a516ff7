package auth

import "errors"

var (
	ErrUnauthenticated = errors.New("missing authentication")
	ErrInvalidToken    = errors.New("invalid token")
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrForbidden       = errors.New("missing required scope")
)

// UserContext represents the authenticated caller of a request. Callers are
// operators and integrations, never the farmers themselves.
type UserContext struct {
	Subject   string   `json:"subject"`
	Role      string   `json:"role"`
	Scopes    []string `json:"scopes"`
	IsAPIKey  bool     `json:"is_api_key"`
	TokenType string   `json:"token_type"` // jwt or api_key
}

// HasScope reports whether the caller was granted scope.
func (u *UserContext) HasScope(scope string) bool {
	for _, s := range u.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Scopes for authorization
const (
	ScopeConversationsWrite = "conversations:write"
	ScopeWorkflowsWrite     = "workflows:write"
	ScopeSchedulesManage    = "schedules:manage"
	ScopeStreamRead         = "stream:read"
)

// User roles
const (
	RoleIntegration = "integration"
	RoleOperator    = "operator"
	RoleAdmin       = "admin"
)

// ScopesForRole returns the scopes granted to a role.
func ScopesForRole(role string) []string {
	switch role {
	case RoleAdmin:
		return []string{ScopeConversationsWrite, ScopeWorkflowsWrite, ScopeSchedulesManage, ScopeStreamRead}
	case RoleOperator:
		return []string{ScopeWorkflowsWrite, ScopeStreamRead}
	default: // RoleIntegration
		return []string{ScopeConversationsWrite, ScopeStreamRead}
	}
}
