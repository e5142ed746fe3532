package auth

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims holds the verified token claims the gateway cares about. Sub carries the user id; the remaining fields are
// optional identity-provider profile claims.
type Claims struct {
	PreferredUsername string `json:"preferred_username,omitempty"`
	Username          string `json:"username,omitempty"`
	Nickname          string `json:"nickname,omitempty"`
	Email             string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the token subject.
func (c *Claims) UserID() string {
	return c.Subject
}

// DisplayName returns the first non-empty trimmed username candidate, or "" when the token carries none.
func (c *Claims) DisplayName() string {
	for _, candidate := range []string{c.PreferredUsername, c.Username, c.Nickname, c.Email} {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
