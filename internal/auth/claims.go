package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for this service.
// PartyID binds a device token to the restaurant or screen it acts for;
// super admin tokens carry no party.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id"`
	PartyID   string    `json:"party_id,omitempty"`
	Role      string    `json:"role"`
	TokenType TokenType `json:"token_type"`
}
