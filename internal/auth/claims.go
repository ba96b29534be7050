package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for this service.
// Chat membership is never carried in the token; it is resolved per request.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id"`
	TokenType TokenType `json:"token_type"`
}
