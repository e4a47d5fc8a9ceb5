package transfer

import "github.com/golang-jwt/jwt/v5"

// CustomClaims identify an operator. UserID is the numeric chat user id checked
// against the allowed users list.
type CustomClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}
