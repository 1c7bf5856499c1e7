package auth

import "github.com/golang-jwt/jwt/v5"

// Claims represents the JWT claims for gateway access tokens. Subject
// carries the worker ID for worker tokens and an operator identifier for
// observer tokens; Role decides which registry path the connection takes.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}
