package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims represents the JWT payload issued by the identity provider.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}

// Actor is an authenticated user acting through a connected session.
type Actor struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	IsAdmin   bool   `json:"isAdmin"`
}
