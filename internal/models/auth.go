package models

import "github.com/golang-jwt/jwt/v5"

// UserRole represents the roles accepted on admin API tokens.
type UserRole string

const (
	RoleAdmin    UserRole = "ADMIN"
	RoleOperator UserRole = "OPERATOR"
)

// JWTClaims represents the JWT payload for admin API tokens.
type JWTClaims struct {
	UserID string   `json:"user_id"`
	Role   UserRole `json:"role"`
	jwt.RegisteredClaims
}
