package api_models

import (
	"github.com/golang-jwt/jwt/v5"
)

// Config holds JWT verification settings
type Config struct {
	SecretKey string
	Issuer    string
}

// AccessClaims are the identity claims carried by a viewer's bearer token
type AccessClaims struct {
	jwt.RegisteredClaims
	UserID   int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}
