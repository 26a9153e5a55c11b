package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims identifies the caller on event admission. A token's user id
// overrides any user_id supplied in the request body.
type JWTClaims struct {
	UserID   int64  `json:"user_id"`
	UserTier string `json:"user_tier,omitempty"` // default, premium
	jwt.RegisteredClaims
}

type RateLimitInfo struct {
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	ResetTime int64 `json:"reset_time"`
}
