package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/lumora/affinity/internal/config"
	"github.com/lumora/affinity/pkg/models"
)

// AuthService issues and resolves bearer tokens. Tokens are optional on most
// endpoints; when present they pin the caller identity.
type AuthService struct {
	config      *config.Config
	logger      *logrus.Logger
	redisClient *redis.Client
	jwtSecret   []byte
}

func NewAuthService(cfg *config.Config, logger *logrus.Logger, redisClient *redis.Client) *AuthService {
	return &AuthService{
		config:      cfg,
		logger:      logger,
		redisClient: redisClient,
		jwtSecret:   []byte(cfg.Auth.JWTSecret),
	}
}

// Enabled reports whether token resolution is configured at all.
func (s *AuthService) Enabled() bool {
	return len(s.jwtSecret) > 0
}

func (s *AuthService) GenerateToken(userID int64, userTier string) (string, error) {
	if !s.Enabled() {
		return "", fmt.Errorf("token generation disabled: no JWT secret configured")
	}

	now := time.Now()
	claims := &models.JWTClaims{
		UserID:   userID,
		UserTier: userTier,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.Auth.TokenTTL)),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "github.com/lumora/affinity",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	// Session record lets tokens be revoked before expiry.
	sessionKey := fmt.Sprintf("session:%d", userID)
	if err := s.redisClient.Set(context.Background(), sessionKey, tokenString, s.config.Auth.TokenTTL).Err(); err != nil {
		s.logger.WithError(err).Warn("Failed to store session in Redis")
		// Token generation still succeeds when Redis is down.
	}

	return tokenString, nil
}

func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	sessionKey := fmt.Sprintf("session:%d", claims.UserID)
	exists, err := s.redisClient.Exists(context.Background(), sessionKey).Result()
	if err != nil {
		s.logger.WithError(err).Warn("Failed to check session in Redis")
		// Continue validation even if Redis is down.
	} else if exists == 0 {
		return nil, fmt.Errorf("session not found or expired")
	}

	return claims, nil
}

// ResolveBearer extracts the caller id and tier from an Authorization header
// value. Returns (0, "", nil) when no token is supplied or auth is not
// configured.
func (s *AuthService) ResolveBearer(header string) (int64, string, error) {
	if header == "" || !s.Enabled() {
		return 0, "", nil
	}

	tokenString := strings.TrimPrefix(header, "Bearer ")
	if tokenString == header {
		return 0, "", fmt.Errorf("authorization header must use Bearer scheme")
	}

	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return 0, "", err
	}
	return claims.UserID, claims.UserTier, nil
}

func (s *AuthService) RevokeToken(userID int64) error {
	sessionKey := fmt.Sprintf("session:%d", userID)
	if err := s.redisClient.Del(context.Background(), sessionKey).Err(); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}
