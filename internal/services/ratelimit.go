package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/lumora/affinity/internal/config"
	"github.com/lumora/affinity/pkg/models"
)

type RateLimitService struct {
	config      *config.Config
	logger      *logrus.Logger
	redisClient *redis.Client
}

func NewRateLimitService(cfg *config.Config, logger *logrus.Logger, redisClient *redis.Client) *RateLimitService {
	return &RateLimitService{
		config:      cfg,
		logger:      logger,
		redisClient: redisClient,
	}
}

// CheckLimit records one request for the caller and returns the sliding
// window counters. Unauthenticated callers are bucketed by client address.
func (s *RateLimitService) CheckLimit(callerKey, userTier string) (*models.RateLimitInfo, error) {
	limit := s.getLimitForTier(userTier)
	window := s.config.Auth.RateLimit.Window

	key := fmt.Sprintf("rate_limit:caller:%s", callerKey)

	now := time.Now()
	windowStart := now.Add(-window)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pipe := s.redisClient.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.Unix(), 10))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.Unix()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	pipe.Expire(ctx, key, window)

	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.WithError(err).Error("Failed to execute rate limit pipeline")
		// Permissive when Redis is down: throttling must not take admission
		// down with it.
		return &models.RateLimitInfo{
			Limit:     limit,
			Remaining: limit - 1,
			ResetTime: now.Add(window).Unix(),
		}, nil
	}

	currentCount := int(countCmd.Val())
	remaining := limit - currentCount
	if remaining < 0 {
		remaining = 0
	}

	return &models.RateLimitInfo{
		Limit:     limit,
		Remaining: remaining,
		ResetTime: now.Add(window).Unix(),
	}, nil
}

func (s *RateLimitService) IsAllowed(callerKey, userTier string) (bool, *models.RateLimitInfo, error) {
	info, err := s.CheckLimit(callerKey, userTier)
	if err != nil {
		return false, nil, err
	}
	return info.Remaining > 0, info, nil
}

func (s *RateLimitService) getLimitForTier(userTier string) int {
	switch userTier {
	case "premium":
		return s.config.Auth.RateLimit.Premium
	default:
		return s.config.Auth.RateLimit.Default
	}
}
