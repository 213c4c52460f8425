package ratelimit

import (
	"context"
	"fmt"
	"strings"

	"github.com/mestredigital/creditos/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const keyConsumeUser = "credits:consume:user:%s"

// ConsumeLimiter throttles per-user debit traffic. Disabled (allow-all)
// when Redis is not configured.
type ConsumeLimiter struct {
	enabled bool
	bucket  *TokenBucket
	rate    float64
	burst   int
}

// NewRedisClient returns nil when no Redis address is configured; every
// consumer treats a nil client as "feature disabled".
func NewRedisClient(cfg config.Config) *redis.Client {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})
}

func NewConsumeLimiter(cfg config.Config, client *redis.Client) *ConsumeLimiter {
	if client == nil || cfg.ConsumeRatePerSec <= 0 || cfg.ConsumeBurst <= 0 {
		return &ConsumeLimiter{}
	}
	return &ConsumeLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		rate:    cfg.ConsumeRatePerSec,
		burst:   cfg.ConsumeBurst,
	}
}

func (l *ConsumeLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// AllowUser reports whether the user may issue another debit right now.
func (l *ConsumeLimiter) AllowUser(ctx context.Context, userID string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyConsumeUser, strings.TrimSpace(userID)), l.rate, l.burst)
}
