package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mercatopro/mercato/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const (
	keyCheckout = "ratelimit:checkout:%s"
	keyIPN      = "ratelimit:ipn:%s"
)

// RequestLimiter throttles the checkout and IPN endpoints per client IP.
// A nil limiter allows everything, so the server works without Redis.
type RequestLimiter struct {
	bucket *TokenBucket

	checkoutRate  float64
	checkoutBurst int
	ipnRate       float64
	ipnBurst      int
}

func NewRequestLimiter(cfg config.Config) (*RequestLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.CheckoutRate <= 0 || limitCfg.CheckoutBurst <= 0 {
		return nil, errors.New("checkout rate limit must be positive")
	}
	if limitCfg.IPNRate <= 0 || limitCfg.IPNBurst <= 0 {
		return nil, errors.New("ipn rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &RequestLimiter{
		bucket:        NewTokenBucket(client),
		checkoutRate:  limitCfg.CheckoutRate,
		checkoutBurst: limitCfg.CheckoutBurst,
		ipnRate:       limitCfg.IPNRate,
		ipnBurst:      limitCfg.IPNBurst,
	}, nil
}

func (l *RequestLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *RequestLimiter) AllowCheckout(ctx context.Context, clientIP string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyCheckout, strings.TrimSpace(clientIP)), l.checkoutRate, l.checkoutBurst)
}

func (l *RequestLimiter) AllowIPN(ctx context.Context, clientIP string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyIPN, strings.TrimSpace(clientIP)), l.ipnRate, l.ipnBurst)
}
