package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/folio/internal/config"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	keyVerifyClient = "folio:verify:client:%s"

	localLimiterIdleTTL = 10 * time.Minute
)

// VerifyLimiter throttles the public verification endpoints per client.
// A shared Redis bucket is used when configured, otherwise each process
// keeps its own buckets.
type VerifyLimiter struct {
	bucket *TokenBucket
	log    *zap.Logger

	rate  float64
	burst int

	mu    sync.Mutex
	local map[string]*localLimiter
}

type localLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

func NewVerifyLimiter(cfg config.Config, bucket *TokenBucket, log *zap.Logger) *VerifyLimiter {
	return &VerifyLimiter{
		bucket: bucket,
		log:    log.Named("ratelimit.verify"),
		rate:   cfg.Verify.RatePerSecond,
		burst:  cfg.Verify.Burst,
		local:  make(map[string]*localLimiter),
	}
}

// Enabled reports whether a positive rate is configured.
func (v *VerifyLimiter) Enabled() bool {
	return v != nil && v.rate > 0 && v.burst > 0
}

func (v *VerifyLimiter) Allow(ctx context.Context, clientKey string) Decision {
	if !v.Enabled() {
		return Decision{Allowed: true}
	}
	clientKey = strings.TrimSpace(clientKey)
	if clientKey == "" {
		clientKey = "anonymous"
	}

	if v.bucket != nil {
		res, err := v.bucket.Allow(ctx, fmt.Sprintf(keyVerifyClient, clientKey), v.rate, v.burst)
		if err == nil {
			return Decision{Allowed: res.Allowed, RetryAfter: res.RetryAfter}
		}
		// fall back to local buckets rather than failing verification
		v.log.Warn("redis rate limiter unavailable", zap.Error(err))
	}
	return v.allowLocal(clientKey, time.Now())
}

func (v *VerifyLimiter) allowLocal(clientKey string, now time.Time) Decision {
	v.mu.Lock()
	defer v.mu.Unlock()

	for key, l := range v.local {
		if now.Sub(l.lastSeen) > localLimiterIdleTTL {
			delete(v.local, key)
		}
	}

	l, ok := v.local[clientKey]
	if !ok {
		l = &localLimiter{limiter: rate.NewLimiter(rate.Limit(v.rate), v.burst)}
		v.local[clientKey] = l
	}
	l.lastSeen = now

	r := l.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Decision{Allowed: false, RetryAfter: delay}
	}
	return Decision{Allowed: true}
}
