// Copyright 2025 Centerline
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ratelimit provides a Redis-backed sliding-window rate limiter
// for remote tool invocations, shared across instances. Redis outages
// fail open: a tool call is never dropped because the limiter is down.
package ratelimit

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultLimitPerMinute is applied when a tenant has no explicit limit.
const DefaultLimitPerMinute = 120

// Limiter counts remote tool invocations per tenant over a one-minute
// sliding window.
type Limiter struct {
	client *redis.Client
	limit  int
}

// New creates a Limiter from a Redis URL (redis://host:port[/db]).
// Returns an error only on unparseable URLs; connection problems surface
// later and fail open.
func New(redisURL string, limitPerMinute int) (*Limiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if limitPerMinute <= 0 {
		limitPerMinute = DefaultLimitPerMinute
	}

	return &Limiter{
		client: redis.NewClient(opts),
		limit:  limitPerMinute,
	}, nil
}

// NewWithClient creates a Limiter around an existing client (tests).
func NewWithClient(client *redis.Client, limitPerMinute int) *Limiter {
	if limitPerMinute <= 0 {
		limitPerMinute = DefaultLimitPerMinute
	}
	return &Limiter{client: client, limit: limitPerMinute}
}

// Allow records one invocation for the tenant and reports whether it is
// within the limit. On Redis errors it logs and allows the request.
func (l *Limiter) Allow(ctx context.Context, tenantID string) error {
	if l == nil || l.client == nil {
		return nil
	}

	now := time.Now()
	key := fmt.Sprintf("toollimit:%s", tenantID)

	// Pipeline keeps the window maintenance atomic enough for limiting
	// purposes (exact fairness is not required here).
	pipe := l.client.Pipeline()

	minScore := now.Add(-time.Minute).Unix()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", minScore))
	pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, &redis.Z{
		Score:  float64(now.Unix()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	pipe.Expire(ctx, key, 2*time.Minute)

	cmds, err := pipe.Exec(ctx)
	if err != nil {
		log.Printf("[RATELIMIT] Redis check failed for tenant %s: %v (failing open)", tenantID, err)
		return nil
	}

	count := cmds[1].(*redis.IntCmd).Val()
	if count >= int64(l.limit) {
		return fmt.Errorf("tool invocation rate limit exceeded for tenant %s: %d calls/minute (limit: %d)",
			tenantID, count+1, l.limit)
	}

	return nil
}

// Status returns the current window count for a tenant.
func (l *Limiter) Status(ctx context.Context, tenantID string) (int64, error) {
	if l == nil || l.client == nil {
		return 0, nil
	}

	key := fmt.Sprintf("toollimit:%s", tenantID)
	minScore := time.Now().Add(-time.Minute).Unix()

	count, err := l.client.ZCount(ctx, key, fmt.Sprintf("%d", minScore), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get rate limit status: %w", err)
	}
	return count, nil
}

// Close releases the underlying Redis connection pool.
func (l *Limiter) Close() error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Close()
}
