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

// Package cache provides the per-tenant tool discovery cache: a TTL
// key/value cache of remote tool catalogs with a background sweep that
// purges expired entries independent of access pattern.
package cache

import (
	"context"
	"log"
	"sync"
	"time"

	"centerline/core/shared/types"
)

const (
	// DefaultTTL is how long a discovered tool catalog stays fresh.
	DefaultTTL = 5 * time.Minute

	// SweepInterval is how often the background sweep purges expired
	// entries, bounding growth from churn across tenants.
	SweepInterval = 60 * time.Second
)

// entry is a cached tool catalog with its expiry.
type entry struct {
	tools     []types.ToolDescriptor
	expiresAt time.Time
}

func (e *entry) isExpired() bool {
	return time.Now().After(e.expiresAt)
}

// Stats tracks cache performance metrics.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

// DiscoveryCache caches each tenant's remote tool catalog. An expired
// entry is never returned, even before the sweep removes it.
type DiscoveryCache struct {
	mu      sync.RWMutex
	entries map[string]*entry // key: tenantID
	ttl     time.Duration

	statsMu sync.Mutex
	stats   Stats
}

// New creates a DiscoveryCache with the given default TTL. Non-positive
// TTLs fall back to DefaultTTL.
func New(ttl time.Duration) *DiscoveryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &DiscoveryCache{
		entries: make(map[string]*entry),
		ttl:     ttl,
	}
}

// Get returns the cached catalog for a tenant, or ok=false on a miss or
// an expired entry.
func (c *DiscoveryCache) Get(tenantID string) ([]types.ToolDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, exists := c.entries[tenantID]
	if !exists || e.isExpired() {
		c.recordMiss()
		return nil, false
	}

	c.recordHit()
	return e.tools, true
}

// Put caches a tenant's catalog. A non-positive ttl uses the cache
// default.
func (c *DiscoveryCache) Put(tenantID string, tools []types.ToolDescriptor, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[tenantID] = &entry{
		tools:     tools,
		expiresAt: time.Now().Add(ttl),
	}
}

// Invalidate drops a tenant's cached catalog (called on disconnect).
func (c *DiscoveryCache) Invalidate(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[tenantID]; exists {
		delete(c.entries, tenantID)
		c.recordEvictions(1)
	}
}

// Len returns the number of cached catalogs, expired or not.
func (c *DiscoveryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep removes expired entries and returns how many were purged.
func (c *DiscoveryCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for tenantID, e := range c.entries {
		if e.isExpired() {
			delete(c.entries, tenantID)
			evicted++
		}
	}

	if evicted > 0 {
		c.recordEvictions(evicted)
	}
	return evicted
}

// StartSweep runs the background sweep loop until ctx is canceled.
func (c *DiscoveryCache) StartSweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = SweepInterval
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Println("[DISCOVERY_CACHE] Stopping background sweep")
				return
			case <-ticker.C:
				if n := c.Sweep(); n > 0 {
					log.Printf("[DISCOVERY_CACHE] Swept %d expired catalog(s)", n)
				}
			}
		}
	}()
}

// GetStats returns a copy of the cache performance counters.
func (c *DiscoveryCache) GetStats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

func (c *DiscoveryCache) recordHit() {
	c.statsMu.Lock()
	c.stats.Hits++
	c.statsMu.Unlock()
}

func (c *DiscoveryCache) recordMiss() {
	c.statsMu.Lock()
	c.stats.Misses++
	c.statsMu.Unlock()
}

func (c *DiscoveryCache) recordEvictions(n int) {
	c.statsMu.Lock()
	c.stats.Evictions += int64(n)
	c.statsMu.Unlock()
}
