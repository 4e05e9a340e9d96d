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

package tenants

import (
	"context"
	"fmt"
	"sync"
	"time"

	"centerline/core/shared/logger"
	"centerline/core/shared/types"
	"centerline/core/store"
)

// HealthCheckTimeout bounds each subsystem probe during a health check.
const HealthCheckTimeout = 5 * time.Second

// Signals are the routing inputs extracted from an inbound request.
type Signals struct {
	// TenantID is an explicit tenant id, e.g. from a routing header.
	TenantID string

	// IdentityTenantID is the tenant derived from an authenticated
	// caller's profile, when the façade supplies one.
	IdentityTenantID string

	// GeoRegion is reserved for geolocation-based routing. It never
	// matches today.
	GeoRegion string
}

// StoreFactory builds a storage handle for one tenant profile.
type StoreFactory func(ctx context.Context, profile types.TenantProfile) (store.Store, error)

// ToolProber checks a tenant's remote tool endpoint. The connection
// manager satisfies it; Connect is idempotent so probing is cheap when
// the tenant is already connected.
type ToolProber interface {
	Connect(ctx context.Context, tenantID string) (types.ConnectionState, error)
}

// Router resolves inbound turns to a tenant profile and owns the lazy,
// construct-once storage handle per tenant.
type Router struct {
	registry *Registry
	newStore StoreFactory
	prober   ToolProber
	log      *logger.Logger

	mu     sync.Mutex
	stores map[string]store.Store
}

// NewRouter creates a Router. prober may be nil when no tenant has
// remote tools enabled.
func NewRouter(registry *Registry, newStore StoreFactory, prober ToolProber) *Router {
	return &Router{
		registry: registry,
		newStore: newStore,
		prober:   prober,
		log:      logger.New("tenant-router"),
		stores:   make(map[string]store.Store),
	}
}

// ResolveTenant maps routing signals to a tenant profile. Precedence:
// explicit tenant id, then identity-derived tenant, then geolocation
// (reserved, never matches), then the configured default. An id with no
// matching profile substitutes the default tenant and is logged, never
// surfaced to the caller.
func (r *Router) ResolveTenant(signals Signals) types.TenantProfile {
	for _, candidate := range []string{signals.TenantID, signals.IdentityTenantID} {
		if candidate == "" {
			continue
		}
		p, err := r.registry.Profile(candidate)
		if err != nil {
			r.log.Warn(candidate, "", "Unknown tenant id, substituting default", map[string]interface{}{
				"default": r.registry.Default().ID,
			})
			return r.registry.Default()
		}
		return p
	}

	// Geolocation routing is reserved; signals.GeoRegion never matches.

	return r.registry.Default()
}

// GetStorageHandle returns the tenant's storage handle, creating it on
// first use. Construction happens under the router lock so concurrent
// first-use by multiple turns yields exactly one handle.
func (r *Router) GetStorageHandle(ctx context.Context, tenantID string) (store.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[tenantID]; ok {
		return s, nil
	}

	profile, err := r.registry.Profile(tenantID)
	if err != nil {
		return nil, err
	}

	s, err := r.newStore(ctx, profile)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage handle for tenant %s: %w", tenantID, err)
	}

	r.stores[tenantID] = s
	r.log.Info(tenantID, "", "Storage handle created", map[string]interface{}{
		"storage_ref": profile.StorageRef,
	})
	return s, nil
}

// HealthCheck probes every configured tenant that is not offline. A
// tenant is healthy only if its storage responds and, when remote tools
// are enabled, its tool endpoint connects, each within
// HealthCheckTimeout. A failing active tenant is downgraded to
// maintenance; a maintenance tenant whose subsystems recover is
// restored to active.
func (r *Router) HealthCheck(ctx context.Context) map[string]bool {
	results := make(map[string]bool)

	for _, profile := range r.registry.All() {
		if profile.Status == types.TenantOffline {
			continue
		}
		healthy := r.checkTenant(ctx, profile)
		results[profile.ID] = healthy
		r.updateStatus(profile, healthy)
	}
	return results
}

func (r *Router) updateStatus(profile types.TenantProfile, healthy bool) {
	switch {
	case !healthy && profile.Status == types.TenantActive:
		if err := r.registry.SetStatus(profile.ID, types.TenantMaintenance); err == nil {
			r.log.Warn(profile.ID, "", "Tenant downgraded to maintenance after failed health check", nil)
		}
	case healthy && profile.Status == types.TenantMaintenance:
		if err := r.registry.SetStatus(profile.ID, types.TenantActive); err == nil {
			r.log.Info(profile.ID, "", "Tenant restored to active after recovery", nil)
		}
	}
}

func (r *Router) checkTenant(ctx context.Context, profile types.TenantProfile) bool {
	checkCtx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	s, err := r.GetStorageHandle(checkCtx, profile.ID)
	if err != nil {
		r.log.Warn(profile.ID, "", "Health check: storage handle unavailable", map[string]interface{}{
			"error": err.Error(),
		})
		return false
	}
	if err := s.Ping(checkCtx); err != nil {
		r.log.Warn(profile.ID, "", "Health check: storage unreachable", map[string]interface{}{
			"error": err.Error(),
		})
		return false
	}

	if profile.RemoteToolsEnabled && r.prober != nil {
		state, err := r.prober.Connect(checkCtx, profile.ID)
		if err != nil || state.Status != types.StatusConnected {
			r.log.Warn(profile.ID, "", "Health check: tool endpoint unreachable", map[string]interface{}{
				"endpoint": profile.ToolEndpoint,
			})
			return false
		}
	}

	return true
}

// CloseStores closes every constructed storage handle. Used for graceful
// process exit.
func (r *Router) CloseStores(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, s := range r.stores {
		if err := s.Close(ctx); err != nil {
			r.log.Warn(id, "", "Failed to close storage handle", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
	r.stores = make(map[string]store.Store)
}
