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

// Package tenants holds the tenant configuration model, the profile
// registry, and the router that resolves inbound turns to a tenant and
// its storage handle.
package tenants

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"centerline/core/shared/types"
)

// ErrUnknownTenant is returned when a tenant id has no matching profile.
// The router substitutes the default tenant rather than surfacing this
// to callers; it exists for collaborators that need the distinction.
var ErrUnknownTenant = errors.New("unknown tenant")

// Registry holds the tenant profiles loaded at process start. Profiles
// are immutable at runtime except Status, which a health check may
// downgrade through SetStatus.
type Registry struct {
	mu        sync.RWMutex
	profiles  map[string]types.TenantProfile
	defaultID string
}

// NewRegistry builds a Registry from loaded configuration. The default
// tenant id must reference one of the profiles.
func NewRegistry(cfg *Config) (*Registry, error) {
	if len(cfg.Profiles) == 0 {
		return nil, errors.New("no tenant profiles configured")
	}

	profiles := make(map[string]types.TenantProfile, len(cfg.Profiles))
	for _, p := range cfg.Profiles {
		if p.ID == "" {
			return nil, errors.New("tenant profile with empty id")
		}
		if _, dup := profiles[p.ID]; dup {
			return nil, fmt.Errorf("duplicate tenant profile %q", p.ID)
		}
		profiles[p.ID] = p
	}

	defaultID := cfg.Settings.DefaultTenantID
	if defaultID == "" {
		defaultID = cfg.Profiles[0].ID
	}
	if _, ok := profiles[defaultID]; !ok {
		return nil, fmt.Errorf("default tenant %q has no profile", defaultID)
	}

	return &Registry{profiles: profiles, defaultID: defaultID}, nil
}

// Profile returns the profile for a tenant id. Satisfies the connection
// manager's profile source.
func (r *Registry) Profile(tenantID string) (types.TenantProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.profiles[tenantID]
	if !ok {
		return types.TenantProfile{}, fmt.Errorf("%w: %s", ErrUnknownTenant, tenantID)
	}
	return p, nil
}

// Default returns the configured default tenant profile.
func (r *Registry) Default() types.TenantProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.profiles[r.defaultID]
}

// All returns every profile, ordered by id.
func (r *Registry) All() []types.TenantProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.TenantProfile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetStatus updates a tenant's lifecycle status. Used by health checks
// to downgrade an unreachable tenant to maintenance.
func (r *Registry) SetStatus(tenantID string, status types.TenantStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.profiles[tenantID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTenant, tenantID)
	}
	p.Status = status
	r.profiles[tenantID] = p
	return nil
}
