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

// Package manager owns per-tenant remote tool connection state: the
// handshake, catalog discovery through the TTL cache, invocation, and
// the background health loop. At most one ConnectionState exists per
// tenant per process; each is guarded by its own mutex rather than
// relying on incidental idempotence of racing connects.
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"centerline/core/shared/logger"
	"centerline/core/shared/types"
	"centerline/core/toolbridge/cache"
	"centerline/core/toolbridge/ratelimit"
	"centerline/core/toolbridge/rpc"
)

// DefaultHealthInterval is how often the background loop re-validates a
// tenant's connection.
const DefaultHealthInterval = 30 * time.Second

// ConnectionError indicates a handshake or health-check failure against
// a tenant's tool endpoint. The caller decides whether to degrade to the
// fallback provider; the background health loop handles retrying.
type ConnectionError struct {
	TenantID string
	Endpoint string
	Message  string
	Cause    error
}

func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("connection to tenant %s (%s) failed: %s: %v", e.TenantID, e.Endpoint, e.Message, e.Cause)
	}
	return fmt.Sprintf("connection to tenant %s (%s) failed: %s", e.TenantID, e.Endpoint, e.Message)
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

// ToolClient is the protocol surface the manager needs from a tool
// server client. *rpc.Client satisfies it; tests substitute fakes.
type ToolClient interface {
	Health(ctx context.Context) error
	ListTools(ctx context.Context) ([]rpc.ManifestTool, error)
	CallTool(ctx context.Context, name string, arguments map[string]interface{}) (interface{}, error)
	Endpoint() string
}

// ProfileSource resolves tenant profiles. Implemented by the tenant
// registry; declared here so the manager does not depend on it.
type ProfileSource interface {
	Profile(tenantID string) (types.TenantProfile, error)
}

// connection is the per-tenant shared state. All mutation happens under
// mu; the manager map only ever grows for the process lifetime.
type connection struct {
	mu           sync.Mutex
	state        types.ConnectionState
	client       ToolClient
	cancelHealth context.CancelFunc
}

// Options configures a Manager.
type Options struct {
	Profiles       ProfileSource
	Cache          *cache.DiscoveryCache
	Limiter        *ratelimit.Limiter // optional, nil disables limiting
	HealthInterval time.Duration
	CacheTTL       time.Duration

	// NewClient overrides protocol client construction (tests).
	NewClient func(endpoint string) ToolClient
}

// Manager coordinates all remote tool connections.
type Manager struct {
	mu    sync.Mutex
	conns map[string]*connection

	profiles       ProfileSource
	cache          *cache.DiscoveryCache
	limiter        *ratelimit.Limiter
	healthInterval time.Duration
	cacheTTL       time.Duration
	newClient      func(endpoint string) ToolClient
	log            *logger.Logger
}

// New creates a Manager.
func New(opts Options) *Manager {
	healthInterval := opts.HealthInterval
	if healthInterval <= 0 {
		healthInterval = DefaultHealthInterval
	}

	c := opts.Cache
	if c == nil {
		c = cache.New(opts.CacheTTL)
	}

	newClient := opts.NewClient
	if newClient == nil {
		newClient = func(endpoint string) ToolClient { return rpc.NewClient(endpoint) }
	}

	return &Manager{
		conns:          make(map[string]*connection),
		profiles:       opts.Profiles,
		cache:          c,
		limiter:        opts.Limiter,
		healthInterval: healthInterval,
		cacheTTL:       opts.CacheTTL,
		newClient:      newClient,
		log:            logger.New("tool-manager"),
	}
}

// conn returns the tenant's connection record, creating it on first use.
func (m *Manager) conn(tenantID string) (*connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.conns[tenantID]; ok {
		return c, nil
	}

	profile, err := m.profiles.Profile(tenantID)
	if err != nil {
		return nil, err
	}
	if !profile.RemoteToolsEnabled || profile.ToolEndpoint == "" {
		return nil, &ConnectionError{TenantID: tenantID, Message: "tenant has no remote tool endpoint"}
	}

	c := &connection{
		state: types.ConnectionState{
			TenantID: tenantID,
			Status:   types.StatusDisconnected,
			Endpoint: profile.ToolEndpoint,
		},
		client: m.newClient(profile.ToolEndpoint),
	}
	m.conns[tenantID] = c
	return c, nil
}

// Connect establishes (or reuses) the tenant's connection. It is
// idempotent: an existing connected state is returned unchanged without
// a second handshake. On handshake failure the state is marked error and
// a ConnectionError is returned; the caller decides whether to degrade
// to the fallback provider.
func (m *Manager) Connect(ctx context.Context, tenantID string) (types.ConnectionState, error) {
	c, err := m.conn(tenantID)
	if err != nil {
		return types.ConnectionState{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Status == types.StatusConnected {
		return c.state, nil
	}

	c.state.Status = types.StatusConnecting

	// The protocol client enforces the 5s handshake timeout.
	if err := c.client.Health(ctx); err != nil {
		c.state.Status = types.StatusError
		m.log.Warn(tenantID, "", "Tool endpoint handshake failed", map[string]interface{}{
			"endpoint": c.state.Endpoint,
			"error":    err.Error(),
		})
		return c.state, &ConnectionError{TenantID: tenantID, Endpoint: c.state.Endpoint, Message: "handshake failed", Cause: err}
	}

	c.state.Status = types.StatusConnected
	c.state.LastHealthy = time.Now()
	m.startHealthLoopLocked(tenantID, c)

	m.log.Info(tenantID, "", "Tool endpoint connected", map[string]interface{}{
		"endpoint": c.state.Endpoint,
	})
	return c.state, nil
}

// ListTools returns the tenant's remote tool catalog, consulting the
// discovery cache first. On a miss it ensures a connection, fetches the
// manifest, normalizes each entry into a ToolDescriptor, and populates
// the cache with the default TTL. Connection failures propagate as
// ConnectionError.
func (m *Manager) ListTools(ctx context.Context, tenantID string) ([]types.ToolDescriptor, error) {
	if tools, ok := m.cache.Get(tenantID); ok {
		return tools, nil
	}

	c, err := m.conn(tenantID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	connected := c.state.Status == types.StatusConnected
	c.mu.Unlock()

	if !connected {
		if _, err := m.Connect(ctx, tenantID); err != nil {
			return nil, err
		}
	}

	// The protocol client enforces the 10s discovery timeout.
	manifest, err := c.client.ListTools(ctx)
	if err != nil {
		return nil, &ConnectionError{TenantID: tenantID, Endpoint: c.client.Endpoint(), Message: "tool discovery failed", Cause: err}
	}

	tools := make([]types.ToolDescriptor, 0, len(manifest))
	for _, entry := range manifest {
		tools = append(tools, types.ToolDescriptor{
			Name:        entry.Name,
			Description: entry.Description,
			Parameters:  entry.InputSchema,
			Origin:      types.OriginRemote,
		})
	}

	m.cache.Put(tenantID, tools, m.cacheTTL)
	m.log.Info(tenantID, "", "Discovered remote tools", map[string]interface{}{
		"count": len(tools),
	})
	return tools, nil
}

// Invoke executes a remote tool call. It never raises: every transport,
// protocol, and rate-limit failure is converted into a failed
// ToolInvocationResult. A connected state is required; callers that lack
// one must Connect first or use the fallback provider instead.
func (m *Manager) Invoke(ctx context.Context, tenantID string, invocation types.ToolInvocation) types.ToolInvocationResult {
	c, err := m.conn(tenantID)
	if err != nil {
		return failed(invocation.CallID, err)
	}

	c.mu.Lock()
	connected := c.state.Status == types.StatusConnected
	c.mu.Unlock()

	if !connected {
		return failed(invocation.CallID, fmt.Errorf("tenant %s has no connected tool endpoint", tenantID))
	}

	if m.limiter != nil {
		if err := m.limiter.Allow(ctx, tenantID); err != nil {
			return failed(invocation.CallID, err)
		}
	}

	// The protocol client enforces the 30s invocation timeout.
	payload, err := c.client.CallTool(ctx, invocation.Tool, invocation.Arguments)
	if err != nil {
		m.log.Warn(tenantID, "", "Remote tool invocation failed", map[string]interface{}{
			"tool":    invocation.Tool,
			"call_id": invocation.CallID,
			"error":   err.Error(),
		})
		return failed(invocation.CallID, err)
	}

	return types.ToolInvocationResult{
		CallID:  invocation.CallID,
		Success: true,
		Payload: payload,
	}
}

func failed(callID string, err error) types.ToolInvocationResult {
	return types.ToolInvocationResult{CallID: callID, Success: false, Error: err.Error()}
}

// StartHealthLoop starts (or restarts) the tenant's background health
// loop. Exactly one loop runs per tenant; starting it again first
// cancels the previous loop's timer.
func (m *Manager) StartHealthLoop(tenantID string) error {
	c, err := m.conn(tenantID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	m.startHealthLoopLocked(tenantID, c)
	return nil
}

// startHealthLoopLocked requires c.mu to be held.
func (m *Manager) startHealthLoopLocked(tenantID string, c *connection) {
	if c.cancelHealth != nil {
		c.cancelHealth()
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancelHealth = cancel

	go m.healthLoop(loopCtx, tenantID, c)
}

// healthLoop periodically re-validates the connection. On a failed probe
// it flips the state to error and attempts exactly one immediate
// reconnect; further recovery waits for the next tick. The loop never
// touches a caller's in-flight request.
func (m *Manager) healthLoop(ctx context.Context, tenantID string, c *connection) {
	ticker := time.NewTicker(m.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.client.Health(ctx); err != nil {
				c.mu.Lock()
				c.state.Status = types.StatusError
				c.mu.Unlock()

				m.log.Warn(tenantID, "", "Health probe failed, attempting reconnect", map[string]interface{}{
					"error": err.Error(),
				})

				if err := c.client.Health(ctx); err == nil {
					c.mu.Lock()
					c.state.Status = types.StatusConnected
					c.state.LastHealthy = time.Now()
					c.mu.Unlock()
				}
				continue
			}

			c.mu.Lock()
			c.state.Status = types.StatusConnected
			c.state.LastHealthy = time.Now()
			c.mu.Unlock()
		}
	}
}

// Disconnect marks the tenant disconnected, cancels its health loop, and
// invalidates its discovery cache entry.
func (m *Manager) Disconnect(tenantID string) {
	m.mu.Lock()
	c, ok := m.conns[tenantID]
	m.mu.Unlock()
	if !ok {
		return
	}

	c.mu.Lock()
	c.state.Status = types.StatusDisconnected
	if c.cancelHealth != nil {
		c.cancelHealth()
		c.cancelHealth = nil
	}
	c.mu.Unlock()

	m.cache.Invalidate(tenantID)
	m.log.Info(tenantID, "", "Tool endpoint disconnected", nil)
}

// Status returns the tenant's current connection state. Tenants never
// seen by the manager report disconnected.
func (m *Manager) Status(tenantID string) types.ConnectionState {
	m.mu.Lock()
	c, ok := m.conns[tenantID]
	m.mu.Unlock()
	if !ok {
		return types.ConnectionState{TenantID: tenantID, Status: types.StatusDisconnected}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Shutdown disconnects every tenant. Used for graceful process exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Disconnect(id)
	}
}
