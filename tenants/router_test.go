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
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"centerline/core/shared/types"
	"centerline/core/store"
	"centerline/core/store/memory"
)

func countingFactory(constructed *atomic.Int64) StoreFactory {
	return func(ctx context.Context, profile types.TenantProfile) (store.Store, error) {
		constructed.Add(1)
		return memory.New(), nil
	}
}

func newTestRouter(t *testing.T, constructed *atomic.Int64) *Router {
	t.Helper()
	r, err := NewRegistry(testConfig())
	require.NoError(t, err)
	return NewRouter(r, countingFactory(constructed), nil)
}

func TestResolveTenantPrecedence(t *testing.T) {
	var n atomic.Int64
	router := newTestRouter(t, &n)

	tests := []struct {
		name    string
		signals Signals
		want    string
	}{
		{"explicit id wins", Signals{TenantID: "center-2", IdentityTenantID: "center-1"}, "center-2"},
		{"identity when no explicit", Signals{IdentityTenantID: "center-2"}, "center-2"},
		{"geo is reserved and never matches", Signals{GeoRegion: "eu-west"}, "center-1"},
		{"no signals falls to default", Signals{}, "center-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, router.ResolveTenant(tt.signals).ID)
		})
	}
}

func TestResolveUnknownTenantSubstitutesDefault(t *testing.T) {
	var n atomic.Int64
	router := newTestRouter(t, &n)

	p := router.ResolveTenant(Signals{TenantID: "nope"})
	assert.Equal(t, "center-1", p.ID, "unknown tenant must yield the default profile, not an error")
}

func TestGetStorageHandleConstructOnce(t *testing.T) {
	var constructed atomic.Int64
	router := newTestRouter(t, &constructed)
	ctx := context.Background()

	// Concurrent first-use by many turns must build exactly one handle.
	var wg sync.WaitGroup
	handles := make([]store.Store, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := router.GetStorageHandle(ctx, "center-1")
			assert.NoError(t, err)
			handles[i] = h
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), constructed.Load())
	for _, h := range handles[1:] {
		assert.Same(t, handles[0], h)
	}

	// A second tenant gets its own handle.
	h2, err := router.GetStorageHandle(ctx, "center-2")
	require.NoError(t, err)
	assert.NotSame(t, handles[0], h2)
	assert.Equal(t, int64(2), constructed.Load())
}

func TestGetStorageHandleUnknownTenant(t *testing.T) {
	var n atomic.Int64
	router := newTestRouter(t, &n)

	_, err := router.GetStorageHandle(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrUnknownTenant))
}

func TestGetStorageHandleFactoryFailure(t *testing.T) {
	registry, err := NewRegistry(testConfig())
	require.NoError(t, err)

	calls := 0
	router := NewRouter(registry, func(ctx context.Context, profile types.TenantProfile) (store.Store, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("backend down")
		}
		return memory.New(), nil
	}, nil)

	_, err = router.GetStorageHandle(context.Background(), "center-1")
	require.Error(t, err)

	// A failed construction is not memoized; the next call retries.
	_, err = router.GetStorageHandle(context.Background(), "center-1")
	assert.NoError(t, err)
}

// staticProber reports a fixed connection state per tenant.
type staticProber map[string]types.ConnectionStatus

func (p staticProber) Connect(ctx context.Context, tenantID string) (types.ConnectionState, error) {
	status, ok := p[tenantID]
	if !ok {
		return types.ConnectionState{}, errors.New("unreachable")
	}
	return types.ConnectionState{TenantID: tenantID, Status: status}, nil
}

func TestHealthCheck(t *testing.T) {
	cfg := testConfig()
	cfg.Profiles[0].RemoteToolsEnabled = true
	cfg.Profiles[0].ToolEndpoint = "http://tools.center-1.test"
	cfg.Profiles = append(cfg.Profiles, types.TenantProfile{
		ID: "center-3", Status: types.TenantOffline,
	})

	registry, err := NewRegistry(cfg)
	require.NoError(t, err)

	var n atomic.Int64
	router := NewRouter(registry, countingFactory(&n), staticProber{
		"center-1": types.StatusError, // endpoint up but not connected
	})

	results := router.HealthCheck(context.Background())

	assert.False(t, results["center-1"], "tenant with unhealthy tool endpoint is unhealthy")
	assert.True(t, results["center-2"], "storage-only tenant is healthy")
	_, checked := results["center-3"]
	assert.False(t, checked, "offline tenants are skipped")
}

// flakyProber reports a switchable connection state.
type flakyProber struct {
	mu     sync.Mutex
	status types.ConnectionStatus
}

func (p *flakyProber) set(status types.ConnectionStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = status
}

func (p *flakyProber) Connect(ctx context.Context, tenantID string) (types.ConnectionState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return types.ConnectionState{TenantID: tenantID, Status: p.status}, nil
}

func TestHealthCheckDowngradesAndRestores(t *testing.T) {
	cfg := testConfig()
	cfg.Profiles[0].RemoteToolsEnabled = true
	cfg.Profiles[0].ToolEndpoint = "http://tools.center-1.test"

	registry, err := NewRegistry(cfg)
	require.NoError(t, err)

	prober := &flakyProber{status: types.StatusError}
	var n atomic.Int64
	router := NewRouter(registry, countingFactory(&n), prober)
	ctx := context.Background()

	results := router.HealthCheck(ctx)
	assert.False(t, results["center-1"])

	p, err := registry.Profile("center-1")
	require.NoError(t, err)
	assert.Equal(t, types.TenantMaintenance, p.Status, "failing tenant is downgraded")

	// Maintenance tenants keep getting probed so they can recover.
	prober.set(types.StatusConnected)
	results = router.HealthCheck(ctx)
	assert.True(t, results["center-1"])

	p, err = registry.Profile("center-1")
	require.NoError(t, err)
	assert.Equal(t, types.TenantActive, p.Status, "recovered tenant is restored")
}
