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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"centerline/core/shared/types"
)

func testConfig() *Config {
	return &Config{
		Settings: Settings{DefaultTenantID: "center-1"},
		Profiles: []types.TenantProfile{
			{ID: "center-1", DisplayName: "Center One", Status: types.TenantActive},
			{ID: "center-2", DisplayName: "Center Two", Status: types.TenantActive},
		},
	}
}

func TestNewRegistry(t *testing.T) {
	r, err := NewRegistry(testConfig())
	require.NoError(t, err)

	p, err := r.Profile("center-2")
	require.NoError(t, err)
	assert.Equal(t, "Center Two", p.DisplayName)

	assert.Equal(t, "center-1", r.Default().ID)

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "center-1", all[0].ID, "All is ordered by id")
}

func TestNewRegistryValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"no profiles", &Config{}},
		{
			"duplicate ids",
			&Config{Profiles: []types.TenantProfile{{ID: "a"}, {ID: "a"}}},
		},
		{
			"empty id",
			&Config{Profiles: []types.TenantProfile{{ID: ""}}},
		},
		{
			"default without profile",
			&Config{
				Settings: Settings{DefaultTenantID: "ghost"},
				Profiles: []types.TenantProfile{{ID: "a"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestDefaultFallsBackToFirstProfile(t *testing.T) {
	cfg := testConfig()
	cfg.Settings.DefaultTenantID = ""

	r, err := NewRegistry(cfg)
	require.NoError(t, err)
	assert.Equal(t, "center-1", r.Default().ID)
}

func TestProfileUnknownTenant(t *testing.T) {
	r, err := NewRegistry(testConfig())
	require.NoError(t, err)

	_, err = r.Profile("nope")
	assert.True(t, errors.Is(err, ErrUnknownTenant))
}

func TestSetStatus(t *testing.T) {
	r, err := NewRegistry(testConfig())
	require.NoError(t, err)

	require.NoError(t, r.SetStatus("center-2", types.TenantMaintenance))

	p, err := r.Profile("center-2")
	require.NoError(t, err)
	assert.Equal(t, types.TenantMaintenance, p.Status)

	assert.True(t, errors.Is(r.SetStatus("nope", types.TenantOffline), ErrUnknownTenant))
}
