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
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"centerline/core/shared/types"
)

// ConfigSource indicates where tenant configuration was loaded from.
type ConfigSource string

const (
	ConfigSourceDatabase ConfigSource = "database"
	ConfigSourceFile     ConfigSource = "config_file"
	ConfigSourceEnvVars  ConfigSource = "env_vars"
)

// Settings are the core tunables consumed alongside tenant profiles.
type Settings struct {
	DefaultTenantID string        `yaml:"default_tenant"`
	CacheTTL        time.Duration `yaml:"-"`
	HealthInterval  time.Duration `yaml:"-"`
}

// Config is the fully resolved tenant configuration.
type Config struct {
	Settings Settings
	Profiles []types.TenantProfile
}

// Loader loads tenant configuration with three-tier priority:
// Database > Config File > Env Vars.
type Loader struct {
	db         *sql.DB
	configFile string
	logger     *log.Logger
}

// LoaderOptions holds options for creating a Loader. Both DB and
// ConfigFile are optional; with neither set, env vars are the only tier.
type LoaderOptions struct {
	DB         *sql.DB
	ConfigFile string
	Logger     *log.Logger
}

// NewLoader creates a Loader.
func NewLoader(opts LoaderOptions) *Loader {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[TENANT_CONFIG] ", log.LstdFlags)
	}
	return &Loader{
		db:         opts.DB,
		configFile: opts.ConfigFile,
		logger:     logger,
	}
}

// Load resolves tenant profiles and settings from the highest-priority
// source that yields at least one profile.
func (l *Loader) Load(ctx context.Context) (*Config, ConfigSource, error) {
	settings := l.loadSettings()

	if l.db != nil {
		profiles, err := l.loadFromDatabase(ctx)
		if err == nil && len(profiles) > 0 {
			l.logger.Printf("Loaded %d tenant profiles from database", len(profiles))
			return &Config{Settings: settings, Profiles: profiles}, ConfigSourceDatabase, nil
		}
		if err != nil {
			l.logger.Printf("Failed to load tenant profiles from database: %v", err)
		}
	}

	if l.configFile != "" {
		cfg, err := l.loadFromFile()
		if err == nil && len(cfg.Profiles) > 0 {
			if cfg.Settings.DefaultTenantID != "" {
				settings.DefaultTenantID = cfg.Settings.DefaultTenantID
			}
			if cfg.Settings.CacheTTL > 0 {
				settings.CacheTTL = cfg.Settings.CacheTTL
			}
			if cfg.Settings.HealthInterval > 0 {
				settings.HealthInterval = cfg.Settings.HealthInterval
			}
			l.logger.Printf("Loaded %d tenant profiles from config file %s", len(cfg.Profiles), l.configFile)
			return &Config{Settings: settings, Profiles: cfg.Profiles}, ConfigSourceFile, nil
		}
		if err != nil {
			l.logger.Printf("Failed to load tenant profiles from config file: %v", err)
		}
	}

	profiles := l.loadFromEnvVars()
	if len(profiles) > 0 {
		l.logger.Printf("Loaded %d tenant profiles from environment variables", len(profiles))
		return &Config{Settings: settings, Profiles: profiles}, ConfigSourceEnvVars, nil
	}

	return nil, "", fmt.Errorf("no tenant configuration found in any source")
}

// loadSettings reads the env-var tier of the core settings. Higher tiers
// override individual values when present.
func (l *Loader) loadSettings() Settings {
	s := Settings{
		DefaultTenantID: os.Getenv("CENTERLINE_DEFAULT_TENANT"),
	}
	if v := os.Getenv("CENTERLINE_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			s.CacheTTL = d
		} else {
			l.logger.Printf("Invalid CENTERLINE_CACHE_TTL %q: %v", v, err)
		}
	}
	if v := os.Getenv("CENTERLINE_HEALTH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			s.HealthInterval = d
		} else {
			l.logger.Printf("Invalid CENTERLINE_HEALTH_INTERVAL %q: %v", v, err)
		}
	}
	return s
}

// loadFromDatabase reads tenant profiles from the tenant_profiles table.
func (l *Loader) loadFromDatabase(ctx context.Context) ([]types.TenantProfile, error) {
	query := `
		SELECT
			id,
			display_name,
			storage_ref,
			tool_endpoint,
			remote_tools_enabled,
			fallback_enabled,
			dedup_tool_calls,
			max_turns_per_day,
			max_tokens_per_month,
			status
		FROM tenant_profiles
		WHERE status != 'offline'
		ORDER BY id
	`

	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var profiles []types.TenantProfile
	for rows.Next() {
		var p types.TenantProfile
		var endpoint sql.NullString
		var status string

		err := rows.Scan(
			&p.ID,
			&p.DisplayName,
			&p.StorageRef,
			&endpoint,
			&p.RemoteToolsEnabled,
			&p.FallbackEnabled,
			&p.DedupToolCalls,
			&p.MaxTurnsPerDay,
			&p.MaxTokensPerMonth,
			&status,
		)
		if err != nil {
			l.logger.Printf("Error scanning tenant profile: %v", err)
			continue
		}

		if endpoint.Valid {
			p.ToolEndpoint = endpoint.String
		}
		p.Status = types.TenantStatus(status)
		profiles = append(profiles, p)
	}

	return profiles, rows.Err()
}

// fileConfig is the YAML shape of the config file tier.
type fileConfig struct {
	DefaultTenant         string                `yaml:"default_tenant"`
	CacheTTLSeconds       int                   `yaml:"cache_ttl_seconds"`
	HealthIntervalSeconds int                   `yaml:"health_interval_seconds"`
	Tenants               []types.TenantProfile `yaml:"tenants"`
}

func (l *Loader) loadFromFile() (*Config, error) {
	data, err := os.ReadFile(l.configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	for i := range fc.Tenants {
		if fc.Tenants[i].Status == "" {
			fc.Tenants[i].Status = types.TenantActive
		}
	}

	cfg := &Config{
		Settings: Settings{
			DefaultTenantID: fc.DefaultTenant,
			CacheTTL:        time.Duration(fc.CacheTTLSeconds) * time.Second,
			HealthInterval:  time.Duration(fc.HealthIntervalSeconds) * time.Second,
		},
		Profiles: fc.Tenants,
	}
	return cfg, nil
}

// loadFromEnvVars builds a single tenant profile from environment
// variables. This tier exists so a bare container can come up with one
// default tenant and no config file.
func (l *Loader) loadFromEnvVars() []types.TenantProfile {
	id := os.Getenv("CENTERLINE_TENANT_ID")
	if id == "" {
		return nil
	}

	name := os.Getenv("CENTERLINE_TENANT_NAME")
	if name == "" {
		name = id
	}

	p := types.TenantProfile{
		ID:                 id,
		DisplayName:        name,
		StorageRef:         os.Getenv("CENTERLINE_TENANT_STORAGE"),
		ToolEndpoint:       os.Getenv("CENTERLINE_TENANT_TOOL_ENDPOINT"),
		RemoteToolsEnabled: os.Getenv("CENTERLINE_TENANT_TOOL_ENDPOINT") != "",
		FallbackEnabled:    true,
		Status:             types.TenantActive,
	}
	return []types.TenantProfile{p}
}
