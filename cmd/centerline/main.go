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

// Command centerline runs the orchestration core with its HTTP façade.
//
// Configuration comes from environment variables:
//
//	PORT                         HTTP listen port (default 8080)
//	CENTERLINE_DB_URL            optional SQL DSN for the tenant config DB tier
//	CENTERLINE_CONFIG_FILE       optional YAML tenant config file
//	CENTERLINE_MONGODB_URI       optional MongoDB URI for conversation storage
//	CENTERLINE_REDIS_URL         optional Redis URL for the tool rate limiter
//	OPENAI_API_KEY               inference provider credentials
//	OPENAI_BASE_URL              optional OpenAI-compatible endpoint override
//	OPENAI_MODEL                 optional model override
package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"centerline/core/httpapi"
	"centerline/core/llm/openai"
	"centerline/core/orchestrator"
	"centerline/core/shared/types"
	"centerline/core/store"
	"centerline/core/store/memory"
	"centerline/core/store/mongo"
	"centerline/core/tenants"
	"centerline/core/toolbridge/cache"
	"centerline/core/toolbridge/fallback"
	"centerline/core/toolbridge/manager"
	"centerline/core/toolbridge/ratelimit"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadTenantConfig(ctx)
	if err != nil {
		log.Fatalf("Failed to load tenant configuration: %v", err)
	}

	registry, err := tenants.NewRegistry(cfg)
	if err != nil {
		log.Fatalf("Failed to build tenant registry: %v", err)
	}

	discoveryCache := cache.New(cfg.Settings.CacheTTL)
	discoveryCache.StartSweep(ctx, cache.SweepInterval)

	var limiter *ratelimit.Limiter
	if redisURL := os.Getenv("CENTERLINE_REDIS_URL"); redisURL != "" {
		limiter, err = ratelimit.New(redisURL, 0)
		if err != nil {
			log.Fatalf("Failed to create rate limiter: %v", err)
		}
		defer limiter.Close()
	}

	mgr := manager.New(manager.Options{
		Profiles:       registry,
		Cache:          discoveryCache,
		Limiter:        limiter,
		HealthInterval: cfg.Settings.HealthInterval,
		CacheTTL:       cfg.Settings.CacheTTL,
	})
	defer mgr.Shutdown()

	router := tenants.NewRouter(registry, storeFactory(), mgr)
	defer router.CloseStores(context.Background())

	provider, err := openai.NewProvider(openai.Config{
		APIKey:  os.Getenv("OPENAI_API_KEY"),
		BaseURL: os.Getenv("OPENAI_BASE_URL"),
		Model:   os.Getenv("OPENAI_MODEL"),
	})
	if err != nil {
		log.Fatalf("Failed to create inference provider: %v", err)
	}

	orch := orchestrator.New(orchestrator.Options{
		Router:   router,
		Bridge:   mgr,
		Fallback: fallback.New(nil),
		Provider: provider,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      httpapi.NewServer(orch).Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Centerline core listening on port %s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}

// loadTenantConfig wires the three-tier loader, opening the SQL database
// tier when a DSN is configured.
func loadTenantConfig(ctx context.Context) (*tenants.Config, error) {
	var db *sql.DB
	if dsn := os.Getenv("CENTERLINE_DB_URL"); dsn != "" {
		driver := "postgres"
		if strings.HasPrefix(dsn, "mysql://") {
			driver = "mysql"
			dsn = strings.TrimPrefix(dsn, "mysql://")
		}

		var err error
		db, err = sql.Open(driver, dsn)
		if err != nil {
			return nil, err
		}
	}

	loader := tenants.NewLoader(tenants.LoaderOptions{
		DB:         db,
		ConfigFile: os.Getenv("CENTERLINE_CONFIG_FILE"),
	})

	cfg, source, err := loader.Load(ctx)
	if err != nil {
		return nil, err
	}
	log.Printf("Tenant configuration loaded from %s (%d tenants)", source, len(cfg.Profiles))
	return cfg, nil
}

// storeFactory picks the conversation store backend. With a MongoDB URI
// each tenant gets its own database named by its storage reference;
// without one an in-memory store serves local development.
func storeFactory() tenants.StoreFactory {
	uri := os.Getenv("CENTERLINE_MONGODB_URI")
	if uri == "" {
		log.Println("CENTERLINE_MONGODB_URI not set, using in-memory conversation store")
		return func(ctx context.Context, profile types.TenantProfile) (store.Store, error) {
			return memory.New(), nil
		}
	}

	return func(ctx context.Context, profile types.TenantProfile) (store.Store, error) {
		dbName := profile.StorageRef
		if dbName == "" {
			dbName = "centerline_" + profile.ID
		}
		return mongo.Connect(ctx, uri, dbName)
	}
}
