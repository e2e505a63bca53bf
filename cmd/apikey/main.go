// Command apikey mints an API key for a tenant. Development and operations
// utility, not a production surface: the raw key is printed once and only its
// hash is stored.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/costwarden/costwarden/internal/application/auth"
	"github.com/costwarden/costwarden/internal/config"
	"github.com/costwarden/costwarden/internal/domain"
	"github.com/costwarden/costwarden/internal/env"
	"github.com/costwarden/costwarden/internal/infrastructure/persistence/postgres"
)

func main() {
	tenant := flag.String("tenant", "", "Tenant UUID the key belongs to (required)")
	role := flag.String("role", string(domain.APIKeyRoleMember), "Key role: member or admin")
	flag.Parse()

	tenantID, err := uuid.Parse(*tenant)
	if err != nil {
		flag.Usage()
		log.Fatalf("invalid -tenant: %v", err)
	}
	keyRole := domain.APIKeyRole(*role)
	if !keyRole.Valid() {
		flag.Usage()
		log.Fatalf("invalid -role %q: must be member or admin", *role)
	}

	var dbCfg struct {
		Database config.DatabaseConfig
	}
	if err := env.Load(&dbCfg); err != nil {
		log.Fatalf("failed to load database config: %v", err)
	}
	if err := dbCfg.Database.Validate(); err != nil {
		log.Fatalf("invalid database config: %v", err)
	}

	ctx := context.Background()

	store, err := postgres.NewStoreWithConfig(ctx, postgres.DBConfig{
		DSN:             dbCfg.Database.ConnectionString(),
		MaxOpenConns:    dbCfg.Database.MaxOpenConns,
		MaxIdleConns:    dbCfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(dbCfg.Database.ConnMaxLifetime) * time.Second,
		ConnMaxIdleTime: time.Duration(dbCfg.Database.ConnMaxIdleTime) * time.Second,
	})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("failed to close store: %v", err)
		}
	}()

	rawKey, key, err := auth.CreateAPIKey(ctx, store, tenantID, keyRole)
	if err != nil {
		log.Fatalf("failed to create API key: %v", err)
	}

	fmt.Println("\nAPI key created")
	fmt.Println("----------------------------------------")
	fmt.Printf("Key ID: %s\n", key.ID)
	fmt.Printf("Tenant: %s\n", key.TenantID)
	fmt.Printf("Role:   %s\n", key.Role)
	fmt.Println("----------------------------------------")
	fmt.Printf("\nAPI Key: %s\n\n", rawKey)
	fmt.Println("IMPORTANT: save this key now, it will not be shown again.")
	fmt.Println("----------------------------------------")
	fmt.Println("Usage example:")
	fmt.Printf("  curl -H \"Authorization: Bearer %s\" http://localhost:8080/v1/jobs\n", rawKey)
}
