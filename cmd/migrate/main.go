package main

import (
	"context"
	"fmt"
	"log"
	"net/url"

	"github.com/daeun-ops/promql-assistant-cli/internal/config"
	"github.com/daeun-ops/promql-assistant-cli/internal/history"
)

func main() {
	cfg, err := config.NewDefaultLoader().Load(context.Background())
	if err != nil {
		log.Fatalf("Configuration failed: %v", err)
	}
	h := cfg.History

	fmt.Println("=== Running History Migrations ===")
	fmt.Printf("Connecting to database: %s@%s:%s/%s\n", h.Username, h.Host, h.Port, h.Database)

	if err := history.VerifyConnectivity(h.DSN()); err != nil {
		log.Fatalf("Database connectivity failed: %v", err)
	}
	fmt.Println("✓ Database connectivity verified")

	migrationConfig := history.MigrationConfig{
		DatabaseURL: fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
			url.QueryEscape(h.Username), url.QueryEscape(h.Password), h.Host, h.Port, h.Database, h.SSLMode),
		MigrationsPath: "./migrations",
	}

	if err := history.RunMigrations(migrationConfig); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	fmt.Println("✓ History migrations completed successfully!")
}
