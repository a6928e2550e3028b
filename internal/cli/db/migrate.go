package db

import (
	"context"
	"fmt"
	"os"
)

// MigrateCmd handles database schema migration.
type MigrateCmd struct {
	DatabaseURL string
	SchemaFile  string
	SchemasDir  string
}

// NewMigrateCmd validates the migration options. An empty databaseURL
// falls back to DATABASE_URL.
func NewMigrateCmd(databaseURL, schemaFile, schemasDir string) (*MigrateCmd, error) {
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		return nil, fmt.Errorf("no database URL provided (use --database flag or DATABASE_URL env var)")
	}
	return &MigrateCmd{
		DatabaseURL: databaseURL,
		SchemaFile:  schemaFile,
		SchemasDir:  schemasDir,
	}, nil
}

// Run applies one schema when SchemaFile is set and every schema otherwise.
// The schemas are idempotent, so re-running is safe.
func (c *MigrateCmd) Run(ctx context.Context) error {
	client, err := New(ctx, c.DatabaseURL, c.SchemasDir)
	if err != nil {
		return err
	}
	defer client.Close(ctx)

	fmt.Println("✅ Connected to database")
	fmt.Println()

	if c.SchemaFile != "" {
		if err := client.ValidateSchema(c.SchemaFile); err != nil {
			return err
		}
		return c.migrateSchema(ctx, client, c.SchemaFile)
	}

	fmt.Printf("📦 Migrating %d schemas...\n", len(SchemaList))
	for _, schema := range SchemaList {
		if err := c.migrateSchema(ctx, client, schema); err != nil {
			return err
		}
	}

	fmt.Println()
	fmt.Println("✅ Migration complete")
	return nil
}

func (c *MigrateCmd) migrateSchema(ctx context.Context, client *Client, schema string) error {
	fmt.Printf("📦 %s ... ", schema)
	if err := client.Migrate(ctx, schema); err != nil {
		fmt.Printf("❌\n   Error: %v\n", err)
		return fmt.Errorf("failed to migrate %s: %w", schema, err)
	}
	fmt.Println("✅")
	return nil
}
