package db

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"

	"github.com/jackc/pgx/v5"
)

// Client applies schema files over a single connection.
type Client struct {
	conn    *pgx.Conn
	schemas fs.FS
}

// New connects to databaseURL. Schemas are read from schemasDir when set,
// otherwise from the copies compiled into the binary.
func New(ctx context.Context, databaseURL, schemasDir string) (*Client, error) {
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	var schemas fs.FS
	if schemasDir != "" {
		schemas = os.DirFS(schemasDir)
	} else {
		schemas, err = fs.Sub(embedded, "schemas")
		if err != nil {
			conn.Close(ctx)
			return nil, err
		}
	}

	return &Client{conn: conn, schemas: schemas}, nil
}

// Close closes the database connection.
func (c *Client) Close(ctx context.Context) error {
	if c.conn != nil {
		return c.conn.Close(ctx)
	}
	return nil
}

// Migrate applies a single schema file to the database.
func (c *Client) Migrate(ctx context.Context, schemaFile string) error {
	sqlBytes, err := fs.ReadFile(c.schemas, path.Clean(schemaFile))
	if err != nil {
		return fmt.Errorf("read schema file: %w", err)
	}
	if _, err := c.conn.Exec(ctx, string(sqlBytes)); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// MigrateAll applies all schemas to the database.
func (c *Client) MigrateAll(ctx context.Context) error {
	for _, schema := range SchemaList {
		if err := c.Migrate(ctx, schema); err != nil {
			return fmt.Errorf("migrate %s: %w", schema, err)
		}
	}
	return nil
}

// ValidateSchema checks if a schema file exists.
func (c *Client) ValidateSchema(schema string) error {
	if _, err := fs.Stat(c.schemas, path.Clean(schema)); err != nil {
		return fmt.Errorf("schema file not found: %s", schema)
	}
	return nil
}
