// Package main applies the database schemas.
package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	dbcli "github.com/brandlens/backend/internal/cli/db"
)

func main() {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate database schemas",
		Long:  "Apply every database schema in order, or a single schema with --schema.",
		RunE: func(cmd *cobra.Command, args []string) error {
			databaseURL, _ := cmd.Flags().GetString("database")
			schemaFile, _ := cmd.Flags().GetString("schema")
			schemasDir, _ := cmd.Flags().GetString("schemas")

			migrateCmd, err := dbcli.NewMigrateCmd(databaseURL, schemaFile, schemasDir)
			if err != nil {
				return err
			}
			return migrateCmd.Run(context.Background())
		},
	}

	cmd.Flags().StringP("database", "d", "", "PostgreSQL connection string (or set DATABASE_URL env var)")
	cmd.Flags().String("schema", "", "Specific schema file to migrate (optional)")
	cmd.Flags().String("schemas", "", "Path to a schemas directory overriding the embedded copies (optional)")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available schemas",
		RunE: func(cmd *cobra.Command, args []string) error {
			return (&dbcli.ListCmd{Out: cmd.OutOrStdout()}).Run()
		},
	})

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
