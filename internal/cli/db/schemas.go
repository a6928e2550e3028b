package db

import "embed"

//go:embed schemas/*.sql
var embedded embed.FS

// SchemaList contains all database schemas in order.
var SchemaList = []string{
	"schema_01_sync_jobs.sql",
	"schema_02_scrunch.sql",
	"schema_03_clients.sql",
	"schema_04_ga4.sql",
	"schema_05_agency_analytics.sql",
	"schema_06_audit_config.sql",
}
