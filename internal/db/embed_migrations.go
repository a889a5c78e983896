package db

import "embed"

// MigrationFS holds the schema migrations applied by internal/db/migrate and cmd/migrate.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
