// Package migrations embeds the SQL schema migrations.
package migrations

import "embed"

// Files holds the up and down migrations, applied by database.RunMigrations.
//
//go:embed *.sql
var Files embed.FS
