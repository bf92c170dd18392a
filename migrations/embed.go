// Package migrations embeds the fleet registry schema into the binary.
//
// Files sit at the root of FS, so it can be handed to database.Migrate as is.
package migrations

import "embed"

// FS holds the .sql migration files.
//
//go:embed *.sql
var FS embed.FS
