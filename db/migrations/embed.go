// Package migrations embeds the goose SQL migrations, one directory per dialect.
package migrations

import "embed"

// FS holds postgres/, mysql/ and sqlite3/ migration sets.
//
//go:embed postgres/*.sql mysql/*.sql sqlite3/*.sql
var FS embed.FS
