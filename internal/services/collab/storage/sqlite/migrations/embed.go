package migrations

import "embed"

// FS contains embedded SQLite migrations for collab storage.
//
//go:embed *.sql
var FS embed.FS
