// Package migrations embeds the SQL schema migrations for the SQLite backend.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
