// Package migrations embeds the SQL schema migrations for the local sqlite
// database and the relay's postgres database.
package migrations

import "embed"

//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS
