// Package migrations embeds the SQL schema migrations applied by the
// server on startup, before it begins listening.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
