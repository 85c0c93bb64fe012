// Package migrations embeds the SQL schema applied by db.Migrator.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
