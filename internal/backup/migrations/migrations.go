// Package migrations embeds the backup store schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
