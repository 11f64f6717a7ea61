// Package migrations embeds the numbered schema migrations applied at
// service start.
package migrations

import "embed"

// FS holds the NNNNNN_name.up.sql and NNNNNN_name.down.sql pairs
//
//go:embed *.sql
var FS embed.FS
