// Package migrations embeds the chart schema so the server and tests can
// migrate a tenant without a migrations directory on disk.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
