// Package migrations embeds the service schema and seed SQL so the
// migrate binary carries everything it needs.
package migrations

import "embed"

//go:embed sql/*.sql seeds/*.sql
var FS embed.FS
