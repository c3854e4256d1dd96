// Package migrations embeds the schema migrations for every supported driver.
package migrations

import "embed"

// FS holds one directory per database driver: postgres/ and sqlite/.
//
//go:embed postgres/*.sql sqlite/*.sql
var FS embed.FS
